package services

import (
	"context"
	"testing"

	"github.com/selfscribe/selfscribe/internal/audio"
	"github.com/selfscribe/selfscribe/internal/utils"
)

func TestEnrollmentCompleteMeasuresDuration(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	repo := &fakeEnrollmentRepo{}
	svc := NewEnrollmentService(repo, store)

	// Two seconds of 16kHz mono 16-bit PCM.
	wav := audio.Encode(audio.Info{SampleRate: 16000, Channels: 1, BitsPerSample: 16}, make([]byte, 2*16000*2))

	e, err := svc.Complete(context.Background(), "u1", wav, "my voice is my passport", nil)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if e.DurationMS != 2000 {
		t.Fatalf("DurationMS = %d, want measured 2000", e.DurationMS)
	}
	if !e.Active {
		t.Fatal("new enrollment must be active")
	}
	if e.PhraseText == nil || *e.PhraseText != "my voice is my passport" {
		t.Fatalf("phrase = %v", e.PhraseText)
	}
	if _, err := store.Fetch(context.Background(), e.AudioRef); err != nil {
		t.Fatalf("stored audio not found: %v", err)
	}
}

func TestEnrollmentCompleteRejectsNonWAV(t *testing.T) {
	t.Parallel()

	svc := NewEnrollmentService(&fakeEnrollmentRepo{}, newFakeStore())
	if _, err := svc.Complete(context.Background(), "u1", []byte("mp3 junk"), "", nil); !utils.IsCode(err, utils.CodeInvalidArgument) {
		t.Fatalf("err = %v, want INVALID_ARGUMENT", err)
	}
}

func TestEnrollmentResetRequiresNewAnchor(t *testing.T) {
	t.Parallel()

	f := newIngestFixture()
	enroll(t, f, "u1", 3000)
	esvc := NewEnrollmentService(f.enrolls, f.store)

	if err := esvc.Reset(context.Background(), "u1"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if _, err := esvc.Latest(context.Background(), "u1"); !utils.IsCode(err, utils.CodeNotFound) {
		t.Fatalf("err = %v, want NOT_FOUND after reset", err)
	}

	// New chunks can no longer anchor on the deactivated enrollment.
	_, err := f.svc.SubmitChunk(context.Background(), "u1", SubmitChunkInput{WAV: testWAV(t)})
	if !utils.IsCode(err, utils.CodeInvalidArgument) {
		t.Fatalf("err = %v, want INVALID_ARGUMENT", err)
	}
}
