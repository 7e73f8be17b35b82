// Package stt is the boundary to the external diarizing transcription
// provider. The provider is a black box: audio goes in with opaque
// metadata, and a webhook callback later returns word-level speaker
// labels plus that same metadata verbatim.
package stt

import (
	"context"
	"fmt"
	"strconv"

	"github.com/selfscribe/selfscribe/internal/mapper"
)

// Metadata is the only channel linking an asynchronous callback back to
// the originating chunk. The provider transmits values as strings; they
// are parsed back fail-closed on receipt.
type Metadata struct {
	OwnerID      string
	ChunkID      string
	EnrollmentMS int64
}

func (m Metadata) Strings() map[string]string {
	return map[string]string{
		"owner_id":      m.OwnerID,
		"chunk_id":      m.ChunkID,
		"enrollment_ms": strconv.FormatInt(m.EnrollmentMS, 10),
	}
}

// ParseMetadata validates an echoed metadata map. Missing keys or a
// non-numeric enrollment_ms reject the whole callback.
func ParseMetadata(raw map[string]string) (Metadata, error) {
	m := Metadata{
		OwnerID: raw["owner_id"],
		ChunkID: raw["chunk_id"],
	}
	if m.OwnerID == "" || m.ChunkID == "" {
		return Metadata{}, fmt.Errorf("stt: metadata missing owner_id or chunk_id")
	}
	enrollStr, ok := raw["enrollment_ms"]
	if !ok {
		return Metadata{}, fmt.Errorf("stt: metadata missing enrollment_ms")
	}
	enroll, err := strconv.ParseInt(enrollStr, 10, 64)
	if err != nil || enroll <= 0 {
		return Metadata{}, fmt.Errorf("stt: metadata enrollment_ms %q is not a positive integer", enrollStr)
	}
	m.EnrollmentMS = enroll
	return m, nil
}

type SubmitRequest struct {
	AudioURL   string
	Metadata   Metadata
	WebhookURL string
}

type Provider interface {
	// Upload stores raw audio with the provider and returns a URL usable
	// in a subsequent SubmitDiarized call.
	Upload(ctx context.Context, audio []byte) (audioURL string, err error)

	// SubmitDiarized queues a speaker-labeled transcription job. It does
	// not wait for completion; the provider calls the webhook later.
	SubmitDiarized(ctx context.Context, req SubmitRequest) (jobID string, err error)
}

// CallbackWord is one diarized word in a completion callback.
type CallbackWord struct {
	StartMS    int64   `json:"start_ms"`
	EndMS      int64   `json:"end_ms"`
	Speaker    string  `json:"speaker_label"`
	Confidence float64 `json:"confidence"`
	Text       string  `json:"text"`
}

// CallbackPayload is the provider's completion notification.
type CallbackPayload struct {
	JobID    string            `json:"id"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"custom_metadata"`
	Words    []CallbackWord    `json:"words"`
}

// Completed reports whether the provider finished the job successfully.
// Anything else (error, expired, unknown) must not reach the mapper.
func (p CallbackPayload) Completed() bool { return p.Status == "completed" }

// MapperWords converts callback words to the mapper's input type.
func (p CallbackPayload) MapperWords() []mapper.Word {
	words := make([]mapper.Word, len(p.Words))
	for i, w := range p.Words {
		words[i] = mapper.Word{
			StartMS:    w.StartMS,
			EndMS:      w.EndMS,
			Speaker:    w.Speaker,
			Confidence: w.Confidence,
			Text:       w.Text,
		}
	}
	return words
}
