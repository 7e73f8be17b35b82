package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"gorm.io/datatypes"

	"github.com/selfscribe/selfscribe/internal/audio"
	"github.com/selfscribe/selfscribe/internal/mapper"
	"github.com/selfscribe/selfscribe/internal/models"
	"github.com/selfscribe/selfscribe/internal/providers/stt"
	"github.com/selfscribe/selfscribe/internal/utils"
)

type fakeEnrollmentRepo struct {
	latest map[string]*models.Enrollment
}

func (f *fakeEnrollmentRepo) Create(_ context.Context, e *models.Enrollment) error {
	if f.latest == nil {
		f.latest = map[string]*models.Enrollment{}
	}
	f.latest[e.UserID] = e
	return nil
}

func (f *fakeEnrollmentRepo) LatestByUser(_ context.Context, userID string) (*models.Enrollment, error) {
	e, ok := f.latest[userID]
	if !ok || !e.Active {
		return nil, utils.ErrNotFound
	}
	return e, nil
}

func (f *fakeEnrollmentRepo) DeactivateByUser(_ context.Context, userID string) error {
	if e, ok := f.latest[userID]; ok {
		e.Active = false
	}
	return nil
}

type fakeChunkRepo struct {
	mu     sync.Mutex
	chunks map[string]*models.Chunk

	// segs receives segments committed by a winning Transition, mirroring
	// the single-transaction write the real repo does.
	segs          *fakeSegmentRepo
	insertErrOnce error
	// beforeTransition runs at the top of Transition; tests use it to
	// slip in a competing terminal write.
	beforeTransition func()
}

func newFakeChunkRepo(segs *fakeSegmentRepo) *fakeChunkRepo {
	return &fakeChunkRepo{chunks: map[string]*models.Chunk{}, segs: segs}
}

func (f *fakeChunkRepo) Create(_ context.Context, c *models.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *c
	f.chunks[c.ID] = &cp
	return nil
}

func (f *fakeChunkRepo) GetByID(_ context.Context, id string) (*models.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.chunks[id]
	if !ok {
		return nil, utils.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeChunkRepo) SetSubmitted(_ context.Context, id, jobID string, enrollmentMS int64, meta datatypes.JSON) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.chunks[id]
	if !ok {
		return utils.ErrNotFound
	}
	c.JobID = &jobID
	c.EnrollmentMS = enrollmentMS
	c.ProviderMeta = meta
	return nil
}

func (f *fakeChunkRepo) Transition(_ context.Context, id string, to models.ChunkStatus, reason string, segs []models.Segment) (bool, error) {
	if f.beforeTransition != nil {
		f.beforeTransition()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.chunks[id]
	if !ok || c.Status != models.ChunkPending {
		return false, nil
	}
	if len(segs) > 0 {
		if f.insertErrOnce != nil {
			err := f.insertErrOnce
			f.insertErrOnce = nil
			// Rolled back: the chunk stays pending.
			return false, err
		}
		f.segs.add(segs)
	}
	now := time.Now().UTC()
	c.Status = to
	c.Reason = reason
	c.CompletedAt = &now
	return true, nil
}

type fakeSegmentRepo struct {
	mu       sync.Mutex
	inserted []models.Segment
	inserts  int
}

func (f *fakeSegmentRepo) add(segs []models.Segment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts++
	f.inserted = append(f.inserted, segs...)
}

func (f *fakeSegmentRepo) ListByChunk(_ context.Context, chunkID string) ([]models.Segment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Segment
	for _, s := range f.inserted {
		if s.ChunkID == chunkID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSegmentRepo) GetByID(_ context.Context, id int64) (*models.Segment, error) {
	return nil, utils.ErrNotFound
}

func (f *fakeSegmentRepo) Timeline(_ context.Context, _ string, _ int64, _ int) ([]models.TimelineEntry, error) {
	return nil, nil
}

func (f *fakeSegmentRepo) Search(_ context.Context, _, _ string, _ int) ([]models.TimelineEntry, error) {
	return nil, nil
}

type fakeLocationRepo struct{}

func (fakeLocationRepo) Upsert(_ context.Context, _ *models.Location) error { return nil }
func (fakeLocationRepo) GetByChunk(_ context.Context, _ string) (*models.Location, error) {
	return nil, utils.ErrNotFound
}

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}}
}

func (f *fakeStore) Upload(_ context.Context, objectName, _ string, r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[objectName] = b
	return objectName, nil
}

func (f *fakeStore) Fetch(_ context.Context, objectName string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[objectName]
	if !ok {
		return nil, fmt.Errorf("object %s not found", objectName)
	}
	return b, nil
}

type fakeQueue struct {
	enqueued []string
	err      error
}

func (f *fakeQueue) EnqueueIngest(_ context.Context, chunkID string) error {
	if f.err != nil {
		return f.err
	}
	f.enqueued = append(f.enqueued, chunkID)
	return nil
}

type fakeCache struct {
	mu      sync.Mutex
	deleted []string
}

func (f *fakeCache) GetJSON(_ context.Context, _ string, _ any) (bool, error) { return false, nil }
func (f *fakeCache) SetJSON(_ context.Context, _ string, _ any, _ time.Duration) error {
	return nil
}
func (f *fakeCache) Del(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, keys...)
	return nil
}

func testMapperConfig() mapper.Config {
	return mapper.Config{
		PadMS:               1000,
		EnrollmentDominance: 0.8,
		SegmentGapMS:        500,
		SegmentMinMS:        0,
		SegmentMinChars:     0,
	}
}

type ingestFixture struct {
	svc      IngestService
	chunks   *fakeChunkRepo
	segments *fakeSegmentRepo
	store    *fakeStore
	queue    *fakeQueue
	cache    *fakeCache
	enrolls  *fakeEnrollmentRepo
}

func newIngestFixture() *ingestFixture {
	segments := &fakeSegmentRepo{}
	f := &ingestFixture{
		chunks:   newFakeChunkRepo(segments),
		segments: segments,
		store:    newFakeStore(),
		queue:    &fakeQueue{},
		cache:    &fakeCache{},
		enrolls:  &fakeEnrollmentRepo{},
	}
	f.svc = NewIngestService(IngestDeps{
		Chunks:      f.chunks,
		Enrollments: f.enrolls,
		Segments:    f.segments,
		Locations:   fakeLocationRepo{},
		Store:       f.store,
		Queue:       f.queue,
		Cache:       f.cache,
		MapperCfg:   testMapperConfig(),
	})
	return f
}

func testWAV(t *testing.T) []byte {
	t.Helper()
	info := audio.Info{SampleRate: 16000, Channels: 1, BitsPerSample: 16}
	return audio.Encode(info, make([]byte, 16000*2)) // one second
}

func enroll(t *testing.T, f *ingestFixture, userID string, durationMS int64) {
	t.Helper()
	err := f.enrolls.Create(context.Background(), &models.Enrollment{
		UserID:     userID,
		AudioRef:   "enrollments/" + userID + "/a.wav",
		DurationMS: durationMS,
		Active:     true,
	})
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}
}

func submit(t *testing.T, f *ingestFixture, userID string) *models.Chunk {
	t.Helper()
	c, err := f.svc.SubmitChunk(context.Background(), userID, SubmitChunkInput{WAV: testWAV(t)})
	if err != nil {
		t.Fatalf("SubmitChunk: %v", err)
	}
	return c
}

func callbackFor(c *models.Chunk, status string, words []stt.CallbackWord) stt.CallbackPayload {
	return stt.CallbackPayload{
		JobID:  "job-1",
		Status: status,
		Metadata: map[string]string{
			"owner_id":      c.OwnerID,
			"chunk_id":      c.ID,
			"enrollment_ms": strconv.FormatInt(c.EnrollmentMS, 10),
		},
		Words: words,
	}
}

// Words where SPEAKER_00 clearly owns the enrollment region (0..3000)
// and speaks twice in the chunk region starting at 4000.
func dominantWords() []stt.CallbackWord {
	return []stt.CallbackWord{
		{StartMS: 0, EndMS: 2900, Speaker: "SPEAKER_00", Confidence: 0.95, Text: "my voice sounds like this"},
		{StartMS: 4100, EndMS: 4600, Speaker: "SPEAKER_00", Confidence: 0.9, Text: "hello"},
		{StartMS: 4700, EndMS: 5200, Speaker: "SPEAKER_00", Confidence: 0.8, Text: "world"},
		{StartMS: 5900, EndMS: 6400, Speaker: "SPEAKER_01", Confidence: 0.9, Text: "someone else"},
	}
}

func TestSubmitChunkQueuesPendingChunk(t *testing.T) {
	t.Parallel()

	f := newIngestFixture()
	enroll(t, f, "u1", 3000)

	c := submit(t, f, "u1")

	if c.Status != models.ChunkPending {
		t.Fatalf("status = %s, want pending", c.Status)
	}
	if c.EnrollmentMS != 3000 {
		t.Fatalf("EnrollmentMS = %d, want snapshot 3000", c.EnrollmentMS)
	}
	if len(f.queue.enqueued) != 1 || f.queue.enqueued[0] != c.ID {
		t.Fatalf("enqueued = %v, want [%s]", f.queue.enqueued, c.ID)
	}
	if _, err := f.store.Fetch(context.Background(), c.AudioRef); err != nil {
		t.Fatalf("stored audio not found: %v", err)
	}
}

func TestSubmitChunkRequiresEnrollment(t *testing.T) {
	t.Parallel()

	f := newIngestFixture()
	_, err := f.svc.SubmitChunk(context.Background(), "nobody", SubmitChunkInput{WAV: testWAV(t)})
	if !utils.IsCode(err, utils.CodeInvalidArgument) {
		t.Fatalf("err = %v, want INVALID_ARGUMENT", err)
	}
}

func TestSubmitChunkRejectsBadAudio(t *testing.T) {
	t.Parallel()

	f := newIngestFixture()
	enroll(t, f, "u1", 3000)

	_, err := f.svc.SubmitChunk(context.Background(), "u1", SubmitChunkInput{WAV: []byte("not a wav")})
	if !utils.IsCode(err, utils.CodeInvalidArgument) {
		t.Fatalf("err = %v, want INVALID_ARGUMENT", err)
	}
}

func TestSubmitChunkEnqueueFailureMarksChunkFailed(t *testing.T) {
	t.Parallel()

	f := newIngestFixture()
	enroll(t, f, "u1", 3000)
	f.queue.err = errors.New("redis down")

	_, err := f.svc.SubmitChunk(context.Background(), "u1", SubmitChunkInput{WAV: testWAV(t)})
	if !utils.IsCode(err, utils.CodeUnavailable) {
		t.Fatalf("err = %v, want UNAVAILABLE", err)
	}

	for _, c := range f.chunks.chunks {
		if c.Status != models.ChunkFailed || c.Reason != "enqueue_failed" {
			t.Fatalf("chunk = %s/%s, want failed/enqueue_failed", c.Status, c.Reason)
		}
	}
}

func TestHandleCallbackSucceededPersistsSegmentsOnce(t *testing.T) {
	t.Parallel()

	f := newIngestFixture()
	enroll(t, f, "u1", 3000)
	c := submit(t, f, "u1")

	out, err := f.svc.HandleCallback(context.Background(), callbackFor(c, "completed", dominantWords()))
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if out.Status != models.ChunkSucceeded {
		t.Fatalf("status = %s, want succeeded", out.Status)
	}
	if out.UserLabel != "SPEAKER_00" {
		t.Fatalf("user label = %q, want SPEAKER_00", out.UserLabel)
	}
	// hello+world merge (gap 100 <= 500) and the other speaker is dropped.
	if out.KeptCount != 1 {
		t.Fatalf("kept = %d, want 1", out.KeptCount)
	}
	if f.segments.inserts != 1 {
		t.Fatalf("inserts = %d, want exactly 1", f.segments.inserts)
	}
	seg := f.segments.inserted[0]
	if seg.StartMS != 100 || seg.EndMS != 1200 || seg.Text != "hello world" {
		t.Fatalf("segment = %+v, want 100..1200 %q", seg, "hello world")
	}
	if len(f.cache.deleted) == 0 {
		t.Fatal("timeline cache was not invalidated")
	}
}

func TestHandleCallbackDuplicateIsAcknowledgedNoOp(t *testing.T) {
	t.Parallel()

	f := newIngestFixture()
	enroll(t, f, "u1", 3000)
	c := submit(t, f, "u1")
	payload := callbackFor(c, "completed", dominantWords())

	if _, err := f.svc.HandleCallback(context.Background(), payload); err != nil {
		t.Fatalf("first callback: %v", err)
	}
	out, err := f.svc.HandleCallback(context.Background(), payload)
	if err != nil {
		t.Fatalf("duplicate callback: %v", err)
	}
	if !out.Duplicate {
		t.Fatal("duplicate callback not flagged")
	}
	if f.segments.inserts != 1 {
		t.Fatalf("inserts = %d, duplicate must not insert again", f.segments.inserts)
	}
}

func TestHandleCallbackSegmentWriteFailureLeavesChunkPending(t *testing.T) {
	t.Parallel()

	f := newIngestFixture()
	enroll(t, f, "u1", 3000)
	c := submit(t, f, "u1")
	payload := callbackFor(c, "completed", dominantWords())
	f.chunks.insertErrOnce = errors.New("db connection reset")

	if _, err := f.svc.HandleCallback(context.Background(), payload); !utils.IsCode(err, utils.CodeInternal) {
		t.Fatalf("err = %v, want INTERNAL", err)
	}

	// Nothing committed: the chunk must not be terminal with a missing
	// segment set, and the provider's retry must still be able to land.
	got, _ := f.chunks.GetByID(context.Background(), c.ID)
	if got.Status != models.ChunkPending {
		t.Fatalf("chunk status = %s after failed write, want pending", got.Status)
	}
	if f.segments.inserts != 0 {
		t.Fatalf("inserts = %d after failed write, want 0", f.segments.inserts)
	}

	out, err := f.svc.HandleCallback(context.Background(), payload)
	if err != nil {
		t.Fatalf("retry callback: %v", err)
	}
	if out.Duplicate {
		t.Fatal("retry after rollback must not be treated as a duplicate")
	}
	if out.Status != models.ChunkSucceeded || out.KeptCount != 1 {
		t.Fatalf("retry outcome = %s kept=%d, want succeeded kept=1", out.Status, out.KeptCount)
	}
	if f.segments.inserts != 1 || len(f.segments.inserted) != 1 {
		t.Fatalf("inserts = %d segments = %d, want exactly one committed set", f.segments.inserts, len(f.segments.inserted))
	}
}

func TestHandleCallbackLostRaceReportsStoredStatus(t *testing.T) {
	t.Parallel()

	f := newIngestFixture()
	enroll(t, f, "u1", 3000)
	c := submit(t, f, "u1")

	// A competing delivery succeeds between our pending check and our
	// transition attempt.
	f.chunks.beforeTransition = func() {
		f.chunks.mu.Lock()
		defer f.chunks.mu.Unlock()
		cur := f.chunks.chunks[c.ID]
		if cur.Status == models.ChunkPending {
			cur.Status = models.ChunkSucceeded
		}
	}

	out, err := f.svc.HandleCallback(context.Background(), callbackFor(c, "error", nil))
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if !out.Duplicate {
		t.Fatal("lost race not flagged as duplicate")
	}
	// This delivery computed failed, but the chunk actually succeeded;
	// the acknowledgement must reflect the stored outcome.
	if out.Status != models.ChunkSucceeded {
		t.Fatalf("status = %s, want the stored succeeded status", out.Status)
	}
}

func TestHandleCallbackWeakDominanceIsIndeterminate(t *testing.T) {
	t.Parallel()

	f := newIngestFixture()
	enroll(t, f, "u1", 3000)
	c := submit(t, f, "u1")

	// Enrollment region only 1000ms occupied, below 0.8*3000.
	words := []stt.CallbackWord{
		{StartMS: 0, EndMS: 1000, Speaker: "SPEAKER_00", Confidence: 0.9, Text: "short"},
		{StartMS: 4100, EndMS: 4600, Speaker: "SPEAKER_00", Confidence: 0.9, Text: "hello"},
	}
	out, err := f.svc.HandleCallback(context.Background(), callbackFor(c, "completed", words))
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if out.Status != models.ChunkIndeterminate {
		t.Fatalf("status = %s, want indeterminate", out.Status)
	}
	if out.Reason != string(mapper.ReasonWeakDominance) {
		t.Fatalf("reason = %q, want %q", out.Reason, mapper.ReasonWeakDominance)
	}
	if f.segments.inserts != 0 {
		t.Fatal("indeterminate outcome must not persist segments")
	}
}

func TestHandleCallbackProviderErrorMarksFailed(t *testing.T) {
	t.Parallel()

	f := newIngestFixture()
	enroll(t, f, "u1", 3000)
	c := submit(t, f, "u1")

	out, err := f.svc.HandleCallback(context.Background(), callbackFor(c, "error", nil))
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if out.Status != models.ChunkFailed || out.Reason != "provider_status_error" {
		t.Fatalf("outcome = %s/%s, want failed/provider_status_error", out.Status, out.Reason)
	}
}

func TestHandleCallbackRejectsUnknownChunk(t *testing.T) {
	t.Parallel()

	f := newIngestFixture()
	payload := stt.CallbackPayload{
		JobID:  "job-x",
		Status: "completed",
		Metadata: map[string]string{
			"owner_id":      "u1",
			"chunk_id":      "no-such-chunk",
			"enrollment_ms": "3000",
		},
	}
	_, err := f.svc.HandleCallback(context.Background(), payload)
	if !utils.IsCode(err, utils.CodeIntegrityMismatch) {
		t.Fatalf("err = %v, want INTEGRITY_MISMATCH", err)
	}
}

func TestHandleCallbackRejectsMismatchedMetadata(t *testing.T) {
	t.Parallel()

	f := newIngestFixture()
	enroll(t, f, "u1", 3000)
	c := submit(t, f, "u1")

	payload := callbackFor(c, "completed", dominantWords())
	payload.Metadata["owner_id"] = "intruder"

	_, err := f.svc.HandleCallback(context.Background(), payload)
	if !utils.IsCode(err, utils.CodeIntegrityMismatch) {
		t.Fatalf("err = %v, want INTEGRITY_MISMATCH", err)
	}

	got, _ := f.chunks.GetByID(context.Background(), c.ID)
	if got.Status != models.ChunkPending {
		t.Fatalf("chunk status = %s, rejected callback must not touch it", got.Status)
	}
}

func TestHandleCallbackRejectsMalformedMetadata(t *testing.T) {
	t.Parallel()

	f := newIngestFixture()
	payload := stt.CallbackPayload{
		JobID:    "job-x",
		Status:   "completed",
		Metadata: map[string]string{"owner_id": "u1"}, // chunk_id and enrollment_ms missing
	}
	_, err := f.svc.HandleCallback(context.Background(), payload)
	if !utils.IsCode(err, utils.CodeInvalidArgument) {
		t.Fatalf("err = %v, want INVALID_ARGUMENT", err)
	}
}

func TestGetChunkEnforcesOwnership(t *testing.T) {
	t.Parallel()

	f := newIngestFixture()
	enroll(t, f, "u1", 3000)
	c := submit(t, f, "u1")

	if _, _, _, err := f.svc.GetChunk(context.Background(), "u2", c.ID); !utils.IsCode(err, utils.CodeForbidden) {
		t.Fatalf("err = %v, want FORBIDDEN", err)
	}

	chunk, segs, loc, err := f.svc.GetChunk(context.Background(), "u1", c.ID)
	if err != nil {
		t.Fatalf("GetChunk: %v", err)
	}
	if chunk.ID != c.ID || len(segs) != 0 || loc != nil {
		t.Fatalf("unexpected chunk view: %+v segs=%d loc=%v", chunk, len(segs), loc)
	}
}
