package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/selfscribe/selfscribe/internal/models"
	"github.com/selfscribe/selfscribe/internal/providers/stt"
	"github.com/selfscribe/selfscribe/internal/services"
	"github.com/sirupsen/logrus"
)

type fakeIngestService struct {
	outcome  services.CallbackOutcome
	err      error
	received *stt.CallbackPayload
}

func (f *fakeIngestService) SubmitChunk(_ context.Context, _ string, _ services.SubmitChunkInput) (*models.Chunk, error) {
	return nil, nil
}

func (f *fakeIngestService) HandleCallback(_ context.Context, p stt.CallbackPayload) (services.CallbackOutcome, error) {
	f.received = &p
	return f.outcome, f.err
}

func (f *fakeIngestService) GetChunk(_ context.Context, _, _ string) (*models.Chunk, []models.Segment, *models.Location, error) {
	return nil, nil, nil, nil
}

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func postWebhook(t *testing.T, svc services.IngestService, secret string, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logrus.New()
	h := NewWebhookHandler(svc, secret, log)

	r := gin.New()
	r.POST("/webhooks/transcription", h.Transcription)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/transcription", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set(stt.SignatureHeader, signature)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWebhookAcceptsSignedPayload(t *testing.T) {
	t.Parallel()

	svc := &fakeIngestService{outcome: services.CallbackOutcome{
		ChunkID:   "c1",
		Status:    models.ChunkSucceeded,
		KeptCount: 2,
	}}

	body, _ := json.Marshal(map[string]any{
		"id":              "job-1",
		"status":          "completed",
		"custom_metadata": map[string]string{"owner_id": "u1", "chunk_id": "c1", "enrollment_ms": "3000"},
	})

	w := postWebhook(t, svc, "secret", body, sign(body, "secret"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if svc.received == nil || svc.received.JobID != "job-1" {
		t.Fatalf("service saw payload %+v", svc.received)
	}

	var resp services.CallbackOutcome
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ChunkID != "c1" || resp.Status != models.ChunkSucceeded || resp.KeptCount != 2 {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	t.Parallel()

	svc := &fakeIngestService{}
	body := []byte(`{"id":"job-1","status":"completed"}`)

	w := postWebhook(t, svc, "secret", body, "deadbeef")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if svc.received != nil {
		t.Fatal("unsigned payload must not reach the service")
	}

	w = postWebhook(t, svc, "secret", body, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("missing signature status = %d, want 401", w.Code)
	}
}

func TestWebhookRejectsMalformedBody(t *testing.T) {
	t.Parallel()

	svc := &fakeIngestService{}
	body := []byte("{not json")

	w := postWebhook(t, svc, "secret", body, sign(body, "secret"))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestWebhookAcknowledgesDuplicates(t *testing.T) {
	t.Parallel()

	svc := &fakeIngestService{outcome: services.CallbackOutcome{
		ChunkID:   "c1",
		Status:    models.ChunkSucceeded,
		Duplicate: true,
	}}
	body := []byte(`{"id":"job-1","status":"completed"}`)

	w := postWebhook(t, svc, "secret", body, sign(body, "secret"))
	if w.Code != http.StatusOK {
		t.Fatalf("duplicate delivery status = %d, want 200", w.Code)
	}
}
