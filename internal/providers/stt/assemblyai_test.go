package stt

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testClient(t *testing.T, handler http.Handler) (*AssemblyAI, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &AssemblyAI{
		APIKey:     "test-key",
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
		MaxElapsed: 2 * time.Second,
	}, srv
}

func TestUpload(t *testing.T) {
	t.Parallel()

	a, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/upload" {
			t.Errorf("path = %s, want /upload", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "test-key" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/octet-stream" {
			t.Errorf("Content-Type = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]string{"upload_url": "https://cdn.example/abc"})
	}))

	url, err := a.Upload(context.Background(), []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if url != "https://cdn.example/abc" {
		t.Fatalf("url = %q", url)
	}
}

func TestSubmitDiarizedRequestsSpeakerLabels(t *testing.T) {
	t.Parallel()

	var captured map[string]any
	a, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transcript" {
			t.Errorf("path = %s, want /transcript", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode body: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "job-42", "status": "queued"})
	}))

	jobID, err := a.SubmitDiarized(context.Background(), SubmitRequest{
		AudioURL:   "https://cdn.example/abc",
		WebhookURL: "https://api.example/webhooks/transcription",
		Metadata:   Metadata{OwnerID: "u1", ChunkID: "c1", EnrollmentMS: 3000},
	})
	if err != nil {
		t.Fatalf("SubmitDiarized: %v", err)
	}
	if jobID != "job-42" {
		t.Fatalf("jobID = %q", jobID)
	}

	if captured["speaker_labels"] != true {
		t.Error("speaker_labels not requested")
	}
	if captured["webhook_url"] != "https://api.example/webhooks/transcription" {
		t.Errorf("webhook_url = %v", captured["webhook_url"])
	}
	meta, _ := captured["custom_metadata"].(map[string]any)
	if meta["enrollment_ms"] != "3000" {
		t.Errorf("custom_metadata = %v, want string enrollment_ms 3000", meta)
	}
}

func TestSubmitRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	a, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "try later", http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "job-1", "status": "queued"})
	}))

	jobID, err := a.SubmitDiarized(context.Background(), SubmitRequest{
		AudioURL: "u",
		Metadata: Metadata{OwnerID: "u1", ChunkID: "c1", EnrollmentMS: 3000},
	})
	if err != nil {
		t.Fatalf("SubmitDiarized: %v", err)
	}
	if jobID != "job-1" {
		t.Fatalf("jobID = %q", jobID)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
}

func TestSubmitDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	a, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad audio_url", http.StatusBadRequest)
	}))

	_, err := a.SubmitDiarized(context.Background(), SubmitRequest{
		AudioURL: "u",
		Metadata: Metadata{OwnerID: "u1", ChunkID: "c1", EnrollmentMS: 3000},
	})
	if err == nil {
		t.Fatal("want error for 400 response")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d, 4xx must not be retried", got)
	}
}

func TestParseMetadata(t *testing.T) {
	t.Parallel()

	valid := map[string]string{"owner_id": "u1", "chunk_id": "c1", "enrollment_ms": "3000"}
	m, err := ParseMetadata(valid)
	if err != nil {
		t.Fatalf("ParseMetadata(valid): %v", err)
	}
	if m.OwnerID != "u1" || m.ChunkID != "c1" || m.EnrollmentMS != 3000 {
		t.Fatalf("m = %+v", m)
	}

	bad := []map[string]string{
		{},
		{"owner_id": "u1", "enrollment_ms": "3000"},
		{"chunk_id": "c1", "enrollment_ms": "3000"},
		{"owner_id": "u1", "chunk_id": "c1"},
		{"owner_id": "u1", "chunk_id": "c1", "enrollment_ms": "abc"},
		{"owner_id": "u1", "chunk_id": "c1", "enrollment_ms": "0"},
		{"owner_id": "u1", "chunk_id": "c1", "enrollment_ms": "-5"},
	}
	for i, raw := range bad {
		if _, err := ParseMetadata(raw); err == nil {
			t.Errorf("case %d: ParseMetadata(%v) accepted invalid metadata", i, raw)
		}
	}
}

func TestVerifySignature(t *testing.T) {
	t.Parallel()

	secret := "shh"
	body := []byte(`{"id":"job-1","status":"completed"}`)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))

	if !VerifySignature(sig, body, secret) {
		t.Fatal("valid signature rejected")
	}
	if VerifySignature(sig, []byte("tampered"), secret) {
		t.Fatal("tampered body accepted")
	}
	if VerifySignature("deadbeef", body, secret) {
		t.Fatal("wrong signature accepted")
	}
	if VerifySignature("", body, secret) {
		t.Fatal("empty signature accepted")
	}
}

func TestRoundTripMetadataStrings(t *testing.T) {
	t.Parallel()

	in := Metadata{OwnerID: "owner", ChunkID: "chunk", EnrollmentMS: 12345}
	out, err := ParseMetadata(in.Strings())
	if err != nil {
		t.Fatalf("ParseMetadata: %v", err)
	}
	if out != in {
		t.Fatalf("round trip %+v != %+v", out, in)
	}
}
