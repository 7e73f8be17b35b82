package stt

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

const defaultBaseURL = "https://api.assemblyai.com/v2"

// SignatureHeader carries the provider's HMAC-SHA256 of the raw webhook body.
const SignatureHeader = "X-Assemblyai-Signature"

// AssemblyAI submits diarization jobs over the provider's HTTP API.
// Transient failures (network, 5xx) are retried with exponential backoff
// up to MaxElapsed; 4xx responses are permanent and fail immediately.
type AssemblyAI struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	MaxElapsed time.Duration
	Logger     *logrus.Logger
}

func NewAssemblyAI(apiKey string, log *logrus.Logger) *AssemblyAI {
	return &AssemblyAI{
		APIKey:     apiKey,
		BaseURL:    defaultBaseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		MaxElapsed: 2 * time.Minute,
		Logger:     log,
	}
}

type uploadResponse struct {
	UploadURL string `json:"upload_url"`
}

func (a *AssemblyAI) Upload(ctx context.Context, audio []byte) (string, error) {
	var out uploadResponse
	err := a.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/upload", bytes.NewReader(audio))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", a.APIKey)
		req.Header.Set("Content-Type", "application/octet-stream")
		return req, nil
	}, &out)
	if err != nil {
		return "", err
	}
	if out.UploadURL == "" {
		return "", fmt.Errorf("stt: upload response missing upload_url")
	}
	return out.UploadURL, nil
}

type submitPayload struct {
	AudioURL       string            `json:"audio_url"`
	SpeakerLabels  bool              `json:"speaker_labels"`
	FormatText     bool              `json:"format_text"`
	WebhookURL     string            `json:"webhook_url"`
	CustomMetadata map[string]string `json:"custom_metadata"`
}

type submitResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (a *AssemblyAI) SubmitDiarized(ctx context.Context, sr SubmitRequest) (string, error) {
	body, err := json.Marshal(submitPayload{
		AudioURL:       sr.AudioURL,
		SpeakerLabels:  true,
		FormatText:     false,
		WebhookURL:     sr.WebhookURL,
		CustomMetadata: sr.Metadata.Strings(),
	})
	if err != nil {
		return "", err
	}

	var out submitResponse
	err = a.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/transcript", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", a.APIKey)
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, &out)
	if err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("stt: submit response missing job id")
	}

	if a.Logger != nil {
		a.Logger.WithFields(logrus.Fields{
			"job_id":   out.ID,
			"status":   out.Status,
			"chunk_id": sr.Metadata.ChunkID,
		}).Info("transcription job submitted")
	}
	return out.ID, nil
}

// doWithRetry builds a fresh request per attempt (bodies are consumed),
// decoding the JSON response into target on success.
func (a *AssemblyAI) doWithRetry(ctx context.Context, build func() (*http.Request, error), target any) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = a.MaxElapsed

	op := func() error {
		req, err := build()
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := a.HTTPClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("stt: provider %d: %s", resp.StatusCode, body)
		case resp.StatusCode >= 400:
			return backoff.Permanent(fmt.Errorf("stt: provider rejected request (%d): %s", resp.StatusCode, body))
		}
		if err := json.Unmarshal(body, target); err != nil {
			return fmt.Errorf("stt: decode response: %w", err)
		}
		return nil
	}

	return backoff.Retry(op, backoff.WithContext(bo, ctx))
}

// VerifySignature checks the webhook body's HMAC-SHA256 against the
// shared secret, in constant time.
func VerifySignature(signature string, body []byte, secret string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}
