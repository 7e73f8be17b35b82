package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/selfscribe/selfscribe/internal/mapper"
)

// Pipeline holds the attribution settings the mapper and the
// concatenation builder must agree on. Every value is required: the
// mapper is only deterministic if the operator set each knob knowingly,
// so nothing here falls back to a silent default.
type Pipeline struct {
	PadMS               int64
	EnrollmentDominance float64
	SegmentGapMS        int64
	SegmentMinMS        int64
	SegmentMinChars     int

	ProviderAPIKey   string
	WebhookSecret    string
	WebhookBaseURL   string
	StorageBucket    string
	IngestNumWorkers int
}

func requiredInt(key string) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, fmt.Errorf("%s environment variable is not set", key)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func requiredFloat(key string) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, fmt.Errorf("%s environment variable is not set", key)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number, got %q", key, v)
	}
	return f, nil
}

func LoadPipeline() (*Pipeline, error) {
	p := &Pipeline{}

	var err error
	if p.PadMS, err = requiredInt("PAD_MS"); err != nil {
		return nil, err
	}
	if p.EnrollmentDominance, err = requiredFloat("ENROLL_DOMINANCE"); err != nil {
		return nil, err
	}
	if p.SegmentGapMS, err = requiredInt("SEGMENT_GAP_MS"); err != nil {
		return nil, err
	}
	if p.SegmentMinMS, err = requiredInt("SEGMENT_MIN_MS"); err != nil {
		return nil, err
	}
	minChars, err := requiredInt("SEGMENT_MIN_CHARS")
	if err != nil {
		return nil, err
	}
	p.SegmentMinChars = int(minChars)

	if err := p.MapperConfig().Validate(); err != nil {
		return nil, err
	}

	p.ProviderAPIKey = os.Getenv("TRANSCRIBE_API_KEY")
	if p.ProviderAPIKey == "" {
		return nil, fmt.Errorf("TRANSCRIBE_API_KEY environment variable is not set")
	}
	p.WebhookSecret = os.Getenv("TRANSCRIBE_WEBHOOK_SECRET")
	if p.WebhookSecret == "" {
		return nil, fmt.Errorf("TRANSCRIBE_WEBHOOK_SECRET environment variable is not set")
	}
	p.WebhookBaseURL = os.Getenv("WEBHOOK_BASE_URL")
	if p.WebhookBaseURL == "" {
		return nil, fmt.Errorf("WEBHOOK_BASE_URL environment variable is not set")
	}
	p.StorageBucket = os.Getenv("STORAGE_BUCKET")
	if p.StorageBucket == "" {
		return nil, fmt.Errorf("STORAGE_BUCKET environment variable is not set")
	}

	if v := os.Getenv("INGEST_NUM_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("INGEST_NUM_WORKERS must be a positive integer, got %q", v)
		}
		p.IngestNumWorkers = n
	} else {
		p.IngestNumWorkers = 5
	}

	return p, nil
}

func (p *Pipeline) MapperConfig() mapper.Config {
	return mapper.Config{
		PadMS:               p.PadMS,
		EnrollmentDominance: p.EnrollmentDominance,
		SegmentGapMS:        p.SegmentGapMS,
		SegmentMinMS:        p.SegmentMinMS,
		SegmentMinChars:     p.SegmentMinChars,
	}
}
