// Package mapper turns a diarized word stream from a concatenated
// [enrollment]+[pad]+[chunk] recording into the enrolled speaker's
// segments, rebased onto the chunk's own timeline.
package mapper

import (
	"errors"
	"sort"
	"strings"
)

// Word is one diarized word as returned by the transcription provider.
// Offsets are absolute within the concatenated stream. Speaker labels are
// opaque and stable only within a single transcription job. A Confidence
// of zero or below means the provider did not report one.
type Word struct {
	StartMS    int64
	EndMS      int64
	Speaker    string
	Confidence float64
	Text       string
}

// Segment is a merged, filtered run of the enrolled speaker's words.
// StartMS/EndMS are relative to the original chunk audio, never to the
// concatenated stream.
type Segment struct {
	StartMS       int64
	EndMS         int64
	Text          string
	AvgConfidence float64
}

type Status string

const (
	StatusOK            Status = "ok"
	StatusIndeterminate Status = "indeterminate"
)

type Reason string

const (
	ReasonNone              Reason = ""
	ReasonNoEnrollmentWords Reason = "no_enrollment_words"
	ReasonWeakDominance     Reason = "weak_enrollment_dominance"
)

type Result struct {
	Status    Status
	Reason    Reason
	UserLabel string
	Kept      []Segment
}

// Config holds the mapping knobs. All fields are required; there are no
// implied defaults, the caller must pass the same PadMS the concatenation
// builder used or every chunk offset will be wrong.
type Config struct {
	PadMS               int64
	EnrollmentDominance float64 // 0..1, minimum share of enrollment speech time
	SegmentGapMS        int64
	SegmentMinMS        int64
	SegmentMinChars     int
}

func (c Config) Validate() error {
	if c.PadMS < 0 {
		return errors.New("mapper: pad_ms must be >= 0")
	}
	if c.EnrollmentDominance <= 0 || c.EnrollmentDominance > 1 {
		return errors.New("mapper: enrollment_dominance must be in (0, 1]")
	}
	if c.SegmentGapMS < 0 {
		return errors.New("mapper: segment_gap_ms must be >= 0")
	}
	if c.SegmentMinMS < 0 {
		return errors.New("mapper: segment_min_ms must be >= 0")
	}
	if c.SegmentMinChars < 0 {
		return errors.New("mapper: segment_min_chars must be >= 0")
	}
	return nil
}

// Map decides, per contiguous run of words, whether it belongs to the
// speaker occupying the enrollment region, and emits that speaker's runs
// as time-normalized segments. It is a pure function: identical input
// always yields identical output.
func Map(words []Word, enrollMS int64, cfg Config) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	if enrollMS <= 0 {
		return Result{}, errors.New("mapper: enrollment duration must be > 0")
	}

	// Provider ordering is unverified, sort defensively.
	sorted := make([]Word, len(words))
	copy(sorted, words)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].StartMS < sorted[j].StartMS })

	// 1) Dominant label inside the enrollment window.
	occupied := map[string]int64{}
	for _, w := range sorted {
		if w.StartMS < enrollMS {
			occupied[w.Speaker] += w.EndMS - w.StartMS
		}
	}
	if len(occupied) == 0 {
		return Result{Status: StatusIndeterminate, Reason: ReasonNoEnrollmentWords}, nil
	}

	userLabel, domTime := "", int64(-1)
	for label, t := range occupied {
		// Exact ties resolve to the lexicographically smaller label so the
		// outcome never depends on map iteration order.
		if t > domTime || (t == domTime && label < userLabel) {
			userLabel, domTime = label, t
		}
	}

	// 2) Dominance gate: a garbled or shared enrollment region must not
	// anchor attribution.
	if float64(domTime) < cfg.EnrollmentDominance*float64(enrollMS) {
		return Result{Status: StatusIndeterminate, Reason: ReasonWeakDominance, UserLabel: userLabel}, nil
	}

	// 3) Enrolled speaker's words in the chunk region.
	chunkStart := enrollMS + cfg.PadMS
	var userWords []Word
	for _, w := range sorted {
		if w.Speaker == userLabel && w.StartMS >= chunkStart {
			userWords = append(userWords, w)
		}
	}

	// 4) Group into runs, splitting on gaps beyond SegmentGapMS.
	var runs [][]Word
	var cur []Word
	lastEnd := int64(0)
	for _, w := range userWords {
		if len(cur) > 0 && w.StartMS-lastEnd > cfg.SegmentGapMS {
			runs = append(runs, cur)
			cur = nil
		}
		cur = append(cur, w)
		lastEnd = w.EndMS
	}
	if len(cur) > 0 {
		runs = append(runs, cur)
	}

	// 5) Rebase, join, filter.
	kept := make([]Segment, 0, len(runs))
	for _, run := range runs {
		start := run[0].StartMS - chunkStart
		end := run[len(run)-1].EndMS - chunkStart

		texts := make([]string, len(run))
		confSum := 0.0
		for i, w := range run {
			texts[i] = w.Text
			if w.Confidence > 0 {
				confSum += w.Confidence
			} else {
				confSum += 1.0
			}
		}
		text := strings.Join(texts, " ")

		if end-start < cfg.SegmentMinMS || len(text) < cfg.SegmentMinChars {
			continue
		}
		kept = append(kept, Segment{
			StartMS:       start,
			EndMS:         end,
			Text:          text,
			AvgConfidence: confSum / float64(len(run)),
		})
	}

	return Result{Status: StatusOK, UserLabel: userLabel, Kept: kept}, nil
}
