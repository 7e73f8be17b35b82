// Package audio reads and builds PCM WAV streams for the ingest pipeline.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Info describes the PCM format of a decoded WAV stream.
type Info struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

func (i Info) frameSize() int { return i.Channels * i.BitsPerSample / 8 }

// DurationMS converts a payload length in bytes to milliseconds.
func (i Info) DurationMS(dataLen int) int64 {
	frames := int64(dataLen / i.frameSize())
	return frames * 1000 / int64(i.SampleRate)
}

// FormatMismatchError reports which format parameter differs between the
// enrollment and chunk streams. The enrollment recording is the reference;
// the chunk is the outlier.
type FormatMismatchError struct {
	Param      string // "sample_rate", "channels", "bits_per_sample"
	Enrollment int
	Chunk      int
}

func (e *FormatMismatchError) Error() string {
	return fmt.Sprintf("audio: format mismatch on %s: enrollment=%d, chunk(outlier)=%d",
		e.Param, e.Enrollment, e.Chunk)
}

var ErrNotPCMWAV = errors.New("audio: not a PCM WAV stream")

// Decode parses a RIFF/WAVE byte stream and returns its format and raw
// PCM payload. Only uncompressed PCM is supported.
func Decode(b []byte) (Info, []byte, error) {
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return Info{}, nil, ErrNotPCMWAV
	}

	var info Info
	var data []byte
	haveFmt, haveData := false, false

	off := 12
	for off+8 <= len(b) {
		id := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		body := off + 8
		if body+size > len(b) {
			return Info{}, nil, fmt.Errorf("audio: truncated %q chunk", id)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return Info{}, nil, ErrNotPCMWAV
			}
			format := binary.LittleEndian.Uint16(b[body : body+2])
			if format != 1 { // PCM
				return Info{}, nil, ErrNotPCMWAV
			}
			info.Channels = int(binary.LittleEndian.Uint16(b[body+2 : body+4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(b[body+4 : body+8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(b[body+14 : body+16]))
			haveFmt = true
		case "data":
			data = b[body : body+size]
			haveData = true
		}

		// Chunks are word-aligned.
		off = body + size
		if size%2 == 1 {
			off++
		}
	}

	if !haveFmt || !haveData {
		return Info{}, nil, ErrNotPCMWAV
	}
	if info.Channels <= 0 || info.SampleRate <= 0 || info.BitsPerSample <= 0 || info.BitsPerSample%8 != 0 {
		return Info{}, nil, ErrNotPCMWAV
	}
	return info, data, nil
}

// Encode wraps a PCM payload in a minimal RIFF/WAVE container.
func Encode(info Info, data []byte) []byte {
	out := make([]byte, 0, 44+len(data))
	u32 := func(v int) []byte {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(v))
		return b[:]
	}
	u16 := func(v int) []byte {
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(v))
		return b[:]
	}

	byteRate := info.SampleRate * info.frameSize()

	out = append(out, "RIFF"...)
	out = append(out, u32(36+len(data))...)
	out = append(out, "WAVE"...)
	out = append(out, "fmt "...)
	out = append(out, u32(16)...)
	out = append(out, u16(1)...) // PCM
	out = append(out, u16(info.Channels)...)
	out = append(out, u32(info.SampleRate)...)
	out = append(out, u32(byteRate)...)
	out = append(out, u16(info.frameSize())...)
	out = append(out, u16(info.BitsPerSample)...)
	out = append(out, "data"...)
	out = append(out, u32(len(data))...)
	out = append(out, data...)
	return out
}

// Concat builds the stream submitted for diarization: enrollment audio,
// padMS of exact silence, then the chunk audio unmodified. The returned
// enrollmentMS is the enrollment audio's own duration, excluding the pad;
// it is the anchor boundary the mapper keys on.
func Concat(enrollment, chunk []byte, padMS int64) (out []byte, enrollmentMS int64, err error) {
	enInfo, enData, err := Decode(enrollment)
	if err != nil {
		return nil, 0, fmt.Errorf("audio: enrollment stream: %w", err)
	}
	chInfo, chData, err := Decode(chunk)
	if err != nil {
		return nil, 0, fmt.Errorf("audio: chunk stream: %w", err)
	}

	switch {
	case enInfo.SampleRate != chInfo.SampleRate:
		return nil, 0, &FormatMismatchError{Param: "sample_rate", Enrollment: enInfo.SampleRate, Chunk: chInfo.SampleRate}
	case enInfo.Channels != chInfo.Channels:
		return nil, 0, &FormatMismatchError{Param: "channels", Enrollment: enInfo.Channels, Chunk: chInfo.Channels}
	case enInfo.BitsPerSample != chInfo.BitsPerSample:
		return nil, 0, &FormatMismatchError{Param: "bits_per_sample", Enrollment: enInfo.BitsPerSample, Chunk: chInfo.BitsPerSample}
	}

	// The pad must convert to a whole number of samples at the shared rate.
	if padMS < 0 {
		return nil, 0, errors.New("audio: pad_ms must be >= 0")
	}
	if (padMS*int64(enInfo.SampleRate))%1000 != 0 {
		return nil, 0, fmt.Errorf("audio: pad of %dms is not a whole sample count at %dHz", padMS, enInfo.SampleRate)
	}
	padFrames := padMS * int64(enInfo.SampleRate) / 1000
	silence := make([]byte, padFrames*int64(enInfo.frameSize()))

	data := make([]byte, 0, len(enData)+len(silence)+len(chData))
	data = append(data, enData...)
	data = append(data, silence...)
	data = append(data, chData...)

	return Encode(enInfo, data), enInfo.DurationMS(len(enData)), nil
}

// ExtractSegment cuts [startMS, endMS) out of a WAV stream and returns it
// as a standalone WAV, for utterance playback.
func ExtractSegment(wav []byte, startMS, endMS int64) ([]byte, error) {
	if startMS < 0 || endMS <= startMS {
		return nil, fmt.Errorf("audio: invalid segment range %d..%d", startMS, endMS)
	}
	info, data, err := Decode(wav)
	if err != nil {
		return nil, err
	}

	frame := int64(info.frameSize())
	startB := startMS * int64(info.SampleRate) / 1000 * frame
	endB := endMS * int64(info.SampleRate) / 1000 * frame
	if startB >= int64(len(data)) {
		return nil, fmt.Errorf("audio: segment starts at %dms, past end of audio", startMS)
	}
	if endB > int64(len(data)) {
		endB = int64(len(data))
	}
	return Encode(info, data[startB:endB]), nil
}
