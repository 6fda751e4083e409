package audio

import (
	"errors"
	"sync"
	"time"
)

// ErrEmptySlice is returned when a capture slice contains no samples.
// Callers treat it as a no-op: the chunk is dropped but the sequence
// number still advances so downstream gap detection keeps working.
var ErrEmptySlice = errors.New("audio: empty capture slice")

// AudioChunk is a time-bounded slice of encoded audio, the transport's
// atomic unit. Immutable once produced.
type AudioChunk struct {
	SequenceID  uint64        `json:"sequence_id"`
	CapturedAt  time.Time     `json:"captured_at"`
	Payload     []byte        `json:"-"` // PCM-16 little-endian bytes
	SpeakerHint string        `json:"speaker_hint,omitempty"`
	SampleRate  int           `json:"sample_rate"`
	Duration    time.Duration `json:"duration"`
}

// Encoder packages raw capture slices into AudioChunks with a strictly
// increasing per-session sequence. The encoder never reorders; ordering
// is the capture loop's responsibility.
type Encoder struct {
	sampleRate int

	nextSeq       uint64
	chunksEncoded uint64
	chunksDropped uint64

	mu sync.Mutex
}

// EncoderStats represents encoder statistics for monitoring.
type EncoderStats struct {
	NextSequence  uint64 `json:"next_sequence"`
	ChunksEncoded uint64 `json:"chunks_encoded"`
	ChunksDropped uint64 `json:"chunks_dropped"`
}

// NewEncoder creates a chunk encoder for the given sample rate.
func NewEncoder(sampleRate int) *Encoder {
	return &Encoder{sampleRate: sampleRate}
}

// Encode packages one raw capture slice into an AudioChunk. The sequence
// number advances on every call, including failed ones, so a dropped
// slice leaves a detectable gap instead of silently renumbering.
func (e *Encoder) Encode(raw []int16, capturedAt time.Time, speakerHint string) (*AudioChunk, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	seq := e.nextSeq
	e.nextSeq++

	if len(raw) == 0 {
		e.chunksDropped++
		return nil, ErrEmptySlice
	}

	payload := make([]byte, len(raw)*2)
	for i, sample := range raw {
		payload[i*2] = byte(sample)
		payload[i*2+1] = byte(sample >> 8)
	}

	e.chunksEncoded++

	return &AudioChunk{
		SequenceID:  seq,
		CapturedAt:  capturedAt,
		Payload:     payload,
		SpeakerHint: speakerHint,
		SampleRate:  e.sampleRate,
		Duration:    time.Duration(len(raw)) * time.Second / time.Duration(e.sampleRate),
	}, nil
}

// Reset restarts the sequence for a new session.
func (e *Encoder) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextSeq = 0
	e.chunksEncoded = 0
	e.chunksDropped = 0
}

// GetStats returns current encoder statistics
func (e *Encoder) GetStats() EncoderStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	return EncoderStats{
		NextSequence:  e.nextSeq,
		ChunksEncoded: e.chunksEncoded,
		ChunksDropped: e.chunksDropped,
	}
}

// Samples decodes the chunk payload back into PCM-16 samples.
func (c *AudioChunk) Samples() []int16 {
	samples := make([]int16, len(c.Payload)/2)
	for i := range samples {
		samples[i] = int16(c.Payload[i*2]) | int16(c.Payload[i*2+1])<<8
	}
	return samples
}
