package segment

import (
	"time"

	"github.com/google/uuid"

	"github.com/eliteaimarch/AI-Zoom-Assistant/internal/audio"
)

// State represents the lifecycle state of a segment.
type State int

const (
	// StateOpen means the segment is still accumulating chunks.
	StateOpen State = iota
	// StateClosed means the segment is finalized but not yet handed
	// across the transcription boundary.
	StateClosed
	// StateDispatched means the segment crossed the boundary; it is
	// immutable and eligible for disposal.
	StateDispatched
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateDispatched:
		return "dispatched"
	default:
		return "unknown"
	}
}

// Segment is a contiguous, speaker-attributed span of audio bounded by
// silence or the duration cap: the unit handed to transcription.
type Segment struct {
	ID        string
	SpeakerID string
	StartMs   int64
	EndMs     int64
	Chunks    []*audio.AudioChunk
	State     State

	SampleRate int
}

func newSegment(speakerID string, first *audio.AudioChunk) *Segment {
	return &Segment{
		ID:         uuid.NewString(),
		SpeakerID:  speakerID,
		StartMs:    first.CapturedAt.UnixMilli(),
		Chunks:     []*audio.AudioChunk{first},
		State:      StateOpen,
		SampleRate: first.SampleRate,
	}
}

// PCM concatenates the payloads of all accumulated chunks in sequence
// order (the order they were appended).
func (s *Segment) PCM() []byte {
	var total int
	for _, c := range s.Chunks {
		total += len(c.Payload)
	}

	pcm := make([]byte, 0, total)
	for _, c := range s.Chunks {
		pcm = append(pcm, c.Payload...)
	}
	return pcm
}

// Duration returns the covered time range as a duration.
func (s *Segment) Duration() time.Duration {
	return time.Duration(s.EndMs-s.StartMs) * time.Millisecond
}
