package segment

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/eliteaimarch/AI-Zoom-Assistant/internal/audio"
	"github.com/eliteaimarch/AI-Zoom-Assistant/internal/metrics"
)

// DefaultSpeaker is the implicit speaker chunks are attributed to when no
// speaker hint is available.
const DefaultSpeaker = "default"

// Dispatcher receives finalized segments across the transcription
// boundary. Delivery is at-least-once per segment; the buffer never hands
// over the same segment twice.
type Dispatcher interface {
	Dispatch(ctx context.Context, seg *Segment) error
}

// Config contains segmentation boundary parameters.
type Config struct {
	SilenceTimeout     time.Duration // silence gap that closes an utterance
	MaxSegmentDuration time.Duration // hard cap bounding latency and memory
}

// Buffer accumulates chunks per speaker and decides segment boundaries.
// All timing decisions are driven by chunk timestamps and the caller's
// Tick clock rather than wall time, so boundary behavior is deterministic.
//
// The buffer is not its own synchronization domain for lifecycle events:
// chunk arrival and epoch-flush both reach it through the session
// controller, which serializes them. The internal mutex only protects
// against concurrent snapshot reads.
type Buffer struct {
	config     Config
	logger     *slog.Logger
	dispatcher Dispatcher
	metrics    *metrics.Metrics

	speakers map[string]*speakerState

	// Statistics
	segmentsOpened     uint64
	segmentsClosed     uint64
	segmentsDispatched uint64
	dispatchFailures   uint64
	chunksBuffered     uint64

	mu sync.Mutex
}

// speakerState tracks the per-speaker utterance machine. A nil open
// segment means the speaker is in the Silent state.
type speakerState struct {
	open       *Segment
	lastActive time.Time
}

// Stats represents segmentation statistics for monitoring.
type Stats struct {
	OpenSegments       int    `json:"open_segments"`
	Speakers           int    `json:"speakers"`
	SegmentsOpened     uint64 `json:"segments_opened"`
	SegmentsClosed     uint64 `json:"segments_closed"`
	SegmentsDispatched uint64 `json:"segments_dispatched"`
	DispatchFailures   uint64 `json:"dispatch_failures"`
	ChunksBuffered     uint64 `json:"chunks_buffered"`
}

// NewBuffer creates a segmentation buffer that hands closed segments to
// the given dispatcher.
func NewBuffer(config Config, dispatcher Dispatcher, m *metrics.Metrics, logger *slog.Logger) *Buffer {
	return &Buffer{
		config:     config,
		logger:     logger,
		dispatcher: dispatcher,
		metrics:    m,
		speakers:   make(map[string]*speakerState),
	}
}

// Add feeds one chunk into the per-speaker state machine. active is the
// chunk's activity classification from the level analyzer. Closed
// segments are dispatched before Add returns.
func (b *Buffer) Add(chunk *audio.AudioChunk, active bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	speakerID := chunk.SpeakerHint
	if speakerID == "" {
		speakerID = DefaultSpeaker
	}

	state, ok := b.speakers[speakerID]
	if !ok {
		state = &speakerState{}
		b.speakers[speakerID] = state
	}

	now := chunk.CapturedAt

	if state.open == nil {
		if !active {
			return // silence outside an utterance carries no speech
		}

		state.open = newSegment(speakerID, chunk)
		state.lastActive = now
		b.segmentsOpened++
		b.chunksBuffered++
		if b.metrics != nil {
			b.metrics.RecordSegmentOpened()
		}

		b.logger.Debug("Segment opened",
			slog.String("segment_id", state.open.ID),
			slog.String("speaker", speakerID),
			slog.Int64("start_ms", state.open.StartMs),
		)
		return
	}

	// Append regardless of activity so trailing consonants and natural
	// pauses are not clipped off the utterance.
	state.open.Chunks = append(state.open.Chunks, chunk)
	b.chunksBuffered++
	if active {
		state.lastActive = now
	}

	b.checkBoundaries(speakerID, state, now)
}

// Tick runs the silence and duration checks against the supplied clock.
// Silence produces no chunks, so boundary detection cannot rely on Add
// alone; the capture loop calls Tick every cadence.
func (b *Buffer) Tick(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for speakerID, state := range b.speakers {
		if state.open == nil {
			continue
		}
		b.checkBoundaries(speakerID, state, now)
	}
}

// FlushOpen force-closes and dispatches every open segment. Used on
// session teardown, mute, and transport epoch changes so a partial
// utterance tail is never silently lost.
func (b *Buffer) FlushOpen(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	flushed := 0
	for speakerID, state := range b.speakers {
		if state.open == nil {
			continue
		}

		b.logger.Info("Force-closing open segment",
			slog.String("segment_id", state.open.ID),
			slog.String("speaker", speakerID),
			slog.Int("chunks", len(state.open.Chunks)),
		)

		b.closeSegment(state, now)
		flushed++
	}

	return flushed
}

// FlushSpeaker force-closes the open segment for one speaker, used when
// that speaker is muted (a mute boundary is always a segment boundary).
func (b *Buffer) FlushSpeaker(speakerID string, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if speakerID == "" {
		speakerID = DefaultSpeaker
	}

	state, ok := b.speakers[speakerID]
	if !ok || state.open == nil {
		return false
	}

	b.closeSegment(state, now)
	return true
}

// OpenSegmentCount returns the number of currently open segments.
func (b *Buffer) OpenSegmentCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	count := 0
	for _, state := range b.speakers {
		if state.open != nil {
			count++
		}
	}
	return count
}

// GetStats returns current segmentation statistics
func (b *Buffer) GetStats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	open := 0
	for _, state := range b.speakers {
		if state.open != nil {
			open++
		}
	}

	return Stats{
		OpenSegments:       open,
		Speakers:           len(b.speakers),
		SegmentsOpened:     b.segmentsOpened,
		SegmentsClosed:     b.segmentsClosed,
		SegmentsDispatched: b.segmentsDispatched,
		DispatchFailures:   b.dispatchFailures,
		ChunksBuffered:     b.chunksBuffered,
	}
}

// checkBoundaries closes the speaker's open segment when the silence
// timeout or the duration cap is exceeded. Caller holds the mutex.
func (b *Buffer) checkBoundaries(speakerID string, state *speakerState, now time.Time) {
	seg := state.open
	if seg == nil {
		return
	}

	start := time.UnixMilli(seg.StartMs)

	silence := now.Sub(state.lastActive) > b.config.SilenceTimeout
	overCap := now.Sub(start) >= b.config.MaxSegmentDuration

	if !silence && !overCap {
		return
	}

	reason := "silence_timeout"
	if overCap {
		reason = "max_duration"
	}

	b.logger.Debug("Segment boundary detected",
		slog.String("segment_id", seg.ID),
		slog.String("speaker", speakerID),
		slog.String("reason", reason),
	)

	b.closeSegment(state, now)
}

// closeSegment finalizes the open segment, hands it to the dispatcher,
// and returns the speaker to the Silent state. Caller holds the mutex.
func (b *Buffer) closeSegment(state *speakerState, now time.Time) {
	seg := state.open
	state.open = nil

	// The segment ends at the last chunk it covers, not at the moment
	// the boundary was detected.
	last := seg.Chunks[len(seg.Chunks)-1]
	seg.EndMs = last.CapturedAt.UnixMilli()
	seg.State = StateClosed
	b.segmentsClosed++
	if b.metrics != nil {
		b.metrics.RecordSegmentClosed(seg.Duration().Seconds())
	}

	b.dispatch(seg)
}

// dispatch hands a closed segment across the transcription boundary
// exactly once. Caller holds the mutex.
func (b *Buffer) dispatch(seg *Segment) {
	if seg.State != StateClosed {
		return // never re-dispatch
	}
	seg.State = StateDispatched
	b.segmentsDispatched++
	if b.metrics != nil {
		b.metrics.RecordSegmentDispatched()
	}

	if b.dispatcher == nil {
		return
	}

	// Hand-off is asynchronous: transcription latency must not stall
	// the capture cadence.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := b.dispatcher.Dispatch(ctx, seg); err != nil {
			b.mu.Lock()
			b.dispatchFailures++
			b.mu.Unlock()

			if b.metrics != nil {
				b.metrics.RecordDispatchFailure()
			}

			b.logger.Error("Segment dispatch failed",
				slog.String("segment_id", seg.ID),
				slog.String("speaker", seg.SpeakerID),
				slog.String("error", err.Error()),
			)
		}
	}()
}
