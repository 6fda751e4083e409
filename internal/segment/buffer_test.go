package segment

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/eliteaimarch/AI-Zoom-Assistant/internal/audio"
)

// recordingDispatcher collects dispatched segments for assertions.
type recordingDispatcher struct {
	mu       sync.Mutex
	segments []*Segment
	ch       chan *Segment
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{ch: make(chan *Segment, 16)}
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, seg *Segment) error {
	d.mu.Lock()
	d.segments = append(d.segments, seg)
	d.mu.Unlock()
	d.ch <- seg
	return nil
}

func (d *recordingDispatcher) wait(t *testing.T) *Segment {
	t.Helper()
	select {
	case seg := <-d.ch:
		return seg
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for dispatched segment")
		return nil
	}
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.segments)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func testBuffer(dispatcher Dispatcher) *Buffer {
	return NewBuffer(Config{
		SilenceTimeout:     500 * time.Millisecond,
		MaxSegmentDuration: 8 * time.Second,
	}, dispatcher, nil, testLogger())
}

func makeChunk(base time.Time, offsetMs int, seq uint64, speaker string) *audio.AudioChunk {
	return &audio.AudioChunk{
		SequenceID:  seq,
		CapturedAt:  base.Add(time.Duration(offsetMs) * time.Millisecond),
		Payload:     make([]byte, 320),
		SpeakerHint: speaker,
		SampleRate:  16000,
		Duration:    100 * time.Millisecond,
	}
}

func TestSilenceOutsideUtteranceDiscarded(t *testing.T) {
	buffer := testBuffer(nil)
	base := time.Now()

	buffer.Add(makeChunk(base, 0, 0, ""), false)
	buffer.Add(makeChunk(base, 100, 1, ""), false)

	if got := buffer.OpenSegmentCount(); got != 0 {
		t.Errorf("Expected 0 open segments after silent chunks, got %d", got)
	}

	stats := buffer.GetStats()
	if stats.ChunksBuffered != 0 {
		t.Errorf("Expected 0 buffered chunks, got %d", stats.ChunksBuffered)
	}
	if stats.SegmentsOpened != 0 {
		t.Errorf("Expected 0 opened segments, got %d", stats.SegmentsOpened)
	}
}

func TestActiveChunkOpensSegment(t *testing.T) {
	buffer := testBuffer(nil)
	base := time.Now()

	buffer.Add(makeChunk(base, 0, 0, "alice"), true)

	if got := buffer.OpenSegmentCount(); got != 1 {
		t.Fatalf("Expected 1 open segment, got %d", got)
	}

	stats := buffer.GetStats()
	if stats.SegmentsOpened != 1 {
		t.Errorf("Expected 1 opened segment, got %d", stats.SegmentsOpened)
	}
	if stats.Speakers != 1 {
		t.Errorf("Expected 1 speaker, got %d", stats.Speakers)
	}
}

func TestSilenceTimeoutClosesSegment(t *testing.T) {
	dispatcher := newRecordingDispatcher()
	buffer := testBuffer(dispatcher)
	base := time.UnixMilli(1_700_000_000_000)

	// Active chunks at t=0, 300, 600, 900ms, then silence.
	for i, off := range []int{0, 300, 600, 900} {
		buffer.Add(makeChunk(base, off, uint64(i), ""), true)
	}

	if got := buffer.OpenSegmentCount(); got != 1 {
		t.Fatalf("Expected segment still open before timeout, got %d open", got)
	}

	// Tick just inside the timeout: nothing closes.
	buffer.Tick(base.Add(1400 * time.Millisecond))
	if got := buffer.OpenSegmentCount(); got != 1 {
		t.Fatalf("Segment closed before silence timeout elapsed")
	}

	// Tick past the timeout closes the segment.
	buffer.Tick(base.Add(1500 * time.Millisecond))

	seg := dispatcher.wait(t)

	if seg.StartMs != base.UnixMilli() {
		t.Errorf("Expected segment start %d, got %d", base.UnixMilli(), seg.StartMs)
	}
	if want := base.Add(900 * time.Millisecond).UnixMilli(); seg.EndMs != want {
		t.Errorf("Expected segment end %d (last chunk), got %d", want, seg.EndMs)
	}
	if len(seg.Chunks) != 4 {
		t.Errorf("Expected 4 chunks in segment, got %d", len(seg.Chunks))
	}
	if seg.State != StateDispatched {
		t.Errorf("Expected dispatched state, got %s", seg.State)
	}
	if seg.SpeakerID != DefaultSpeaker {
		t.Errorf("Expected default speaker, got %q", seg.SpeakerID)
	}
}

func TestExactSilenceTimeoutKeepsSegmentOpen(t *testing.T) {
	buffer := testBuffer(nil)
	base := time.Now()

	buffer.Add(makeChunk(base, 0, 0, ""), true)

	// Gap of exactly the timeout is not a boundary yet.
	buffer.Tick(base.Add(500 * time.Millisecond))

	if got := buffer.OpenSegmentCount(); got != 1 {
		t.Errorf("Segment closed at exactly the silence timeout, expected it open")
	}
}

func TestTrailingSilenceAppendedInsideUtterance(t *testing.T) {
	dispatcher := newRecordingDispatcher()
	buffer := testBuffer(dispatcher)
	base := time.UnixMilli(1_700_000_000_000)

	buffer.Add(makeChunk(base, 0, 0, ""), true)
	buffer.Add(makeChunk(base, 200, 1, ""), false) // quiet tail, still appended

	buffer.Tick(base.Add(600 * time.Millisecond))

	seg := dispatcher.wait(t)
	if len(seg.Chunks) != 2 {
		t.Errorf("Expected quiet chunk appended to open segment, got %d chunks", len(seg.Chunks))
	}
	if want := base.Add(200 * time.Millisecond).UnixMilli(); seg.EndMs != want {
		t.Errorf("Expected segment end %d, got %d", want, seg.EndMs)
	}
}

func TestMaxDurationCapRollsOver(t *testing.T) {
	dispatcher := newRecordingDispatcher()
	buffer := NewBuffer(Config{
		SilenceTimeout:     500 * time.Millisecond,
		MaxSegmentDuration: 2 * time.Second,
	}, dispatcher, nil, testLogger())

	base := time.UnixMilli(1_700_000_000_000)

	// Continuous speech for 5 seconds: 2.5 times the cap.
	const chunks = 50
	for i := 0; i < chunks; i++ {
		buffer.Add(makeChunk(base, i*100, uint64(i), ""), true)
	}
	buffer.FlushOpen(base.Add(5 * time.Second))

	var segments []*Segment
	for i := 0; i < 3; i++ {
		segments = append(segments, dispatcher.wait(t))
	}

	if dispatcher.count() != 3 {
		t.Fatalf("Expected exactly 3 segments from 2.5x cap of speech, got %d", dispatcher.count())
	}

	// Dispatch order is not guaranteed, sort by start.
	for i := 0; i < len(segments); i++ {
		for j := i + 1; j < len(segments); j++ {
			if segments[j].StartMs < segments[i].StartMs {
				segments[i], segments[j] = segments[j], segments[i]
			}
		}
	}

	// Every chunk lands in exactly one segment.
	total := 0
	for _, seg := range segments {
		total += len(seg.Chunks)
	}
	if total != chunks {
		t.Errorf("Expected %d chunks covered across segments, got %d", chunks, total)
	}

	// Segments are ordered and non-overlapping.
	for i := 1; i < len(segments); i++ {
		if segments[i].StartMs <= segments[i-1].EndMs {
			t.Errorf("Segment %d overlaps previous: start %d <= previous end %d",
				i, segments[i].StartMs, segments[i-1].EndMs)
		}
	}

	// No closed segment exceeds the cap.
	for i, seg := range segments {
		if seg.Duration() > 2*time.Second {
			t.Errorf("Segment %d exceeds duration cap: %s", i, seg.Duration())
		}
	}
}

func TestFlushOpenForceCloses(t *testing.T) {
	dispatcher := newRecordingDispatcher()
	buffer := testBuffer(dispatcher)
	base := time.Now()

	buffer.Add(makeChunk(base, 0, 0, ""), true)

	flushed := buffer.FlushOpen(base.Add(100 * time.Millisecond))
	if flushed != 1 {
		t.Fatalf("Expected 1 flushed segment, got %d", flushed)
	}

	seg := dispatcher.wait(t)
	if seg.State != StateDispatched {
		t.Errorf("Expected flushed segment dispatched, got %s", seg.State)
	}

	if got := buffer.OpenSegmentCount(); got != 0 {
		t.Errorf("Expected no open segments after flush, got %d", got)
	}

	// Second flush finds nothing.
	if flushed := buffer.FlushOpen(base.Add(200 * time.Millisecond)); flushed != 0 {
		t.Errorf("Expected 0 segments on second flush, got %d", flushed)
	}
}

func TestFlushSpeakerClosesOnlyThatSpeaker(t *testing.T) {
	dispatcher := newRecordingDispatcher()
	buffer := testBuffer(dispatcher)
	base := time.Now()

	buffer.Add(makeChunk(base, 0, 0, "alice"), true)
	buffer.Add(makeChunk(base, 0, 1, "bob"), true)

	if !buffer.FlushSpeaker("alice", base.Add(100*time.Millisecond)) {
		t.Fatal("Expected FlushSpeaker to close alice's segment")
	}

	seg := dispatcher.wait(t)
	if seg.SpeakerID != "alice" {
		t.Errorf("Expected alice's segment flushed, got %q", seg.SpeakerID)
	}

	if got := buffer.OpenSegmentCount(); got != 1 {
		t.Errorf("Expected bob's segment still open, got %d open", got)
	}

	if buffer.FlushSpeaker("nobody", base) {
		t.Error("Expected FlushSpeaker to report false for unknown speaker")
	}
}

func TestPerSpeakerBoundariesIndependent(t *testing.T) {
	dispatcher := newRecordingDispatcher()
	buffer := testBuffer(dispatcher)
	base := time.UnixMilli(1_700_000_000_000)

	buffer.Add(makeChunk(base, 0, 0, "alice"), true)
	buffer.Add(makeChunk(base, 400, 1, "bob"), true)

	// Alice has been silent 600ms, bob only 200ms.
	buffer.Tick(base.Add(600 * time.Millisecond))

	seg := dispatcher.wait(t)
	if seg.SpeakerID != "alice" {
		t.Errorf("Expected alice's segment closed, got %q", seg.SpeakerID)
	}
	if got := buffer.OpenSegmentCount(); got != 1 {
		t.Errorf("Expected bob's segment still open, got %d open", got)
	}
}

func TestSegmentPCMConcatenation(t *testing.T) {
	base := time.Now()

	first := makeChunk(base, 0, 0, "")
	second := makeChunk(base, 100, 1, "")
	for i := range first.Payload {
		first.Payload[i] = 0x11
	}
	for i := range second.Payload {
		second.Payload[i] = 0x22
	}

	seg := newSegment(DefaultSpeaker, first)
	seg.Chunks = append(seg.Chunks, second)

	pcm := seg.PCM()
	if len(pcm) != len(first.Payload)+len(second.Payload) {
		t.Fatalf("Expected %d PCM bytes, got %d", len(first.Payload)+len(second.Payload), len(pcm))
	}
	if pcm[0] != 0x11 || pcm[len(pcm)-1] != 0x22 {
		t.Error("PCM concatenation out of order")
	}
}

func TestDispatchStatsTracked(t *testing.T) {
	dispatcher := newRecordingDispatcher()
	buffer := testBuffer(dispatcher)
	base := time.Now()

	buffer.Add(makeChunk(base, 0, 0, ""), true)
	buffer.FlushOpen(base.Add(time.Second))
	dispatcher.wait(t)

	stats := buffer.GetStats()
	if stats.SegmentsClosed != 1 {
		t.Errorf("Expected 1 closed segment, got %d", stats.SegmentsClosed)
	}
	if stats.SegmentsDispatched != 1 {
		t.Errorf("Expected 1 dispatched segment, got %d", stats.SegmentsDispatched)
	}
	if stats.DispatchFailures != 0 {
		t.Errorf("Expected 0 dispatch failures, got %d", stats.DispatchFailures)
	}
}
