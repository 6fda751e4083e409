package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/eliteaimarch/AI-Zoom-Assistant/internal/audio"
	"github.com/eliteaimarch/AI-Zoom-Assistant/internal/level"
	"github.com/eliteaimarch/AI-Zoom-Assistant/internal/message"
	"github.com/eliteaimarch/AI-Zoom-Assistant/internal/segment"
	"github.com/eliteaimarch/AI-Zoom-Assistant/internal/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSource produces constant-amplitude frames and can be switched to
// fail on demand.
type fakeSource struct {
	mu        sync.Mutex
	amplitude int16
	speaker   string
	err       error
}

func (s *fakeSource) ReadFrame(frame []int16) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return 0, s.err
	}
	for i := range frame {
		frame[i] = s.amplitude
	}
	return len(frame), nil
}

func (s *fakeSource) SpeakerHint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaker
}

func (s *fakeSource) Close() error { return nil }

func (s *fakeSource) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

type recordingDispatcher struct {
	ch chan *segment.Segment
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, seg *segment.Segment) error {
	d.ch <- seg
	return nil
}

type testRig struct {
	controller *Controller
	source     *fakeSource
	dispatcher *recordingDispatcher
	router     *message.Router
	transport  *transport.Transport
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				conn.Close()
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	logger := testLogger()
	router := message.NewRouter(logger)
	tr := transport.New(transport.Config{
		URL:            "ws" + strings.TrimPrefix(srv.URL, "http"),
		ReconnectDelay: 50 * time.Millisecond,
	}, router, nil, logger)

	dispatcher := &recordingDispatcher{ch: make(chan *segment.Segment, 16)}
	buffer := segment.NewBuffer(segment.Config{
		SilenceTimeout:     100 * time.Millisecond,
		MaxSegmentDuration: 5 * time.Second,
	}, dispatcher, nil, logger)

	source := &fakeSource{amplitude: 3000}

	controller := NewController(Config{
		ChunkDuration:   10 * time.Millisecond,
		SamplesPerChunk: 160,
		OpenTimeout:     2 * time.Second,
	}, source,
		level.NewAnalyzer(2.0, 1),
		audio.NewEncoder(16000),
		buffer, tr, router, nil, logger)

	t.Cleanup(controller.Shutdown)

	return &testRig{
		controller: controller,
		source:     source,
		dispatcher: dispatcher,
		router:     router,
		transport:  tr,
	}
}

func waitFor(t *testing.T, timeout time.Duration, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not met before timeout")
}

func TestStartStopLifecycle(t *testing.T) {
	rig := newTestRig(t)

	if err := rig.controller.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if rig.controller.State() != StateActive {
		t.Fatalf("Expected active state, got %s", rig.controller.State())
	}

	// Starting twice is rejected.
	if err := rig.controller.Start(context.Background()); !errors.Is(err, ErrAlreadyActive) {
		t.Errorf("Expected ErrAlreadyActive, got %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return rig.controller.GetStats().ChunksCaptured >= 3
	})

	rig.controller.Stop()
	if rig.controller.State() != StateIdle {
		t.Errorf("Expected idle after stop, got %s", rig.controller.State())
	}
	if rig.transport.State() != transport.StateDisconnected {
		t.Errorf("Expected transport closed after stop, got %s", rig.transport.State())
	}

	// Stop is idempotent.
	rig.controller.Stop()
	if rig.controller.State() != StateIdle {
		t.Errorf("Expected idle after repeated stop, got %s", rig.controller.State())
	}
}

func TestStartAbortsOnCaptureProbeFailure(t *testing.T) {
	rig := newTestRig(t)
	rig.source.setErr(errors.New("capture device gone"))

	err := rig.controller.Start(context.Background())
	if err == nil {
		t.Fatal("Expected start to fail on capture probe error")
	}
	if rig.controller.State() != StateIdle {
		t.Errorf("Expected idle after failed start, got %s", rig.controller.State())
	}
	if rig.transport.State() != transport.StateDisconnected {
		t.Errorf("Expected transport untouched after probe failure, got %s", rig.transport.State())
	}
}

func TestMuteIsSegmentBoundary(t *testing.T) {
	rig := newTestRig(t)

	if err := rig.controller.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Loud frames open a segment.
	waitFor(t, 2*time.Second, func() bool {
		return rig.controller.GetStats().Segmentation.OpenSegments >= 1
	})

	if err := rig.controller.Mute(); err != nil {
		t.Fatalf("Mute failed: %v", err)
	}
	if !rig.controller.Muted() {
		t.Error("Expected muted state")
	}

	// The open segment was flushed immediately, not after the silence
	// timeout.
	select {
	case seg := <-rig.dispatcher.ch:
		if seg.State != segment.StateDispatched {
			t.Errorf("Expected flushed segment dispatched, got %s", seg.State)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Mute did not flush the open segment")
	}

	// Muted audio stays out of the pipeline.
	waitFor(t, 2*time.Second, func() bool {
		return rig.controller.GetStats().ChunksMuted >= 1
	})
	captured := rig.controller.GetStats().ChunksCaptured
	time.Sleep(50 * time.Millisecond)
	if got := rig.controller.GetStats().ChunksCaptured; got != captured {
		t.Errorf("Chunks captured while muted: %d -> %d", captured, got)
	}

	// Mute twice is a no-op.
	if err := rig.controller.Mute(); err != nil {
		t.Errorf("Repeated mute failed: %v", err)
	}

	if err := rig.controller.Unmute(); err != nil {
		t.Fatalf("Unmute failed: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		return rig.controller.GetStats().ChunksCaptured > captured
	})

	rig.controller.Stop()
}

func TestSendFaultWhileReadPumpBusyDoesNotStallCapture(t *testing.T) {
	// The first connection parks the client's read pump inside a slow
	// subscriber and then drops the socket, so the next chunk write fails
	// on the capture goroutine while it holds the pipeline lock. Later
	// connections behave normally.
	upgrader := websocket.Upgrader{}
	var firstConn atomic.Bool
	firstConn.Store(true)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if firstConn.CompareAndSwap(true, false) {
			conn.WriteMessage(websocket.TextMessage,
				[]byte(`{"type":"status","payload":{"status":"processing"}}`))
			time.Sleep(20 * time.Millisecond)
			conn.Close()
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				conn.Close()
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	logger := testLogger()
	router := message.NewRouter(logger)

	// Park the read pump until the test ends.
	release := make(chan struct{})
	defer close(release)
	router.Subscribe(message.TypeStatus, func(message.TypedMessage) {
		<-release
	})

	tr := transport.New(transport.Config{
		URL:            "ws" + strings.TrimPrefix(srv.URL, "http"),
		ReconnectDelay: 50 * time.Millisecond,
	}, router, nil, logger)

	dispatcher := &recordingDispatcher{ch: make(chan *segment.Segment, 16)}
	buffer := segment.NewBuffer(segment.Config{
		SilenceTimeout:     100 * time.Millisecond,
		MaxSegmentDuration: 5 * time.Second,
	}, dispatcher, nil, logger)

	source := &fakeSource{amplitude: 3000}
	controller := NewController(Config{
		ChunkDuration:   10 * time.Millisecond,
		SamplesPerChunk: 160,
		OpenTimeout:     2 * time.Second,
	}, source,
		level.NewAnalyzer(2.0, 1),
		audio.NewEncoder(16000),
		buffer, tr, router, nil, logger)

	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Capture must keep running across the failed write and the
	// reconnect that follows it.
	waitFor(t, 5*time.Second, func() bool {
		stats := controller.GetStats()
		return stats.Transport.Reconnects >= 1 && stats.ChunksCaptured >= 20
	})

	stopped := make(chan struct{})
	go func() {
		controller.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return after a transport fault during send")
	}

	if controller.State() != StateIdle {
		t.Errorf("Expected idle after stop, got %s", controller.State())
	}

	controller.Shutdown()
}

func TestPauseIsSegmentBoundary(t *testing.T) {
	rig := newTestRig(t)

	if err := rig.controller.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return rig.controller.GetStats().Segmentation.OpenSegments >= 1
	})

	if err := rig.controller.Pause(); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if !rig.controller.Paused() {
		t.Error("Expected paused state")
	}

	// The open segment was flushed immediately.
	select {
	case seg := <-rig.dispatcher.ch:
		if seg.State != segment.StateDispatched {
			t.Errorf("Expected flushed segment dispatched, got %s", seg.State)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Pause did not flush the open segment")
	}

	// Paused audio stays out of the pipeline.
	waitFor(t, 2*time.Second, func() bool {
		return rig.controller.GetStats().ChunksPaused >= 1
	})
	captured := rig.controller.GetStats().ChunksCaptured
	time.Sleep(50 * time.Millisecond)
	if got := rig.controller.GetStats().ChunksCaptured; got != captured {
		t.Errorf("Chunks captured while paused: %d -> %d", captured, got)
	}

	// Pause twice is a no-op.
	if err := rig.controller.Pause(); err != nil {
		t.Errorf("Repeated pause failed: %v", err)
	}

	if err := rig.controller.Resume(); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		return rig.controller.GetStats().ChunksCaptured > captured
	})

	rig.controller.Stop()
}

func TestPauseRequiresActiveSession(t *testing.T) {
	rig := newTestRig(t)

	if err := rig.controller.Pause(); !errors.Is(err, ErrNotActive) {
		t.Errorf("Expected ErrNotActive from Pause, got %v", err)
	}
	if err := rig.controller.Resume(); !errors.Is(err, ErrNotActive) {
		t.Errorf("Expected ErrNotActive from Resume, got %v", err)
	}
}

func TestMuteRequiresActiveSession(t *testing.T) {
	rig := newTestRig(t)

	if err := rig.controller.Mute(); !errors.Is(err, ErrNotActive) {
		t.Errorf("Expected ErrNotActive from Mute, got %v", err)
	}
	if err := rig.controller.Unmute(); !errors.Is(err, ErrNotActive) {
		t.Errorf("Expected ErrNotActive from Unmute, got %v", err)
	}
}

func TestSourceExhaustionStopsSession(t *testing.T) {
	rig := newTestRig(t)

	if err := rig.controller.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	rig.source.setErr(io.EOF)

	waitFor(t, 2*time.Second, func() bool {
		return rig.controller.State() == StateIdle
	})

	if rig.transport.State() != transport.StateDisconnected {
		t.Errorf("Expected transport closed after source exhaustion, got %s", rig.transport.State())
	}
}

func TestSpeakersRosterSetsHint(t *testing.T) {
	rig := newTestRig(t)

	msg, err := message.New(message.TypeSpeakers, message.SpeakersPayload{
		Speakers: []message.SpeakerInfo{
			{ID: "u1", Name: "Alice", IsSpeaking: false},
			{ID: "u2", Name: "Bob", IsSpeaking: true},
		},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	rig.router.Dispatch(msg)

	if got := rig.controller.GetStats().SpeakerHint; got != "u2" {
		t.Errorf("Expected speaker hint u2, got %q", got)
	}

	// Nobody speaking clears the hint.
	msg, _ = message.New(message.TypeSpeakers, message.SpeakersPayload{
		Speakers: []message.SpeakerInfo{{ID: "u2", IsSpeaking: false}},
	})
	rig.router.Dispatch(msg)

	if got := rig.controller.GetStats().SpeakerHint; got != "" {
		t.Errorf("Expected empty speaker hint, got %q", got)
	}
}

func TestTranscriptUpdatesTracked(t *testing.T) {
	rig := newTestRig(t)

	msg, err := message.New(message.TypeTranscriptUpdate, message.TranscriptUpdatePayload{
		Transcript: "the quarterly numbers look good",
		Confidence: 0.87,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	rig.router.Dispatch(msg)

	stats := rig.controller.GetStats()
	if stats.Transcripts != 1 {
		t.Errorf("Expected 1 transcript, got %d", stats.Transcripts)
	}
	if stats.LastTranscript != "the quarterly numbers look good" {
		t.Errorf("Expected last transcript stored, got %q", stats.LastTranscript)
	}
}
