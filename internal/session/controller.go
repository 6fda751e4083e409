package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/eliteaimarch/AI-Zoom-Assistant/internal/audio"
	"github.com/eliteaimarch/AI-Zoom-Assistant/internal/level"
	"github.com/eliteaimarch/AI-Zoom-Assistant/internal/message"
	"github.com/eliteaimarch/AI-Zoom-Assistant/internal/metrics"
	"github.com/eliteaimarch/AI-Zoom-Assistant/internal/segment"
	"github.com/eliteaimarch/AI-Zoom-Assistant/internal/transport"
)

// State represents the session lifecycle state.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateActive
	StateStopping
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

var (
	// ErrAlreadyActive is returned by Start when a session is already
	// starting or running.
	ErrAlreadyActive = errors.New("session: already active")

	// ErrNotActive is returned by operations that require a running
	// session.
	ErrNotActive = errors.New("session: not active")
)

// Config contains session controller configuration.
type Config struct {
	ChunkDuration   time.Duration
	SamplesPerChunk int
	OpenTimeout     time.Duration
}

// Controller drives one streaming session end to end: it reads frames
// from the capture source at the chunk cadence, classifies activity,
// encodes and ships chunks over the session transport, and feeds the
// segmentation buffer.
//
// Every lifecycle event flows through the controller, so chunk
// processing, mute boundaries, teardown and transport epoch flushes
// never interleave.
type Controller struct {
	config  Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	source    audio.Source
	analyzer  *level.Analyzer
	encoder   *audio.Encoder
	buffer    *segment.Buffer
	transport *transport.Transport
	router    *message.Router

	// mu guards lifecycle state and counters.
	mu          sync.Mutex
	state       State
	muted       bool
	paused      bool
	speakerHint string
	cancel      context.CancelFunc
	done        chan struct{}
	startedAt   time.Time

	// pipeMu serializes chunk processing against flush paths (mute,
	// stop, epoch change) so a segment is never mutated mid-flush.
	pipeMu sync.Mutex

	subs []message.Subscription

	// Statistics
	chunksCaptured uint64
	chunksSent     uint64
	chunksMuted    uint64
	chunksPaused   uint64
	transcripts    uint64
	aiResponses    uint64
	lastTranscript string
}

// Stats aggregates session statistics for monitoring.
type Stats struct {
	State          string  `json:"state"`
	Muted          bool    `json:"muted"`
	Paused         bool    `json:"paused"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
	ChunksCaptured uint64  `json:"chunks_captured"`
	ChunksSent     uint64  `json:"chunks_sent"`
	ChunksMuted    uint64  `json:"chunks_muted"`
	ChunksPaused   uint64  `json:"chunks_paused"`
	Transcripts    uint64  `json:"transcripts"`
	AIResponses    uint64  `json:"ai_responses"`
	LastTranscript string  `json:"last_transcript,omitempty"`
	SpeakerHint    string  `json:"speaker_hint,omitempty"`

	Transport    transport.Stats     `json:"transport"`
	Segmentation segment.Stats       `json:"segmentation"`
	Encoder      audio.EncoderStats  `json:"encoder"`
	Analyzer     level.AnalyzerStats `json:"analyzer"`
}

// NewController wires the session pipeline together. The controller
// subscribes to inbound message types and observes transport epochs
// immediately; the capture loop only runs between Start and Stop.
func NewController(
	config Config,
	source audio.Source,
	analyzer *level.Analyzer,
	encoder *audio.Encoder,
	buffer *segment.Buffer,
	tr *transport.Transport,
	router *message.Router,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Controller {
	c := &Controller{
		config:    config,
		logger:    logger,
		metrics:   m,
		source:    source,
		analyzer:  analyzer,
		encoder:   encoder,
		buffer:    buffer,
		transport: tr,
		router:    router,
		state:     StateIdle,
	}

	c.subs = []message.Subscription{
		router.Subscribe(message.TypeTranscriptUpdate, c.handleTranscript),
		router.Subscribe(message.TypeAIResponse, c.handleAIResponse),
		router.Subscribe(message.TypeStatus, c.handleStatus),
		router.Subscribe(message.TypeControlResponse, c.handleControlResponse),
		router.Subscribe(message.TypeError, c.handleError),
		router.Subscribe(message.TypeSpeakers, c.handleSpeakers),
	}

	tr.OnEpochChange(c.handleEpochChange)

	return c
}

// Start begins a streaming session: it probes the capture source, opens
// the session transport and launches the capture loop. Returns
// ErrAlreadyActive when a session is already starting or running; a
// capture probe failure aborts the start before the transport is
// touched.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrAlreadyActive
	}
	c.state = StateStarting
	c.mu.Unlock()

	c.analyzer.Reset()
	c.encoder.Reset()

	// Probe the capture source before committing to the session. The
	// probe frame is kept and processed as the first chunk.
	probe := make([]int16, c.config.SamplesPerChunk)
	n, err := c.source.ReadFrame(probe)
	if err != nil {
		c.setState(StateIdle)
		if c.metrics != nil {
			c.metrics.RecordCaptureError()
		}
		return fmt.Errorf("capture probe failed: %w", err)
	}

	c.transport.Open()

	openCtx, cancel := context.WithTimeout(ctx, c.config.OpenTimeout)
	err = c.transport.WaitOpen(openCtx)
	cancel()
	if err != nil {
		c.transport.Close()
		c.setState(StateIdle)
		return fmt.Errorf("session transport did not open: %w", err)
	}

	loopCtx, loopCancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	c.state = StateActive
	c.muted = false
	c.paused = false
	c.cancel = loopCancel
	c.done = done
	c.startedAt = time.Now()
	c.chunksCaptured = 0
	c.chunksSent = 0
	c.chunksMuted = 0
	c.chunksPaused = 0
	c.mu.Unlock()

	c.logger.Info("Session started",
		slog.Duration("chunk_duration", c.config.ChunkDuration),
		slog.Int("samples_per_chunk", c.config.SamplesPerChunk),
	)

	c.processFrame(probe[:n], time.Now())

	go c.captureLoop(loopCtx, done)

	return nil
}

// Stop ends the session: it halts the capture loop, flushes open
// segments and closes the transport. Idempotent.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return
	}
	c.state = StateStopping
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	cancel()
	<-done

	c.pipeMu.Lock()
	flushed := c.buffer.FlushOpen(time.Now())
	c.pipeMu.Unlock()

	c.transport.Close()

	c.setState(StateIdle)

	c.logger.Info("Session stopped",
		slog.Int("segments_flushed", flushed),
	)
}

// Mute stops audio from entering the pipeline. A mute is always a
// segment boundary: open segments are flushed immediately rather than
// waiting out the silence timeout.
func (c *Controller) Mute() error {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return ErrNotActive
	}
	if c.muted {
		c.mu.Unlock()
		return nil
	}
	c.muted = true
	c.mu.Unlock()

	c.pipeMu.Lock()
	c.buffer.FlushOpen(time.Now())
	c.pipeMu.Unlock()

	c.sendControl(message.ActionMute)
	c.logger.Info("Session muted")

	return nil
}

// Unmute resumes audio processing.
func (c *Controller) Unmute() error {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return ErrNotActive
	}
	if !c.muted {
		c.mu.Unlock()
		return nil
	}
	c.muted = false
	c.mu.Unlock()

	c.sendControl(message.ActionUnmute)
	c.logger.Info("Session unmuted")

	return nil
}

// Pause suspends the streaming pipeline. Like a mute it is a segment
// boundary, but it signals the backend to halt downstream processing
// rather than just dropping local audio.
func (c *Controller) Pause() error {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return ErrNotActive
	}
	if c.paused {
		c.mu.Unlock()
		return nil
	}
	c.paused = true
	c.mu.Unlock()

	c.pipeMu.Lock()
	c.buffer.FlushOpen(time.Now())
	c.pipeMu.Unlock()

	c.sendControl(message.ActionPause)
	c.logger.Info("Session paused")

	return nil
}

// Resume restarts a paused pipeline.
func (c *Controller) Resume() error {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return ErrNotActive
	}
	if !c.paused {
		c.mu.Unlock()
		return nil
	}
	c.paused = false
	c.mu.Unlock()

	c.sendControl(message.ActionResume)
	c.logger.Info("Session resumed")

	return nil
}

// State returns the current session state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Muted reports whether the session is muted.
func (c *Controller) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

// Paused reports whether the session is paused.
func (c *Controller) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Shutdown stops the session and releases the controller's message
// subscriptions.
func (c *Controller) Shutdown() {
	c.Stop()
	for _, sub := range c.subs {
		sub.Unsubscribe()
	}
}

// GetStats returns aggregated session statistics
func (c *Controller) GetStats() Stats {
	c.mu.Lock()
	uptime := float64(0)
	if c.state == StateActive {
		uptime = time.Since(c.startedAt).Seconds()
	}
	stats := Stats{
		State:          c.state.String(),
		Muted:          c.muted,
		Paused:         c.paused,
		UptimeSeconds:  uptime,
		ChunksCaptured: c.chunksCaptured,
		ChunksSent:     c.chunksSent,
		ChunksMuted:    c.chunksMuted,
		ChunksPaused:   c.chunksPaused,
		Transcripts:    c.transcripts,
		AIResponses:    c.aiResponses,
		LastTranscript: c.lastTranscript,
		SpeakerHint:    c.speakerHint,
	}
	c.mu.Unlock()

	stats.Transport = c.transport.GetStats()
	stats.Segmentation = c.buffer.GetStats()
	stats.Encoder = c.encoder.GetStats()
	stats.Analyzer = c.analyzer.GetStats()

	return stats
}

func (c *Controller) setState(state State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

// captureLoop reads one frame per chunk cadence until cancelled.
func (c *Controller) captureLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.config.ChunkDuration)
	defer ticker.Stop()

	frame := make([]int16, c.config.SamplesPerChunk)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.captureOnce(frame) {
				return
			}
		}
	}
}

// captureOnce reads and processes one frame. Returns false when the
// source is exhausted.
func (c *Controller) captureOnce(frame []int16) bool {
	n, err := c.source.ReadFrame(frame)
	if err == io.EOF {
		c.logger.Info("Capture source exhausted, stopping session")
		go c.Stop()
		return false
	}
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordCaptureError()
		}
		c.logger.Warn("Capture read failed",
			slog.String("error", err.Error()),
		)
		return true
	}

	c.processFrame(frame[:n], time.Now())
	return true
}

// processFrame pushes one raw frame through level analysis, encoding,
// transport and segmentation.
func (c *Controller) processFrame(samples []int16, now time.Time) {
	activity := c.analyzer.Sample(samples)

	c.mu.Lock()
	muted := c.muted
	paused := c.paused
	hint := c.speakerHint
	c.mu.Unlock()

	if hint == "" {
		hint = c.source.SpeakerHint()
	}

	c.pipeMu.Lock()
	defer c.pipeMu.Unlock()

	if muted || paused {
		c.mu.Lock()
		if muted {
			c.chunksMuted++
		} else {
			c.chunksPaused++
		}
		c.mu.Unlock()

		// Boundary clocks keep running while suspended.
		c.buffer.Tick(now)
		return
	}

	chunk, err := c.encoder.Encode(samples, now, hint)
	if err != nil {
		// Sequence advanced, chunk dropped; the boundary clock still
		// has to run.
		if c.metrics != nil {
			c.metrics.RecordChunkDropped()
		}
		c.buffer.Tick(now)
		return
	}

	c.mu.Lock()
	c.chunksCaptured++
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordChunkEncoded(activity.Level)
	}

	c.sendChunk(chunk)

	c.buffer.Add(chunk, activity.Active)
	c.buffer.Tick(now)

	if c.metrics != nil {
		c.metrics.SetOpenSegments(c.buffer.OpenSegmentCount())
	}
}

// sendChunk ships one chunk over the session transport. A send failure
// drops the chunk; local segmentation already holds the audio, so
// nothing is buffered for replay into a later epoch.
func (c *Controller) sendChunk(chunk *audio.AudioChunk) {
	payload := message.AudioChunkPayload{
		Data:       base64.StdEncoding.EncodeToString(chunk.Payload),
		Timestamp:  chunk.CapturedAt.UnixMilli(),
		SequenceID: chunk.SequenceID,
		Speaker:    chunk.SpeakerHint,
	}

	msg, err := message.New(message.TypeAudioChunk, payload)
	if err != nil {
		c.logger.Error("Failed to build audio chunk message",
			slog.String("error", err.Error()),
		)
		return
	}

	if err := c.transport.Send(msg); err != nil {
		if c.metrics != nil {
			c.metrics.RecordMessageDropped()
		}
		c.logger.Debug("Audio chunk dropped",
			slog.Uint64("sequence_id", chunk.SequenceID),
			slog.String("error", err.Error()),
		)
		return
	}

	c.mu.Lock()
	c.chunksSent++
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordMessageSent()
	}
}

// sendControl ships a control command, best effort.
func (c *Controller) sendControl(action string) {
	msg, err := message.New(message.TypeControl, message.ControlPayload{Action: action})
	if err != nil {
		return
	}

	if err := c.transport.Send(msg); err != nil {
		c.logger.Warn("Control message dropped",
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
	}
}

// handleEpochChange reacts to transport epoch transitions. A terminated
// epoch flushes open segments: in-flight delivery for their chunks is
// unknown, and delivery guarantees never cross an epoch boundary.
func (c *Controller) handleEpochChange(epoch transport.Epoch) {
	if epoch.State == transport.StateOpen {
		if c.metrics != nil {
			c.metrics.RecordSessionEpoch()
		}
		c.logger.Info("Session epoch open",
			slog.Uint64("epoch_id", epoch.ID),
		)
		return
	}

	c.pipeMu.Lock()
	flushed := c.buffer.FlushOpen(time.Now())
	c.pipeMu.Unlock()

	if flushed > 0 {
		c.logger.Info("Flushed open segments on epoch end",
			slog.Uint64("epoch_id", epoch.ID),
			slog.Int("segments", flushed),
		)
	}
}

func (c *Controller) handleTranscript(msg message.TypedMessage) {
	var payload message.TranscriptUpdatePayload
	if err := message.DecodePayload(msg, &payload); err != nil {
		c.logger.Warn("Malformed transcript update",
			slog.String("error", err.Error()),
		)
		return
	}

	c.mu.Lock()
	c.transcripts++
	c.lastTranscript = payload.Transcript
	c.mu.Unlock()

	c.logger.Info("Transcript update",
		slog.String("transcript", payload.Transcript),
		slog.Float64("confidence", payload.Confidence),
	)
}

func (c *Controller) handleAIResponse(msg message.TypedMessage) {
	var payload message.AIResponsePayload
	if err := message.DecodePayload(msg, &payload); err != nil {
		c.logger.Warn("Malformed AI response",
			slog.String("error", err.Error()),
		)
		return
	}

	c.mu.Lock()
	c.aiResponses++
	c.mu.Unlock()

	c.logger.Info("AI response",
		slog.String("text", payload.AIText),
		slog.Bool("has_audio", payload.AudioData != ""),
	)
}

func (c *Controller) handleStatus(msg message.TypedMessage) {
	var payload message.StatusPayload
	if err := message.DecodePayload(msg, &payload); err != nil {
		return
	}

	c.logger.Info("Pipeline status",
		slog.String("status", payload.Status),
	)
}

func (c *Controller) handleControlResponse(msg message.TypedMessage) {
	var payload message.ControlResponsePayload
	if err := message.DecodePayload(msg, &payload); err != nil {
		return
	}

	c.logger.Debug("Control acknowledged",
		slog.String("action", payload.Action),
		slog.String("status", payload.Status),
	)
}

func (c *Controller) handleError(msg message.TypedMessage) {
	var payload message.ErrorPayload
	if err := message.DecodePayload(msg, &payload); err != nil {
		return
	}

	c.logger.Warn("Pipeline error",
		slog.String("message", payload.Message),
		slog.String("code", payload.Code),
	)
}

// handleSpeakers tracks the meeting roster and attributes subsequent
// chunks to whoever is currently speaking.
func (c *Controller) handleSpeakers(msg message.TypedMessage) {
	var payload message.SpeakersPayload
	if err := message.DecodePayload(msg, &payload); err != nil {
		c.logger.Warn("Malformed speakers roster",
			slog.String("error", err.Error()),
		)
		return
	}

	hint := ""
	for _, speaker := range payload.Speakers {
		if speaker.IsSpeaking {
			hint = speaker.ID
			break
		}
	}

	c.mu.Lock()
	c.speakerHint = hint
	c.mu.Unlock()
}
