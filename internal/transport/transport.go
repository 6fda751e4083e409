package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/eliteaimarch/AI-Zoom-Assistant/internal/message"
	"github.com/eliteaimarch/AI-Zoom-Assistant/internal/metrics"
)

// ConnState represents the transport connection state.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateOpen
	StateClosing
)

// String returns a human-readable state name.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Epoch identifies one continuous connection attempt. A new epoch starts
// on every Disconnected to Connecting transition; message ordering is
// guaranteed only within an epoch.
type Epoch struct {
	ID          uint64    `json:"id"`
	ConnectedAt time.Time `json:"connected_at"`
	State       ConnState `json:"state"`
}

var (
	// ErrNotConnected is returned by Send when the channel is not Open.
	// The message is dropped, never buffered across epochs.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrClosed is returned when the transport was explicitly closed
	// and no reconnect will happen without a new Open call.
	ErrClosed = errors.New("transport: closed")
)

// EpochObserver is notified when an epoch opens or closes. Observers run
// on a dedicated notifier goroutine, in event order, never on the
// goroutine that hit the fault: a Send caller holding its own locks can
// never deadlock against an observer that takes the same locks. A slow
// observer delays later notifications, nothing else.
type EpochObserver func(epoch Epoch)

// Config contains transport configuration.
type Config struct {
	URL              string
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
}

// Transport is a reconnecting websocket client multiplexing all typed
// message traffic for one session. Inbound messages are handed to the
// router; outbound messages fail fast when the channel is not Open.
type Transport struct {
	config  Config
	logger  *slog.Logger
	router  *message.Router
	dialer  *websocket.Dialer
	metrics *metrics.Metrics

	// events feeds the notifier goroutine that runs epoch observers.
	events chan Epoch

	mu             sync.Mutex
	state          ConnState
	conn           *websocket.Conn
	epoch          *Epoch
	epochSeq       uint64
	reconnectTimer *time.Timer
	openWaiters    []chan struct{}
	observers      []EpochObserver

	// writeMu serializes websocket writes: gorilla connections permit
	// only one concurrent writer, and serializing here preserves the
	// caller's in-epoch send order.
	writeMu sync.Mutex

	// Statistics
	messagesSent     uint64
	messagesDropped  uint64
	messagesReceived uint64
	parseErrors      uint64
	reconnects       uint64
}

// Stats represents transport statistics for monitoring.
type Stats struct {
	State            string `json:"state"`
	EpochID          uint64 `json:"epoch_id"`
	MessagesSent     uint64 `json:"messages_sent"`
	MessagesDropped  uint64 `json:"messages_dropped"`
	MessagesReceived uint64 `json:"messages_received"`
	ParseErrors      uint64 `json:"parse_errors"`
	Reconnects       uint64 `json:"reconnects"`
}

// New creates a session transport. Inbound messages are dispatched to the
// given router.
func New(config Config, router *message.Router, m *metrics.Metrics, logger *slog.Logger) *Transport {
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = 5 * time.Second
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 10 * time.Second
	}

	t := &Transport{
		config:  config,
		logger:  logger,
		router:  router,
		dialer:  &websocket.Dialer{HandshakeTimeout: config.HandshakeTimeout},
		metrics: m,
		state:   StateDisconnected,
		events:  make(chan Epoch, 16),
	}

	go t.notifyLoop()

	return t
}

// notifyLoop delivers epoch events to observers, one at a time and in
// the order they happened.
func (t *Transport) notifyLoop() {
	for epoch := range t.events {
		t.mu.Lock()
		observers := t.observers
		t.mu.Unlock()

		for _, observer := range observers {
			observer(epoch)
		}
	}
}

// notifyEpoch queues an epoch event for the notifier goroutine. Must not
// be called with the mutex held: a full queue blocks until the notifier
// drains.
func (t *Transport) notifyEpoch(epoch Epoch) {
	t.events <- epoch
}

// OnEpochChange registers an observer for epoch open/close events.
// Must be called before Open.
func (t *Transport) OnEpochChange(observer EpochObserver) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, observer)
}

// Open starts connecting. Idempotent: a transport that is already
// Connecting or Open is left alone.
func (t *Transport) Open() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateConnecting || t.state == StateOpen {
		return
	}

	t.cancelReconnectLocked()
	t.beginEpochLocked()
}

// Close cancels any pending reconnect and forces Disconnected. Terminal
// until Open is called again.
func (t *Transport) Close() {
	t.mu.Lock()

	t.cancelReconnectLocked()

	if t.state == StateDisconnected {
		t.failWaitersLocked()
		t.mu.Unlock()
		return
	}

	t.state = StateClosing
	conn := t.conn
	t.conn = nil

	var closedEpoch *Epoch
	if t.epoch != nil && t.epoch.State != StateDisconnected {
		t.epoch.State = StateDisconnected
		closedEpoch = t.epoch
	}

	t.state = StateDisconnected
	t.failWaitersLocked()
	t.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"), deadline)
		_ = conn.Close()
	}

	if closedEpoch != nil {
		t.notifyEpoch(*closedEpoch)
	}

	t.logger.Info("Transport closed")
}

// Send transmits one typed message. When the channel is not Open the
// message is dropped and ErrNotConnected returned immediately; there is
// no store-and-forward across epochs, so stale audio is never replayed
// into a terminated session.
func (t *Transport) Send(msg message.TypedMessage) error {
	t.mu.Lock()
	if t.state != StateOpen || t.conn == nil {
		t.messagesDropped++
		t.mu.Unlock()
		return fmt.Errorf("%w: dropping %s message", ErrNotConnected, msg.Type)
	}
	conn := t.conn
	t.mu.Unlock()

	data, err := message.Encode(msg)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	t.writeMu.Unlock()

	if err != nil {
		t.handleConnError(conn, fmt.Errorf("write failed: %w", err))
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	t.mu.Lock()
	t.messagesSent++
	t.mu.Unlock()

	return nil
}

// State returns the current connection state.
func (t *Transport) State() ConnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// CurrentEpoch returns a snapshot of the current epoch, or a zero Epoch
// when none has started.
func (t *Transport) CurrentEpoch() Epoch {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.epoch == nil {
		return Epoch{}
	}
	return *t.epoch
}

// WaitOpen blocks until the transport reaches Open, the context is done,
// or the transport was explicitly closed.
func (t *Transport) WaitOpen(ctx context.Context) error {
	t.mu.Lock()
	if t.state == StateOpen {
		t.mu.Unlock()
		return nil
	}
	if t.state == StateDisconnected && t.reconnectTimer == nil {
		t.mu.Unlock()
		return ErrClosed
	}

	waiter := make(chan struct{})
	t.openWaiters = append(t.openWaiters, waiter)
	t.mu.Unlock()

	select {
	case <-waiter:
		if t.State() != StateOpen {
			return ErrClosed
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetStats returns current transport statistics
func (t *Transport) GetStats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	epochID := uint64(0)
	if t.epoch != nil {
		epochID = t.epoch.ID
	}

	return Stats{
		State:            t.state.String(),
		EpochID:          epochID,
		MessagesSent:     t.messagesSent,
		MessagesDropped:  t.messagesDropped,
		MessagesReceived: t.messagesReceived,
		ParseErrors:      t.parseErrors,
		Reconnects:       t.reconnects,
	}
}

// beginEpochLocked starts a new epoch and its dial attempt. Caller holds
// the mutex.
func (t *Transport) beginEpochLocked() {
	t.state = StateConnecting
	t.epochSeq++
	t.epoch = &Epoch{ID: t.epochSeq, State: StateConnecting}

	epochID := t.epochSeq
	t.logger.Info("Connecting session transport",
		slog.Uint64("epoch_id", epochID),
		slog.String("url", t.config.URL),
	)

	go t.connect(epochID)
}

// connect dials the websocket endpoint for one epoch.
func (t *Transport) connect(epochID uint64) {
	conn, _, err := t.dialer.Dial(t.config.URL, nil)

	t.mu.Lock()

	// A Close or a newer epoch may have superseded this attempt.
	if t.state != StateConnecting || t.epoch == nil || t.epoch.ID != epochID {
		t.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}

	if err != nil {
		t.logger.Warn("Transport dial failed",
			slog.Uint64("epoch_id", epochID),
			slog.String("error", err.Error()),
		)
		t.epoch.State = StateDisconnected
		closedEpoch := *t.epoch
		t.scheduleReconnectLocked()
		t.mu.Unlock()

		t.notifyEpoch(closedEpoch)
		return
	}

	t.conn = conn
	t.state = StateOpen
	t.epoch.State = StateOpen
	t.epoch.ConnectedAt = time.Now()
	openEpoch := *t.epoch

	for _, waiter := range t.openWaiters {
		close(waiter)
	}
	t.openWaiters = nil
	t.mu.Unlock()

	t.logger.Info("Session transport open",
		slog.Uint64("epoch_id", epochID),
	)

	t.notifyEpoch(openEpoch)

	go t.readPump(conn, epochID)
}

// readPump reads frames for one epoch until the connection fails or is
// closed. A frame that fails to parse is logged and discarded; it never
// tears the channel down.
func (t *Transport) readPump(conn *websocket.Conn, epochID uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.handleConnError(conn, fmt.Errorf("read failed: %w", err))
			return
		}

		msg, err := message.Decode(data)
		if err != nil {
			t.mu.Lock()
			t.parseErrors++
			t.mu.Unlock()

			if t.metrics != nil {
				t.metrics.RecordParseError()
			}
			t.logger.Warn("Discarding malformed inbound message",
				slog.Uint64("epoch_id", epochID),
				slog.String("error", err.Error()),
			)
			continue
		}

		t.mu.Lock()
		t.messagesReceived++
		t.mu.Unlock()

		if t.metrics != nil {
			t.metrics.RecordMessageReceived()
		}

		t.router.Dispatch(msg)
	}
}

// handleConnError processes a transport fault on the given connection,
// closing the epoch and scheduling a reconnect unless the transport was
// deliberately closed.
func (t *Transport) handleConnError(conn *websocket.Conn, err error) {
	t.mu.Lock()

	// Stale connection: an explicit Close or a later epoch already
	// replaced it.
	if t.conn != conn {
		t.mu.Unlock()
		return
	}

	t.conn = nil
	_ = conn.Close()

	t.logger.Warn("Transport fault, scheduling reconnect",
		slog.Uint64("epoch_id", t.epoch.ID),
		slog.Duration("delay", t.config.ReconnectDelay),
		slog.String("error", err.Error()),
	)

	t.epoch.State = StateDisconnected
	closedEpoch := *t.epoch
	t.scheduleReconnectLocked()
	t.mu.Unlock()

	t.notifyEpoch(closedEpoch)
}

// scheduleReconnectLocked arms the reconnect timer. Caller holds the
// mutex.
func (t *Transport) scheduleReconnectLocked() {
	t.state = StateDisconnected
	t.reconnects++

	if t.metrics != nil {
		t.metrics.RecordReconnect()
	}

	t.reconnectTimer = time.AfterFunc(t.config.ReconnectDelay, func() {
		t.mu.Lock()
		defer t.mu.Unlock()

		// Close may have fired between the timer and the lock.
		if t.reconnectTimer == nil || t.state != StateDisconnected {
			return
		}
		t.reconnectTimer = nil
		t.beginEpochLocked()
	})
}

// cancelReconnectLocked stops any pending reconnect timer. Caller holds
// the mutex.
func (t *Transport) cancelReconnectLocked() {
	if t.reconnectTimer != nil {
		t.reconnectTimer.Stop()
		t.reconnectTimer = nil
	}
}

// failWaitersLocked releases WaitOpen callers after a terminal close.
// Caller holds the mutex.
func (t *Transport) failWaitersLocked() {
	for _, waiter := range t.openWaiters {
		close(waiter)
	}
	t.openWaiters = nil
}
