package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/zanzhit/live_recorder/internal/config"
	"github.com/zanzhit/live_recorder/internal/domain/errs"
	"github.com/zanzhit/live_recorder/internal/domain/models"
	"github.com/zanzhit/live_recorder/internal/lib/logger/sl"
	"github.com/zanzhit/live_recorder/internal/metrics"
)

const (
	writeWait   = 5 * time.Second
	sendBacklog = 16
)

type EventType int

const (
	EventOpened EventType = iota
	EventConfigured
	EventFrame
	EventClosed
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventOpened:
		return "opened"
	case EventConfigured:
		return "configured"
	case EventFrame:
		return "frame"
	case EventClosed:
		return "closed"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

type Event struct {
	Type    EventType
	Width   int
	Height  int
	Payload string
	Err     error
}

// Handler receives stream events sequentially on the stream's read goroutine.
type Handler func(Event)

// Command is an outbound control message.
type Command struct {
	Command string `json:"command,omitempty"`
	Quality string `json:"quality,omitempty"`
	Type    string `json:"type,omitempty"`
	Request string `json:"request,omitempty"`
}

func SetVideoQuality(quality string) Command {
	return Command{Command: "setVideoQuality", Quality: quality}
}

func RequestConfig() Command {
	return Command{Type: "config", Request: "full"}
}

type message struct {
	Type   string `json:"type"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Data   string `json:"data"`
}

type Client struct {
	log     *slog.Logger
	cfg     config.Transport
	dialer  *websocket.Dialer
	metrics metrics.Collector
}

func New(log *slog.Logger, cfg config.Transport, collector metrics.Collector) *Client {
	return &Client{
		log: log,
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.DialTimeout,
			ReadBufferSize:   64 * 1024,
		},
		metrics: collector,
	}
}

func (c *Client) URL(id models.CameraID) string {
	path := c.cfg.Path
	if path == "" {
		path = "/"
	}

	return "ws://" + id.String() + path
}

// Dial makes a single connection attempt bounded by the dial timeout.
func (c *Client) Dial(ctx context.Context, id models.CameraID) (*websocket.Conn, error) {
	const op = "transport.ws.Dial"

	if c.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.DialTimeout)
		defer cancel()
	}

	conn, _, err := c.dialer.DialContext(ctx, c.URL(id), nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, errs.ErrConnectionFailed, err)
	}

	return conn, nil
}

// Probe dials the camera and closes the connection right away.
func (c *Client) Probe(ctx context.Context, id models.CameraID) error {
	conn, err := c.Dial(ctx, id)
	if err != nil {
		return err
	}

	return conn.Close()
}

// Open starts a stream that stays connected until Close is called.
func (c *Client) Open(id models.CameraID, handler Handler) *Stream {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Stream{
		client:  c,
		id:      id,
		handler: handler,
		send:    make(chan Command, sendBacklog),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		log: c.log.With(
			slog.String("component", "transport.ws"),
			slog.String("camera_id", id.String()),
		),
	}

	go s.run()

	return s
}

// backoff returns the delay before reconnection attempt n (1-based): the base
// delay doubled per attempt, capped at the max delay.
func (c *Client) backoff(attempt int) time.Duration {
	delay := c.cfg.ReconnectDelay
	for i := 1; i < attempt && delay < c.cfg.MaxReconnectDelay; i++ {
		delay *= 2
	}

	if c.cfg.MaxReconnectDelay > 0 && delay > c.cfg.MaxReconnectDelay {
		delay = c.cfg.MaxReconnectDelay
	}

	return delay
}

type Stream struct {
	client  *Client
	id      models.CameraID
	handler Handler
	log     *slog.Logger
	send    chan Command

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	conn *websocket.Conn
}

// Send queues a command without waiting for delivery. Commands are dropped
// while disconnected or when the queue is full.
func (s *Stream) Send(cmd Command) {
	s.mu.Lock()
	connected := s.conn != nil
	s.mu.Unlock()

	if !connected {
		s.log.Debug("dropping command, not connected", slog.Any("command", cmd))

		return
	}

	select {
	case s.send <- cmd:
	default:
		s.log.Warn("dropping command, send queue full", slog.Any("command", cmd))
	}
}

// Close releases the stream. It aborts any in-progress receive and never
// waits for the read goroutine; use Done for that.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancel()

	if s.conn != nil {
		s.conn.Close()
	}
}

func (s *Stream) Done() <-chan struct{} {
	return s.done
}

func (s *Stream) run() {
	defer close(s.done)

	attempt := 0
	for {
		conn, err := s.client.Dial(s.ctx, s.id)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}

			s.log.Warn("camera unreachable", sl.Err(err))
			s.handler(Event{Type: EventError, Err: err})
		} else if s.setConn(conn) {
			attempt = 0

			s.log.Info("stream opened")
			s.handler(Event{Type: EventOpened})

			err = s.serve(conn)
			s.setConn(nil)

			if s.ctx.Err() != nil {
				return
			}

			s.log.Warn("stream closed unexpectedly", sl.Err(err))
			s.handler(Event{Type: EventClosed, Err: fmt.Errorf("%w: %w", errs.ErrConnectionClosed, err)})
		} else {
			return
		}

		attempt++
		if limit := s.client.cfg.MaxReconnects; limit > 0 && attempt > limit {
			s.log.Error("giving up on stream", slog.Int("attempts", attempt-1))

			return
		}

		delay := s.client.backoff(attempt)
		s.log.Info("reconnecting", slog.Int("attempt", attempt), slog.Duration("delay", delay))

		select {
		case <-time.After(delay):
			s.client.metrics.Reconnect(s.id.String())
		case <-s.ctx.Done():
			return
		}
	}
}

// setConn installs conn as the live connection. It refuses and closes conn
// when the stream was closed concurrently.
func (s *Stream) setConn(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conn != nil && s.ctx.Err() != nil {
		conn.Close()

		return false
	}

	s.conn = conn

	return true
}

func (s *Stream) serve(conn *websocket.Conn) error {
	stop := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.writePump(conn, stop)
	}()

	defer func() {
		close(stop)
		conn.Close()
		wg.Wait()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		s.dispatch(data)
	}
}

func (s *Stream) writePump(conn *websocket.Conn, stop <-chan struct{}) {
	for {
		select {
		case cmd := <-s.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(cmd); err != nil {
				s.log.Warn("failed to send command", sl.Err(err))

				return
			}
		case <-stop:
			return
		}
	}
}

func (s *Stream) dispatch(data []byte) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		s.handler(Event{Type: EventError, Err: fmt.Errorf("decode message: %w", err)})

		return
	}

	switch msg.Type {
	case "config":
		s.handler(Event{Type: EventConfigured, Width: msg.Width, Height: msg.Height})
	case "video":
		s.handler(Event{Type: EventFrame, Payload: msg.Data})
	default:
		s.log.Debug("ignoring message", slog.String("type", msg.Type))
	}
}
