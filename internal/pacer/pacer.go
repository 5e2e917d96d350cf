package pacer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/zanzhit/live_recorder/internal/domain/models"
	"github.com/zanzhit/live_recorder/internal/lib/logger/sl"
	"github.com/zanzhit/live_recorder/internal/metrics"
)

const (
	MinRate     = 5
	MaxRate     = 30
	DefaultRate = 30

	// A queue deeper than maxDepth is cut down to the newest keepDepth frames.
	maxDepth  = 10
	keepDepth = 5
	// Above freshDepth a tick forwards the newest frame instead of the oldest.
	freshDepth = 3
)

// Sink displays one frame. Forwards never overlap for a given pacer.
type Sink func(ctx context.Context, frame models.Frame) error

// TargetRate derives a display rate in frames per second from the stream
// resolution.
func TargetRate(width, height int) int {
	pixels := width * height

	switch {
	case pixels > 1_000_000:
		return 15
	case pixels > 500_000:
		return 20
	default:
		return 30
	}
}

type Pacer struct {
	log      *slog.Logger
	cameraID string
	sink     Sink
	metrics  metrics.Collector

	mu       sync.Mutex
	queue    []models.Frame
	interval time.Duration
	inFlight bool
	reset    chan struct{}
}

func New(log *slog.Logger, cameraID string, sink Sink, collector metrics.Collector, rate int) *Pacer {
	return &Pacer{
		log:      log.With(slog.String("component", "pacer"), slog.String("camera_id", cameraID)),
		cameraID: cameraID,
		sink:     sink,
		metrics:  collector,
		queue:    make([]models.Frame, 0, maxDepth+1),
		interval: intervalFor(rate),
		reset:    make(chan struct{}, 1),
	}
}

func intervalFor(rate int) time.Duration {
	if rate < MinRate {
		rate = MinRate
	}

	if rate > MaxRate {
		rate = MaxRate
	}

	return time.Second / time.Duration(rate)
}

// Push enqueues a frame. It never blocks on the sink.
func (p *Pacer) Push(frame models.Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.queue = append(p.queue, frame)

	if len(p.queue) > maxDepth {
		dropped := len(p.queue) - keepDepth
		p.queue = append(p.queue[:0], p.queue[dropped:]...)
		p.metrics.FramesDropped(p.cameraID, dropped)
	}
}

// SetResolution re-derives the target rate for a new stream resolution.
func (p *Pacer) SetResolution(width, height int) {
	p.mu.Lock()
	p.interval = intervalFor(TargetRate(width, height))
	p.mu.Unlock()

	select {
	case p.reset <- struct{}{}:
	default:
	}
}

func (p *Pacer) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.queue)
}

func (p *Pacer) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.interval
}

// Run forwards frames on every tick until ctx is done.
func (p *Pacer) Run(ctx context.Context) {
	ticker := time.NewTicker(p.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.tick(ctx)
		case <-p.reset:
			ticker.Reset(p.Interval())
		case <-ctx.Done():
			return
		}
	}
}

// tick starts at most one forward. It is a no-op while a previous forward is
// still in flight or the queue is empty.
func (p *Pacer) tick(ctx context.Context) bool {
	p.mu.Lock()

	if p.inFlight || len(p.queue) == 0 {
		p.mu.Unlock()

		return false
	}

	var frame models.Frame
	if len(p.queue) > freshDepth {
		frame = p.queue[len(p.queue)-1]
		p.metrics.FramesDropped(p.cameraID, len(p.queue)-1)
		p.queue = p.queue[:0]
	} else {
		frame = p.queue[0]
		p.queue = append(p.queue[:0], p.queue[1:]...)
	}

	p.inFlight = true
	p.mu.Unlock()

	go p.forward(ctx, frame)

	return true
}

func (p *Pacer) forward(ctx context.Context, frame models.Frame) {
	defer func() {
		p.mu.Lock()
		p.inFlight = false
		p.mu.Unlock()
	}()

	if err := p.sink(ctx, frame); err != nil {
		p.log.Warn("failed to display frame", sl.Err(err))

		return
	}

	p.metrics.FramesForwarded(p.cameraID)
}
