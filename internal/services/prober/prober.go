package proberservice

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aler9/gortsplib"
	"github.com/aler9/gortsplib/pkg/url"
	"golang.org/x/time/rate"

	"github.com/zanzhit/live_recorder/internal/config"
	"github.com/zanzhit/live_recorder/internal/domain/models"
	"github.com/zanzhit/live_recorder/internal/lib/logger/sl"
	"github.com/zanzhit/live_recorder/internal/metrics"
)

const defaultTimeout = 2 * time.Second

// Capability is one way of telling whether a camera is reachable. A
// capability that cannot answer for a camera reports Unknown.
type Capability interface {
	Check(ctx context.Context, cam models.Camera) models.Status
}

type CapabilityFunc func(ctx context.Context, cam models.Camera) models.Status

func (f CapabilityFunc) Check(ctx context.Context, cam models.Camera) models.Status {
	return f(ctx, cam)
}

type Dialer interface {
	Probe(ctx context.Context, id models.CameraID) error
}

// WebSocket reports Online when the camera accepts a frame transport
// connection.
func WebSocket(dialer Dialer) Capability {
	return CapabilityFunc(func(ctx context.Context, cam models.Camera) models.Status {
		if err := dialer.Probe(ctx, cam.ID); err != nil {
			return models.StatusOffline
		}

		return models.StatusOnline
	})
}

// RTSP sends an OPTIONS request to the camera's RTSP endpoint. Cameras
// without one are Unknown.
func RTSP() Capability {
	return CapabilityFunc(func(ctx context.Context, cam models.Camera) models.Status {
		if cam.RTSPURL == "" {
			return models.StatusUnknown
		}

		u, err := url.Parse(cam.RTSPURL)
		if err != nil {
			return models.StatusUnknown
		}

		timeout := defaultTimeout
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}

		if timeout <= 0 {
			return models.StatusOffline
		}

		result := make(chan bool, 1)
		go func() {
			conn := gortsplib.Client{
				ReadTimeout:  timeout,
				WriteTimeout: timeout,
			}

			if err := conn.Start(u.Scheme, u.Host); err != nil {
				result <- false

				return
			}
			defer conn.Close()

			_, err := conn.Options(u)
			result <- err == nil
		}()

		select {
		case ok := <-result:
			if ok {
				return models.StatusOnline
			}

			return models.StatusOffline
		case <-ctx.Done():
			return models.StatusOffline
		}
	})
}

type Prober struct {
	log          *slog.Logger
	timeout      time.Duration
	limiter      *rate.Limiter
	capabilities []Capability
	metrics      metrics.Collector
}

func New(log *slog.Logger, cfg config.Prober, collector metrics.Collector, capabilities ...Capability) *Prober {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}

	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Prober{
		log:          log,
		timeout:      timeout,
		limiter:      rate.NewLimiter(limit, burst),
		capabilities: capabilities,
		metrics:      collector,
	}
}

// Probe asks every capability at once, each bounded by the probe timeout.
// The first Online answer wins; any other outcome, including all Unknown,
// is Offline.
func (p *Prober) Probe(ctx context.Context, cam models.Camera) models.Status {
	const op = "service.prober.Probe"

	log := p.log.With(
		slog.String("op", op),
		slog.String("camera_id", cam.ID.String()),
	)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	results := make(chan models.Status, len(p.capabilities))
	for _, c := range p.capabilities {
		go func(c Capability) {
			results <- c.Check(ctx, cam)
		}(c)
	}

	status := models.StatusOffline
	for range p.capabilities {
		if <-results == models.StatusOnline {
			status = models.StatusOnline

			break
		}
	}

	p.metrics.ProbeCompleted(string(status))
	log.Debug("probe finished", slog.String("status", string(status)))

	return status
}

// ProbeAll probes cameras in parallel, paced by the probe rate limit.
func (p *Prober) ProbeAll(ctx context.Context, cams []models.Camera) map[models.CameraID]models.Status {
	const op = "service.prober.ProbeAll"

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		statuses = make(map[models.CameraID]models.Status, len(cams))
	)

	for _, cam := range cams {
		if err := p.limiter.Wait(ctx); err != nil {
			p.log.Warn("probe pass interrupted", slog.String("op", op), sl.Err(err))

			mu.Lock()
			statuses[cam.ID] = models.StatusUnknown
			mu.Unlock()

			continue
		}

		wg.Add(1)
		go func(cam models.Camera) {
			defer wg.Done()

			status := p.Probe(ctx, cam)

			mu.Lock()
			statuses[cam.ID] = status
			mu.Unlock()
		}(cam)
	}

	wg.Wait()

	return statuses
}
