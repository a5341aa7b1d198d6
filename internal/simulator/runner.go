package simulator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/okian/pulse/internal/adapters/mq/queue"
	"github.com/okian/pulse/internal/adapters/mq/worker"
	"github.com/okian/pulse/pkg/logger"
)

const (
	shutdownTimeout = 10 * time.Second
	guestName       = "Drop-in Guest"
)

type user struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Devices []string `json:"devices"`
}

type counters struct {
	accepted, throttled, failed atomic.Int64
}

// Run registers the riders, streams their samples for cfg.Duration, then ends
// the session and reads back the leaderboard.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := logger.GetOrNop().Named("simulator")
	stats := &Stats{StartTime: time.Now()}
	client := newHTTPClient(cfg.BaseURL, cfg.Timeout)
	riders := NewRiders(cfg.Riders, cfg.Seed)

	log.Info(ctx, "starting simulated class",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("riders", cfg.Riders),
		logger.Duration("duration", cfg.Duration),
		logger.Duration("cadence", cfg.Cadence),
		logger.Int("workers", cfg.Workers),
	)

	if _, err := client.do(ctx, http.MethodGet, "/healthz", nil, nil); err != nil {
		return nil, fmt.Errorf("service health check failed: %w", err)
	}
	if err := registerRiders(ctx, client, riders); err != nil {
		return nil, fmt.Errorf("roster registration failed: %w", err)
	}

	var c counters
	q := queue.NewInMemoryQueue[Sample](
		queue.WithName("simulator"),
		queue.WithCapacity(cfg.Riders*4),
	)
	pool := worker.NewPool[Sample](cfg.Workers, q, worker.HandlerFunc[Sample](func(ctx context.Context, s Sample) error {
		status, err := client.do(ctx, http.MethodPost, "/samples", s, nil)
		switch {
		case status == http.StatusTooManyRequests:
			c.throttled.Add(1)
		case err != nil:
			c.failed.Add(1)
			return err
		default:
			c.accepted.Add(1)
		}
		return nil
	}), worker.WithName("simulator"), worker.WithLogger(log))
	pool.Start(ctx)

	if err := stream(ctx, cfg, client, riders, q, stats); err != nil {
		log.Warn(ctx, "streaming stopped early", logger.Error(err))
	}

	_ = q.Close()
	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := pool.Shutdown(drainCtx); err != nil {
		log.Warn(ctx, "sample workers did not drain", logger.Error(err))
	}
	stats.SamplesAccepted = int(c.accepted.Load())
	stats.SamplesThrottled = int(c.throttled.Load())
	stats.SamplesFailed = int(c.failed.Load())

	if !cfg.NoEnd {
		var res EndResult
		if _, err := client.do(drainCtx, http.MethodPost, "/session/end", nil, &res); err != nil {
			return stats, fmt.Errorf("ending session failed: %w", err)
		}
		stats.SessionID, stats.Saved, stats.Rejection = res.SessionID, res.Saved, res.Rejection
	}

	var board []Standing
	if _, err := client.do(drainCtx, http.MethodGet, fmt.Sprintf("/leaderboard?limit=%d", cfg.Riders+1), nil, &board); err != nil {
		log.Warn(ctx, "failed to read leaderboard", logger.Error(err))
	}
	stats.LeaderboardLength = len(board)

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, log, stats, board)
	return stats, nil
}

func registerRiders(ctx context.Context, client *HTTPClient, riders []*Rider) error {
	users := make([]user, len(riders))
	for i, r := range riders {
		users[i] = user{ID: r.ID, Name: r.Name, Devices: []string{r.StrapID, r.BikeID}}
	}
	_, err := client.do(ctx, http.MethodPut, "/roster", map[string]any{"users": users}, nil)
	return err
}

// stream enqueues one round of samples per cadence until the duration ends.
func stream(ctx context.Context, cfg *Config, client *HTTPClient, riders []*Rider, q *queue.InMemoryQueue[Sample], stats *Stats) error {
	ticker := time.NewTicker(cfg.Cadence)
	defer ticker.Stop()

	start := time.Now()
	for {
		elapsed := time.Since(start)
		if elapsed >= cfg.Duration {
			return nil
		}
		if cfg.GuestSwapAt > 0 && !stats.GuestSwapped && elapsed >= cfg.GuestSwapAt {
			body := map[string]any{"device_id": riders[0].StrapID, "name": guestName, "guest": true}
			if _, err := client.do(ctx, http.MethodPost, "/assignments", body, nil); err != nil {
				return fmt.Errorf("guest swap failed: %w", err)
			}
			stats.GuestSwapped = true
		}

		stats.Rounds++
		for _, r := range riders {
			for _, s := range r.Samples(elapsed, cfg.Cadence) {
				stats.SamplesGenerated++
				if err := q.Enqueue(ctx, s); err != nil {
					if !errors.Is(err, queue.ErrFull) {
						return err
					}
					stats.SamplesDropped++
				}
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// displayFinalStats logs the final run statistics.
func displayFinalStats(ctx context.Context, log logger.Logger, stats *Stats, board []Standing) {
	var samplesPerSecond float64
	if stats.Duration > 0 {
		samplesPerSecond = float64(stats.SamplesAccepted) / stats.Duration.Seconds()
	}
	log.Info(ctx, "final statistics",
		logger.Int("rounds", stats.Rounds),
		logger.Int("samplesGenerated", stats.SamplesGenerated),
		logger.Int("samplesAccepted", stats.SamplesAccepted),
		logger.Int("samplesThrottled", stats.SamplesThrottled),
		logger.Int("samplesFailed", stats.SamplesFailed),
		logger.Int("samplesDropped", stats.SamplesDropped),
		logger.Bool("guestSwapped", stats.GuestSwapped),
		logger.String("session", stats.SessionID),
		logger.Bool("saved", stats.Saved),
		logger.String("rejection", stats.Rejection),
		logger.Duration("duration", stats.Duration),
		logger.Float64("samplesPerSecond", samplesPerSecond),
	)
	for _, s := range board {
		log.Info(ctx, "standing",
			logger.Int("rank", s.Rank),
			logger.String("participant", s.ParticipantID),
			logger.Int("coins", s.Coins),
		)
	}
}
