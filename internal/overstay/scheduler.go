package overstay

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/hotel-pms-backend/pkg/logging"
)

// SweepLock keeps concurrent API replicas from sweeping at the same time.
type SweepLock interface {
	Acquire(ctx context.Context, ttl time.Duration) (bool, error)
	Release(ctx context.Context) error
}

// releaseScript deletes the lock only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisSweepLock is a SET NX lease keyed per deployment.
type RedisSweepLock struct {
	client *redis.Client
	key    string
	owner  string
}

func NewRedisSweepLock(client *redis.Client, key string) *RedisSweepLock {
	if client == nil {
		panic("overstay: redis client required")
	}
	if key == "" {
		key = "overstay:sweep:lock"
	}
	host, _ := os.Hostname()
	return &RedisSweepLock{
		client: client,
		key:    key,
		owner:  fmt.Sprintf("%s:%d:%d", host, os.Getpid(), time.Now().UnixNano()),
	}
}

func (l *RedisSweepLock) Acquire(ctx context.Context, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("overstay: acquire sweep lock: %w", err)
	}
	return ok, nil
}

func (l *RedisSweepLock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("overstay: release sweep lock: %w", err)
	}
	return nil
}

// Scheduler runs the detector on a fixed interval.
type Scheduler struct {
	detector *Detector
	lock     SweepLock
	interval time.Duration
	logger   *logging.Logger
	now      func() time.Time
}

func NewScheduler(detector *Detector, lock SweepLock, interval time.Duration, logger *logging.Logger) *Scheduler {
	if detector == nil {
		panic("overstay: detector required")
	}
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Scheduler{
		detector: detector,
		lock:     lock,
		interval: interval,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start sweeps once immediately, then on every tick until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("overstay scheduler started", "interval", s.interval.String())
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("overstay scheduler stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce sweeps if the lock is free. It reports whether a sweep ran.
func (s *Scheduler) RunOnce(ctx context.Context) bool {
	if s.lock != nil {
		ok, err := s.lock.Acquire(ctx, s.interval/2)
		if err != nil {
			// Without Redis every replica sweeps; incidents stay unique either way.
			s.logger.Warn("sweep lock unavailable, sweeping anyway", "error", err)
		} else if !ok {
			s.logger.Debug("overstay sweep held by another replica")
			return false
		} else {
			defer func() {
				if err := s.lock.Release(context.WithoutCancel(ctx)); err != nil {
					s.logger.Warn("failed to release sweep lock", "error", err)
				}
			}()
		}
	}

	res, err := s.detector.DetectAll(ctx, s.now())
	if err != nil {
		s.logger.Error("overstay sweep failed", "error", err)
		return true
	}
	s.logger.Info("overstay sweep complete", "properties", len(res.Properties), "flagged", res.Flagged(), "failed", len(res.Failed))
	return true
}
