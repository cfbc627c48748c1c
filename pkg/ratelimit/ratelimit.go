// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-stepup.
//
// go-stepup is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package ratelimit throttles authentication attempts per key (session,
// user, or IP). Each key gets a token bucket holding a full burst of
// attempts that refills over the configured window; a throttled attempt
// does not consume tokens, so hammering a locked-out key does not extend
// the lockout.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config holds attempt limiter configuration.
type Config struct {
	// Enabled controls whether limiting is active.
	Enabled bool `yaml:"enabled" json:"enabled" mapstructure:"enabled"`

	// Attempts is the number of attempts allowed per window. Default: 5.
	Attempts int `yaml:"attempts" json:"attempts" mapstructure:"attempts"`

	// Window is the period over which spent attempts are restored.
	// Default: 1 minute.
	Window time.Duration `yaml:"window" json:"window" mapstructure:"window"`

	// CleanupInterval controls how often idle keys are removed.
	// Defaults to 10 minutes.
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval" mapstructure:"cleanup_interval"`

	// MaxIdle is how long a key can be idle before cleanup.
	// Defaults to 30 minutes.
	MaxIdle time.Duration `yaml:"max_idle" json:"max_idle" mapstructure:"max_idle"`
}

// AttemptLimiter tracks per-key token buckets.
type AttemptLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	lastSeen map[string]time.Time
	refill   rate.Limit
	burst    int
	enabled  bool

	cleanupInterval time.Duration
	maxIdle         time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// New creates a new attempt limiter with the given configuration.
func New(config *Config) *AttemptLimiter {
	if config == nil {
		config = &Config{Enabled: false}
	}

	attempts := config.Attempts
	if attempts == 0 {
		attempts = 5
	}

	window := config.Window
	if window == 0 {
		window = time.Minute
	}

	cleanupInterval := config.CleanupInterval
	if cleanupInterval == 0 {
		cleanupInterval = 10 * time.Minute
	}

	maxIdle := config.MaxIdle
	if maxIdle == 0 {
		maxIdle = 30 * time.Minute
	}

	l := &AttemptLimiter{
		limiters:        make(map[string]*rate.Limiter),
		lastSeen:        make(map[string]time.Time),
		refill:          rate.Every(window / time.Duration(attempts)),
		burst:           attempts,
		enabled:         config.Enabled,
		cleanupInterval: cleanupInterval,
		maxIdle:         maxIdle,
		stopCleanup:     make(chan struct{}),
	}

	if config.Enabled {
		go l.cleanupWorker()
	}

	return l
}

// getLimiter returns the token bucket for a given key, creating one holding
// a full burst if it doesn't exist.
func (l *AttemptLimiter) getLimiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(l.refill, l.burst)
		l.limiters[key] = limiter
	}

	l.lastSeen[key] = time.Now()
	return limiter
}

// Allow consumes one attempt for the key. When the key is throttled it
// reports the wait until the next attempt becomes available and consumes
// nothing.
func (l *AttemptLimiter) Allow(key string) (retryAfter time.Duration, ok bool) {
	if !l.enabled {
		return 0, true
	}

	limiter := l.getLimiter(key)

	r := limiter.Reserve()
	if !r.OK() {
		return l.maxIdle, false
	}
	if delay := r.Delay(); delay > 0 {
		r.Cancel()
		return delay, false
	}
	return 0, true
}

// Reset clears the bucket for a key, restoring the full attempt budget.
// Called after a successful authentication.
func (l *AttemptLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, key)
	delete(l.lastSeen, key)
}

// cleanupWorker periodically removes idle keys from memory.
func (l *AttemptLimiter) cleanupWorker() {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCleanup:
			return
		}
	}
}

// cleanup removes keys that haven't attempted recently.
func (l *AttemptLimiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for key, lastSeen := range l.lastSeen {
		if now.Sub(lastSeen) > l.maxIdle {
			delete(l.limiters, key)
			delete(l.lastSeen, key)
		}
	}
}

// Stop stops the cleanup worker.
func (l *AttemptLimiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCleanup)
	})
}

// Stats returns current limiter statistics.
func (l *AttemptLimiter) Stats() map[string]interface{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	return map[string]interface{}{
		"enabled":     l.enabled,
		"active_keys": len(l.limiters),
		"attempts":    l.burst,
	}
}
