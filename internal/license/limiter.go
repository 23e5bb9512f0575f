package license

import (
	"sync"
	"time"
)

// AttemptLimiter blocks an identifier (typically the device fingerprint)
// after repeated failed activation attempts inside a rolling window. A
// successful attempt clears the identifier's history.
type AttemptLimiter struct {
	attemptCounts map[string]int
	lastAttempts  map[string]time.Time
	blocked       map[string]time.Time

	mutex          sync.Mutex
	maxAttempts    int
	blockDuration  time.Duration
	windowDuration time.Duration
	stopChan       chan struct{}
	stopOnce       sync.Once
}

// NewAttemptLimiter creates a limiter that blocks for blockDuration after
// maxAttempts failures within windowDuration.
func NewAttemptLimiter(maxAttempts int, blockDuration, windowDuration time.Duration) *AttemptLimiter {
	l := &AttemptLimiter{
		attemptCounts:  make(map[string]int),
		lastAttempts:   make(map[string]time.Time),
		blocked:        make(map[string]time.Time),
		maxAttempts:    maxAttempts,
		blockDuration:  blockDuration,
		windowDuration: windowDuration,
		stopChan:       make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// IsBlocked reports whether the identifier is currently blocked.
func (l *AttemptLimiter) IsBlocked(identifier string) bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	blockedAt, exists := l.blocked[identifier]
	if !exists {
		return false
	}
	if time.Since(blockedAt) < l.blockDuration {
		return true
	}
	delete(l.blocked, identifier)
	return false
}

// RecordAttempt records the outcome of an activation attempt and returns
// false if the identifier has just crossed the block threshold.
func (l *AttemptLimiter) RecordAttempt(identifier string, success bool) bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if success {
		delete(l.attemptCounts, identifier)
		delete(l.lastAttempts, identifier)
		return true
	}

	now := time.Now()
	if last, exists := l.lastAttempts[identifier]; exists && now.Sub(last) <= l.windowDuration {
		l.attemptCounts[identifier]++
	} else {
		l.attemptCounts[identifier] = 1
	}
	l.lastAttempts[identifier] = now

	if l.attemptCounts[identifier] >= l.maxAttempts {
		l.blocked[identifier] = now
		return false
	}
	return true
}

// Stop terminates the background cleanup goroutine.
func (l *AttemptLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopChan) })
}

func (l *AttemptLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.mutex.Lock()
			now := time.Now()
			for id, last := range l.lastAttempts {
				if now.Sub(last) > l.windowDuration {
					delete(l.lastAttempts, id)
					delete(l.attemptCounts, id)
				}
			}
			for id, blockedAt := range l.blocked {
				if now.Sub(blockedAt) >= l.blockDuration {
					delete(l.blocked, id)
				}
			}
			l.mutex.Unlock()
		case <-l.stopChan:
			return
		}
	}
}
