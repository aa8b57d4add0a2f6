package main

import (
	"net"
	"sync"
	"time"
)

// LoginRateLimiter tracks failed login attempts per IP+email and blocks
// repeat offenders for a configurable window.
type LoginRateLimiter struct {
	mu            sync.RWMutex
	attempts      map[string]*loginAttemptRecord
	maxAttempts   int
	blockDuration time.Duration
	window        time.Duration
	stopCleanup   chan struct{}
	stopOnce      sync.Once
}

type loginAttemptRecord struct {
	firstAttempt time.Time
	lastAttempt  time.Time
	failureCount int
	blockedUntil time.Time
}

// NewLoginRateLimiter creates a rate limiter and starts its cleanup loop.
func NewLoginRateLimiter(maxAttempts int, blockDuration, window time.Duration) *LoginRateLimiter {
	rl := &LoginRateLimiter{
		attempts:      make(map[string]*loginAttemptRecord),
		maxAttempts:   maxAttempts,
		blockDuration: blockDuration,
		window:        window,
		stopCleanup:   make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// RecordFailure records a failed login. Returns whether the client is now
// blocked and the failure count in the current window.
func (rl *LoginRateLimiter) RecordFailure(ip, email string) (bool, int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	key := ip + ":" + email
	now := time.Now()

	record, exists := rl.attempts[key]
	if !exists {
		rl.attempts[key] = &loginAttemptRecord{
			firstAttempt: now,
			lastAttempt:  now,
			failureCount: 1,
		}
		return false, 1
	}

	if now.Before(record.blockedUntil) {
		record.lastAttempt = now
		record.failureCount++
		return true, record.failureCount
	}

	// Window expired: start counting fresh.
	if now.Sub(record.firstAttempt) > rl.window {
		record.firstAttempt = now
		record.lastAttempt = now
		record.failureCount = 1
		return false, 1
	}

	record.lastAttempt = now
	record.failureCount++
	if record.failureCount >= rl.maxAttempts {
		record.blockedUntil = now.Add(rl.blockDuration)
		return true, record.failureCount
	}
	return false, record.failureCount
}

// IsBlocked reports whether the IP+email pair is currently blocked and until
// when.
func (rl *LoginRateLimiter) IsBlocked(ip, email string) (bool, time.Time) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	record, exists := rl.attempts[ip+":"+email]
	if !exists {
		return false, time.Time{}
	}
	if now := time.Now(); now.Before(record.blockedUntil) {
		return true, record.blockedUntil
	}
	return false, time.Time{}
}

// RecordSuccess clears the failure record after a successful login.
func (rl *LoginRateLimiter) RecordSuccess(ip, email string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.attempts, ip+":"+email)
}

// Stop terminates the cleanup goroutine. Safe to call more than once;
// initAuth stops a leftover limiter when it reinitializes.
func (rl *LoginRateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}

func (rl *LoginRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *LoginRateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for key, record := range rl.attempts {
		expiredBlock := now.After(record.blockedUntil) && now.Sub(record.lastAttempt) > rl.window
		stale := now.Sub(record.lastAttempt) > rl.blockDuration*2
		if expiredBlock || stale {
			delete(rl.attempts, key)
		}
	}
}

// clientIP strips the port from a remote address.
func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
