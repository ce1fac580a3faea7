package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

const maxLoginBody = 64 << 10

// LoginLimiter locks out a (client address, username) pair after limit
// failed logins inside one window. A successful login clears the pair.
type LoginLimiter struct {
	mu       sync.Mutex
	failures map[string]*failureWindow
	limit    int
	window   time.Duration
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

type failureWindow struct {
	count   int
	resetAt time.Time
}

func NewLoginLimiter(limit int, window time.Duration) *LoginLimiter {
	return NewLoginLimiterWithNow(limit, window, time.Now)
}

func NewLoginLimiterWithNow(limit int, window time.Duration, now func() time.Time) *LoginLimiter {
	l := &LoginLimiter{
		failures: make(map[string]*failureWindow),
		limit:    limit,
		window:   window,
		now:      now,
		stop:     make(chan struct{}),
	}
	go l.expire()
	return l
}

func (l *LoginLimiter) expire() {
	if l.window <= 0 {
		return
	}

	ticker := time.NewTicker(l.window)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
		}
		l.mu.Lock()
		now := l.now()
		for key, w := range l.failures {
			if !now.Before(w.resetAt) {
				delete(l.failures, key)
			}
		}
		l.mu.Unlock()
	}
}

func (l *LoginLimiter) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Blocked reports whether key is locked out and for how much longer.
func (l *LoginLimiter) Blocked(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.failures[key]
	if !ok {
		return false, 0
	}
	now := l.now()
	if !now.Before(w.resetAt) {
		delete(l.failures, key)
		return false, 0
	}
	if w.count < l.limit {
		return false, 0
	}
	return true, w.resetAt.Sub(now)
}

func (l *LoginLimiter) RecordFailure(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.failures[key]
	if !ok || !now.Before(w.resetAt) {
		l.failures[key] = &failureWindow{count: 1, resetAt: now.Add(l.window)}
		return
	}
	w.count++
}

func (l *LoginLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.failures, key)
}

// LoginKey identifies a login attempt by client address and the username in
// the JSON body. The body is restored for the handler.
func LoginKey(c *gin.Context) string {
	username := ""
	if c.Request.Body != nil {
		data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxLoginBody))
		if err == nil {
			var body struct {
				Username string `json:"username"`
			}
			if json.Unmarshal(data, &body) == nil {
				username = strings.ToLower(strings.TrimSpace(body.Username))
			}
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(data))
	}
	return c.ClientIP() + "|" + username
}

// LoginThrottle rejects locked-out attempts with 429. Rejected credentials
// (401) count against the key; any 2xx answer clears it.
func LoginThrottle(l *LoginLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := LoginKey(c)
		if blocked, retry := l.Blocked(key); blocked {
			secs := int(retry.Round(time.Second) / time.Second)
			if secs < 1 {
				secs = 1
			}
			c.Header("Retry-After", strconv.Itoa(secs))
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many failed login attempts"})
			c.Abort()
			return
		}

		c.Next()

		switch status := c.Writer.Status(); {
		case status == http.StatusUnauthorized:
			l.RecordFailure(key)
		case status >= 200 && status < 300:
			l.Reset(key)
		}
	}
}
