package retry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

type statusErr int

func (s statusErr) Error() string   { return fmt.Sprintf("status %d", int(s)) }
func (s statusErr) StatusCode() int { return int(s) }

func makeClient(t *testing.T, cfg Config) (*Client, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetLevel(logrus.DebugLevel)
	return NewClient(l, cfg), &buf
}

func fastConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Timeout:        time.Second,
	}
}

func TestNewClient_ConfigSanitizationAndDefaults(t *testing.T) {
	c := NewClient(nil, Config{MaxRetries: -1})

	if c.logger == nil {
		t.Fatalf("expected logger to be non-nil (defaulted)")
	}
	if c.config.MaxRetries != DefaultConfig.MaxRetries {
		t.Fatalf("MaxRetries sanitized: got %d want %d", c.config.MaxRetries, DefaultConfig.MaxRetries)
	}
	if c.config.InitialBackoff != DefaultConfig.InitialBackoff {
		t.Fatalf("InitialBackoff sanitized: got %v want %v", c.config.InitialBackoff, DefaultConfig.InitialBackoff)
	}
	if c.config.MaxBackoff != DefaultConfig.MaxBackoff {
		t.Fatalf("MaxBackoff sanitized: got %v want %v", c.config.MaxBackoff, DefaultConfig.MaxBackoff)
	}
	if c.config.Timeout != DefaultConfig.Timeout {
		t.Fatalf("Timeout sanitized: got %v want %v", c.config.Timeout, DefaultConfig.Timeout)
	}

	l := logrus.New()
	c2 := NewClient(l)
	if c2.logger != l {
		t.Fatalf("expected provided logger to be used")
	}
	if c2.config != DefaultConfig {
		t.Fatalf("expected DefaultConfig, got %+v", c2.config)
	}
}

func TestIsTransientError_Patterns(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"timeout", errors.New("request TIMEOUT while processing"), true},
		{"conn refused", errors.New("connection refused by target"), true},
		{"conn reset", errors.New("read: connection reset by peer"), true},
		{"temporary failure", errors.New("temporary failure in name resolution"), true},
		{"server error", errors.New("internal server error"), true},
		{"rate limit", errors.New("rate limit exceeded"), true},
		{"429", errors.New("HTTP 429 Too Many Requests"), true},
		{"502", errors.New("502 bad gateway"), true},
		{"503", errors.New("Service Unavailable (503)"), true},
		{"504", errors.New("504 Gateway Timeout"), true},
		{"network", errors.New("network unreachable"), true},
		{"dns", errors.New("dns lookup failed"), true},
		{"tcp", errors.New("tcp handshake failed"), true},
		{"unexpected eof", errors.New("unexpected EOF"), true},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"status 500", fmt.Errorf("download: %w", statusErr(500)), true},
		{"status 429", statusErr(429), true},
		{"status 404", statusErr(404), false},
		{"non-transient", errors.New("invalid character '<' looking for beginning of value"), false},
		{"empty string", errors.New(""), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := IsTransientError(tc.err)
			if got != tc.want {
				t.Fatalf("IsTransientError(%v)=%v want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestCalculateNextBackoff_GeneralBehavior(t *testing.T) {
	cfg := Config{
		MaxRetries:     2,
		InitialBackoff: 4 * time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
		Timeout:        1 * time.Second,
	}
	c, _ := makeClient(t, cfg)

	// multiply by 1.5 within max, with jitter in [0, backoff/4)
	next := c.calculateNextBackoff(4 * time.Millisecond)
	if next < 6*time.Millisecond || next >= 7*time.Millisecond {
		t.Fatalf("unexpected next backoff: got %v, expected [6ms,7ms)", next)
	}

	// cap to MaxBackoff before jitter
	next2 := c.calculateNextBackoff(8 * time.Millisecond)
	if next2 < 10*time.Millisecond || next2 >= 12*time.Millisecond {
		t.Fatalf("unexpected capped next backoff: got %v, expected [10ms,12ms)", next2)
	}

	if got := c.calculateNextBackoff(0); got != 0 {
		t.Fatalf("zero backoff expected to remain zero, got %v", got)
	}
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	c, _ := makeClient(t, fastConfig())
	var calls int32
	err := c.Do(context.Background(), "download", func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDo_RetriesOnTransientAndThenSucceeds(t *testing.T) {
	c, buf := makeClient(t, fastConfig())
	var calls int32
	err := c.Do(context.Background(), "download", func(ctx context.Context) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("503 service unavailable")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if !strings.Contains(buf.String(), "Succeeded on attempt 3") {
		t.Fatalf("expected success log, got %q", buf.String())
	}
}

func TestDo_FailFastOnNonTransient(t *testing.T) {
	c, _ := makeClient(t, fastConfig())
	var calls int32
	sentinel := errors.New("invalid payload")
	err := c.Do(context.Background(), "download", func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected wrapped sentinel, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDo_ExhaustsRetries(t *testing.T) {
	c, _ := makeClient(t, fastConfig())
	var calls int32
	err := c.Do(context.Background(), "download", func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("connection reset by peer")
	})
	if err == nil || !strings.Contains(err.Error(), "failed after 4 attempts") {
		t.Fatalf("expected exhaustion error, got %v", err)
	}
	if calls != 4 {
		t.Fatalf("expected 4 calls, got %d", calls)
	}
}

func TestDo_ContextCanceled(t *testing.T) {
	c, _ := makeClient(t, fastConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.Do(ctx, "download", func(ctx context.Context) error {
		t.Fatal("op should not run")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDo_TimeoutDuringBackoff(t *testing.T) {
	cfg := Config{
		MaxRetries:     5,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     time.Second,
		Timeout:        50 * time.Millisecond,
	}
	c, _ := makeClient(t, cfg)
	err := c.Do(context.Background(), "download", func(ctx context.Context) error {
		return errors.New("timeout talking to upstream")
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if !strings.Contains(err.Error(), "timed out during backoff") {
		t.Fatalf("expected backoff timeout message, got %v", err)
	}
}
