// Package oracle wraps the external text generation services used for
// evidence extraction and trend narratives.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/evidence-ingest/internal/metrics"
	"github.com/JakeFAU/evidence-ingest/internal/policy/ratelimit"
)

// ErrNotConfigured is returned when no oracle backend is available.
var ErrNotConfigured = errors.New("oracle: not configured")

// Supported providers.
const (
	ProviderNone      = "none"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// Request is a single prompt.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Oracle turns a prompt into text.
type Oracle interface {
	Complete(ctx context.Context, req Request) (string, error)
	Name() string
}

// Config selects and tunes a backend.
type Config struct {
	Provider          string
	Model             string
	APIKey            string
	MaxTokens         int
	RequestsPerSecond float64
}

// New builds the configured backend wrapped in a rate limiter. Provider
// "none" (or empty) yields an oracle that always fails with ErrNotConfigured.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (Oracle, error) {
	var (
		backend Oracle
		err     error
	)
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderNone:
		return None{}, nil
	case ProviderAnthropic:
		backend, err = NewAnthropic(cfg)
	case ProviderGemini:
		backend, err = NewGemini(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown oracle provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	limiter := ratelimit.New(ratelimit.Config{DefaultRPS: cfg.RequestsPerSecond, DefaultBurst: 1})
	return NewLimited(backend, limiter, logger), nil
}

// Configured reports whether o can answer prompts.
func Configured(o Oracle) bool {
	if o == nil {
		return false
	}
	_, isNone := o.(None)
	return !isNone
}

// None is the unconfigured oracle.
type None struct{}

// Complete always fails.
func (None) Complete(context.Context, Request) (string, error) {
	return "", ErrNotConfigured
}

// Name implements Oracle.
func (None) Name() string { return ProviderNone }

// Limited paces calls to an oracle through a keyed token bucket.
type Limited struct {
	next    Oracle
	limiter *ratelimit.Limiter
	logger  *zap.Logger
}

// NewLimited wraps next with limiter.
func NewLimited(next Oracle, limiter *ratelimit.Limiter, logger *zap.Logger) *Limited {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limited{next: next, limiter: limiter, logger: logger.Named("oracle")}
}

// Name implements Oracle.
func (l *Limited) Name() string { return l.next.Name() }

// Complete waits for a token, then delegates.
func (l *Limited) Complete(ctx context.Context, req Request) (string, error) {
	waited, err := l.limiter.Wait(ctx, l.next.Name())
	if waited > time.Millisecond {
		metrics.ObserveOracleWait(waited)
	}
	if err != nil {
		metrics.ObserveOracleRequest(l.next.Name(), "rate_limited")
		return "", fmt.Errorf("oracle %s: %w", l.next.Name(), err)
	}
	start := time.Now()
	out, err := l.next.Complete(ctx, req)
	if err != nil {
		metrics.ObserveOracleRequest(l.next.Name(), "error")
		l.logger.Warn("oracle call failed", zap.String("provider", l.next.Name()), zap.Error(err))
		return "", err
	}
	metrics.ObserveOracleRequest(l.next.Name(), "success")
	l.logger.Debug("oracle call completed",
		zap.String("provider", l.next.Name()),
		zap.Duration("duration", time.Since(start)),
		zap.Int("response_chars", len(out)),
	)
	return out, nil
}
