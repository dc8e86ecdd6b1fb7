// Package collyfetcher implements the compliant fetch primitive on top of gocolly.
package collyfetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/evidence-ingest/internal/compliance"
	"github.com/JakeFAU/evidence-ingest/internal/evidence"
	"github.com/JakeFAU/evidence-ingest/internal/metrics"
)

const (
	defaultTimeout    = 15 * time.Second
	defaultPoliteness = 2 * time.Second
)

// Config controls collector behavior.
type Config struct {
	Timeout           time.Duration
	DefaultPoliteness time.Duration
	RespectRobots     bool
	Backoff           compliance.Backoff
}

// Fetcher implements evidence.Fetcher using the Colly collector. Robots
// allowance is checked by the RobotsCache, so the collector's own robots
// handling stays off.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	robots        *compliance.RobotsCache
	agents        *compliance.UserAgentRotator
	sleeper       compliance.Sleeper
	now           func() time.Time
	logger        *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// page is the raw outcome of one attempt.
type page struct {
	url         string
	status      int
	body        []byte
	contentType string
}

// New builds a Fetcher. robots may be nil when robots.txt is not respected.
func New(cfg Config, robots *compliance.RobotsCache, agents *compliance.UserAgentRotator, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.DefaultPoliteness < 0 {
		cfg.DefaultPoliteness = 0
	}
	cfg.Backoff = compliance.NewBackoff(cfg.Backoff.MaxAttempts, cfg.Backoff.Initial)
	if agents == nil {
		agents = compliance.NewUserAgentRotator(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.IgnoreRobotsTxt = true
	c.ParseHTTPErrorResponse = true
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		robots:        robots,
		agents:        agents,
		sleeper:       compliance.TimerSleeper{},
		now:           func() time.Time { return time.Now().UTC() },
		logger:        logger.Named("fetcher"),
	}
}

// Fetch runs one fetch cycle for the source: robots check, politeness
// delay, bounded retries. It never returns an error; failures are encoded
// in the result.
func (f *Fetcher) Fetch(ctx context.Context, src evidence.SourceDescriptor) evidence.RawFetchResult {
	userAgent := f.agents.Next()
	result := evidence.RawFetchResult{URL: src.BaseURL, UserAgent: userAgent}
	logger := f.logger.With(zap.String("source_id", src.ID), zap.String("url", src.BaseURL))

	if f.cfg.RespectRobots && f.robots != nil && !f.robots.Allowed(ctx, src.BaseURL, userAgent) {
		metrics.ObserveRobotsBlocked(src.BaseURL)
		logger.Info("fetch refused by robots.txt")
		result.FetchedAt = f.now()
		result.StatusCode = http.StatusForbidden
		result.ErrorKind = evidence.FetchErrRobotsBlocked
		result.Error = fmt.Sprintf("blocked by robots.txt policy for %s", src.BaseURL)
		f.observe(result)
		return result
	}

	delay := src.PolitenessDelay
	if delay <= 0 {
		delay = f.cfg.DefaultPoliteness
	}

	for attempt := 1; ; attempt++ {
		if err := f.sleeper.Sleep(ctx, delay); err != nil {
			return f.fail(result, evidence.FetchErrNetwork, err)
		}
		result.Attempts = attempt
		metrics.ObserveFetchAttempt(src.BaseURL)

		resp, err := f.visit(ctx, src.BaseURL, userAgent)
		result.FetchedAt = f.now()

		var (
			attemptErr error
			kind       evidence.FetchErrorKind
		)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return f.fail(result, evidence.FetchErrNetwork, err)
			}
			attemptErr, kind = err, evidence.FetchErrNetwork
		case resp.status >= http.StatusBadRequest:
			result.StatusCode = resp.status
			result.ContentType = resp.contentType
			result.Body = string(resp.body)
			return f.fail(result, evidence.FetchErrHTTPStatus, fmt.Errorf("http status %d", resp.status))
		default:
			if marker := compliance.DetectBlock(string(resp.body)); marker != "" {
				result.StatusCode = resp.status
				attemptErr, kind = fmt.Errorf("blocked content detected: %q", marker), evidence.FetchErrBlockedContent
				break
			}
			result.StatusCode = resp.status
			result.Body = string(resp.body)
			result.ContentType = resp.contentType
			result.IsJSON = isJSON(resp.contentType, resp.body)
			result.Error, result.ErrorKind = "", evidence.FetchErrNone
			f.observe(result)
			return result
		}

		logger.Warn("fetch attempt failed",
			zap.Int("attempt", attempt),
			zap.String("kind", string(kind)),
			zap.Error(attemptErr),
		)
		if !f.cfg.Backoff.ShouldRetry(attempt) {
			if kind == evidence.FetchErrBlockedContent {
				result.Body = ""
			}
			return f.fail(result, kind, attemptErr)
		}
		if err := f.sleeper.Sleep(ctx, f.cfg.Backoff.Delay(attempt)); err != nil {
			return f.fail(result, kind, attemptErr)
		}
	}
}

func (f *Fetcher) fail(result evidence.RawFetchResult, kind evidence.FetchErrorKind, err error) evidence.RawFetchResult {
	if result.FetchedAt.IsZero() {
		result.FetchedAt = f.now()
	}
	result.ErrorKind = kind
	result.Error = err.Error()
	f.observe(result)
	return result
}

func (f *Fetcher) observe(result evidence.RawFetchResult) {
	outcome := "success"
	if result.ErrorKind != evidence.FetchErrNone {
		outcome = string(result.ErrorKind)
	}
	metrics.ObserveFetchResult(result.URL, outcome, len(result.Body))
}

func (f *Fetcher) visit(ctx context.Context, rawURL, userAgent string) (page, error) {
	var (
		result   page
		fetchErr error
	)
	collector := f.buildCollector(userAgent, &result, &fetchErr)
	if err := f.runCollector(ctx, collector, rawURL, &fetchErr); err != nil {
		return page{}, err
	}
	return result, nil
}

func (f *Fetcher) buildCollector(userAgent string, result *page, fetchErr *error) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.UserAgent = userAgent
	collector.IgnoreRobotsTxt = true
	collector.ParseHTTPErrorResponse = true
	f.configureCollectorHooks(collector, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, result *page, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		contentType := ""
		if r.Headers != nil {
			contentType = r.Headers.Get("Content-Type")
		}
		*result = page{
			url:         r.Request.URL.String(),
			status:      r.StatusCode,
			body:        append([]byte(nil), r.Body...),
			contentType: contentType,
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

// isJSON trusts the Content-Type header and otherwise sniffs the body.
func isJSON(contentType string, body []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "json") {
		return true
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return false
	}
	return json.Valid(trimmed)
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
