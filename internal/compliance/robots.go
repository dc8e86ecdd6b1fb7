// Package compliance implements the politeness rules applied before any
// outbound fetch: robots.txt, user agent rotation, backoff and block
// detection.
package compliance

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

const (
	defaultRobotsTTL        = time.Hour
	defaultRobotsMaxEntries = 1024
	robotsBodyLimit         = 1 << 20
)

// RobotsConfig controls the robots cache.
type RobotsConfig struct {
	TTL        time.Duration
	MaxEntries int
	Timeout    time.Duration
}

type robotsEntry struct {
	data      *robotstxt.RobotsData
	fetchedAt time.Time
}

// RobotsCache answers robots.txt allowance questions, caching parsed files
// per origin. Entries expire after the TTL and the cache holds at most
// MaxEntries origins, evicting the oldest first.
type RobotsCache struct {
	client     *http.Client
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
	logger     *zap.Logger

	mu      sync.Mutex
	entries map[string]robotsEntry
}

// NewRobotsCache builds a RobotsCache. A nil client gets a default one.
func NewRobotsCache(cfg RobotsConfig, client *http.Client, logger *zap.Logger) *RobotsCache {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultRobotsTTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = defaultRobotsMaxEntries
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RobotsCache{
		client:     client,
		ttl:        cfg.TTL,
		maxEntries: cfg.MaxEntries,
		now:        time.Now,
		logger:     logger,
		entries:    make(map[string]robotsEntry),
	}
}

// Allowed reports whether userAgent may fetch rawURL. Unparseable URLs are
// denied; robots.txt that cannot be fetched allows access.
func (r *RobotsCache) Allowed(ctx context.Context, rawURL, userAgent string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return false
	}
	data, err := r.load(ctx, parsed, userAgent)
	if err != nil {
		r.logger.Warn("robots fetch failed; allowing access", zap.String("host", parsed.Host), zap.Error(err))
		return true
	}
	group := data.FindGroup(userAgent)
	if group == nil {
		return true
	}
	target := parsed.EscapedPath()
	if target == "" {
		target = "/"
	}
	if parsed.RawQuery != "" {
		target += "?" + parsed.RawQuery
	}
	return group.Test(target)
}

// Len returns the number of cached origins.
func (r *RobotsCache) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func originKey(u *url.URL) string {
	return strings.ToLower(u.Scheme + "://" + u.Host)
}

func (r *RobotsCache) cached(key string) (*robotstxt.RobotsData, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[key]
	if !ok {
		return nil, false
	}
	if r.now().Sub(entry.fetchedAt) > r.ttl {
		delete(r.entries, key)
		return nil, false
	}
	return entry.data, true
}

func (r *RobotsCache) store(key string, data *robotstxt.RobotsData) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[key]; !exists && len(r.entries) >= r.maxEntries {
		r.evictOldestLocked()
	}
	r.entries[key] = robotsEntry{data: data, fetchedAt: r.now()}
}

func (r *RobotsCache) evictOldestLocked() {
	var (
		oldestKey string
		oldestAt  time.Time
	)
	for k, e := range r.entries {
		if oldestKey == "" || e.fetchedAt.Before(oldestAt) {
			oldestKey, oldestAt = k, e.fetchedAt
		}
	}
	delete(r.entries, oldestKey)
}

func (r *RobotsCache) load(ctx context.Context, parsed *url.URL, userAgent string) (*robotstxt.RobotsData, error) {
	key := originKey(parsed)
	if data, ok := r.cached(key); ok {
		return data, nil
	}

	robotsURL := url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: "/robots.txt"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			r.logger.Debug("failed to close robots response body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("fetch robots: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, robotsBodyLimit))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	r.store(key, data)
	return data, nil
}
