package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/evidence-ingest/internal/config"
	"github.com/JakeFAU/evidence-ingest/internal/evidence"
)

const feedBody = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Flooring prices</title><link>%[1]s/</link>
<item><title>Bamboo flooring £31 per sqm</title><link>%[1]s/bamboo</link>
<pubDate>Mon, 01 Jun 2026 09:00:00 GMT</pubDate><description>Bamboo flooring £31 per sqm from the mill.</description></item>
<item><title>Oak flooring £45 per sqm</title><link>%[1]s/oak</link>
<pubDate>Tue, 02 Jun 2026 09:00:00 GMT</pubDate><description>Oak flooring £45 per sqm delivered.</description></item>
</channel></rss>`

func writeSources(t *testing.T, baseURL string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sources.yaml")
	body := fmt.Sprintf(`
sources:
  - id: flooring-feed
    name: Flooring Feed
    base_url: %s/feed.xml
    method: feed
    category: floors
    currency: gbp
  - id: disabled-source
    base_url: https://example.com
    enabled: false
`, baseURL)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func memoryConfig(sourcesPath string) config.Config {
	return config.Config{
		Fetch: config.FetchConfig{
			TimeoutSeconds:    5,
			RespectRobots:     true,
			MaxAttempts:       1,
			RobotsTTLMinutes:  5,
			RobotsMaxEntries:  16,
			RobotsTimeoutSecs: 2,
		},
		Oracle:       config.OracleConfig{Provider: "none"},
		Orchestrator: config.OrchestratorConfig{PoolSize: 3, ArchiveRaw: true, PreviewLimit: 5},
		Benchmark:    config.BenchmarkConfig{MinGroupSize: 3, MinPublishRecords: 5, MinSources: 2, MinConfidence: 40},
		Trends:       config.TrendsConfig{WindowDays: 30},
		Store:        config.StoreConfig{Driver: config.StoreMemory},
		Archive:      config.ArchiveConfig{Backend: config.BackendMemory},
		Alerts:       config.AlertsConfig{Backend: config.BackendMemory, Topic: "evidence-alerts"},
		Sources:      config.SourcesConfig{Path: sourcesPath},
	}
}

func TestNewWithMemoryBackends(t *testing.T) {
	t.Parallel()

	a, err := New(context.Background(), memoryConfig(writeSources(t, "https://feeds.example.com")), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })

	require.NotNil(t, a.GetStore())
	require.NotNil(t, a.GetPublisher())
	require.NotNil(t, a.GetAlerts())
	require.NotNil(t, a.GetOrchestrator())
	require.Equal(t, 2, a.GetRegistry().Len())

	conns, err := a.Connectors(context.Background(), nil, "")
	require.NoError(t, err)
	require.Len(t, conns, 1)
	require.Equal(t, "flooring-feed", conns[0].Source().ID)
	require.Equal(t, "GBP", conns[0].Source().Currency)

	_, err = a.Connectors(context.Background(), []string{"missing"}, "")
	require.Error(t, err)
}

func TestNewFailsFast(t *testing.T) {
	t.Parallel()

	sourcesPath := writeSources(t, "https://feeds.example.com")
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{name: "missing sources file", mutate: func(c *config.Config) { c.Sources.Path = filepath.Join(t.TempDir(), "none.yaml") }, want: "load sources"},
		{name: "unknown store", mutate: func(c *config.Config) { c.Store.Driver = "sqlite" }, want: "unknown store driver"},
		{name: "unknown archive", mutate: func(c *config.Config) { c.Archive.Backend = "s3" }, want: "unknown archive backend"},
		{name: "unknown alerts", mutate: func(c *config.Config) { c.Alerts.Backend = "kafka" }, want: "unknown alerts backend"},
		{name: "unknown oracle", mutate: func(c *config.Config) { c.Oracle.Provider = "mystery" }, want: "init oracle"},
		{name: "empty local dir", mutate: func(c *config.Config) {
			c.Archive.Backend = config.BackendLocal
			c.Archive.LocalDir = ""
		}, want: "init local archive"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := memoryConfig(sourcesPath)
			tc.mutate(&cfg)
			a, err := New(context.Background(), cfg, zap.NewNop())
			require.Error(t, err)
			require.Nil(t, a)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestIngestionRunAgainstFeedServer(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("User-agent: *\nAllow: /\n"))
	})
	mux.HandleFunc("/feed.xml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = fmt.Fprintf(w, feedBody, srv.URL)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	a, err := New(context.Background(), memoryConfig(writeSources(t, srv.URL)), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })

	conns, err := a.Connectors(context.Background(), []string{"flooring-feed"}, "")
	require.NoError(t, err)
	report, err := a.GetOrchestrator().RunIngestion(context.Background(), conns, evidence.TriggerCLI, "tester")
	require.NoError(t, err)
	require.Equal(t, 1, report.SourcesSucceeded)
	require.Equal(t, 2, report.EvidenceCreated)
	require.Len(t, report.PerSource, 1)
	require.NotEmpty(t, report.PerSource[0].SnapshotURI)

	state, err := a.GetStore().GetSourceState(context.Background(), "flooring-feed")
	require.NoError(t, err)
	require.NotNil(t, state.LastSuccessfulFetch)

	again, err := a.GetOrchestrator().RunIngestion(context.Background(), conns, evidence.TriggerCLI, "tester")
	require.NoError(t, err)
	require.Zero(t, again.EvidenceCreated)
}
