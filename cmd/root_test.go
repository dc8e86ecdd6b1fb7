package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/evidence-ingest/internal/evidence"
	"github.com/JakeFAU/evidence-ingest/internal/orchestrator"
)

const testFeed = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Roofing</title><link>%[1]s/</link>
<item><title>Clay roof tiles £52 per sqm</title><link>%[1]s/clay</link>
<pubDate>Mon, 01 Jun 2026 09:00:00 GMT</pubDate><description>Clay roof tiles £52 per sqm.</description></item>
</channel></rss>`

func feedServer(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("User-agent: *\nAllow: /\n"))
	})
	mux.HandleFunc("/feed.xml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = fmt.Fprintf(w, testFeed, srv.URL)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, baseURL, driver string) string {
	t.Helper()
	dir := t.TempDir()
	sourcesPath := filepath.Join(dir, "sources.yaml")
	require.NoError(t, os.WriteFile(sourcesPath, []byte(fmt.Sprintf(`
sources:
  - id: roofing-feed
    base_url: %s/feed.xml
    method: feed
    category: roofing
`, baseURL)), 0o600))

	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(`
logging:
  development: false
  level: error
fetch:
  politeness_ms: 0
  max_attempts: 1
store:
  driver: %s
  dsn: postgres://localhost:5432/evidence
archive:
  backend: memory
sources:
  path: %s
`, driver, sourcesPath)), 0o600))
	return cfgPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestIngestCommandPrintsReport(t *testing.T) {
	t.Parallel()

	srv := feedServer(t)
	out, err := execute(t, "ingest", "--config", writeConfig(t, srv.URL, "memory"), "--actor", "cli-test")
	require.NoError(t, err)

	var report evidence.RunReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Equal(t, evidence.TriggerCLI, report.Trigger)
	require.Equal(t, "cli-test", report.ActorID)
	require.Equal(t, 1, report.SourcesAttempted)
	require.Equal(t, 1, report.EvidenceCreated)
}

func TestTestScrapeCommand(t *testing.T) {
	t.Parallel()

	srv := feedServer(t)
	cfgPath := writeConfig(t, srv.URL, "memory")

	out, err := execute(t, "test-scrape", "roofing-feed", "--config", cfgPath)
	require.NoError(t, err)
	var preview orchestrator.Preview
	require.NoError(t, json.Unmarshal([]byte(out), &preview))
	require.Equal(t, "roofing-feed", preview.SourceID)
	require.Equal(t, 1, preview.Valid)

	_, err = execute(t, "test-scrape", "--config", cfgPath)
	require.Error(t, err)

	_, err = execute(t, "test-scrape", "unknown", "--config", cfgPath)
	require.Error(t, err)
}

func TestAnalysisCommandsOnEmptyStore(t *testing.T) {
	t.Parallel()

	cfgPath := writeConfig(t, "https://feeds.example.com", "memory")
	out, err := execute(t, "benchmarks", "--config", cfgPath)
	require.NoError(t, err)
	require.Contains(t, out, "null")

	_, err = execute(t, "trends", "--config", cfgPath, "--category", "roofing")
	require.NoError(t, err)
}

func TestMigrateRequiresPostgres(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "migrate", "--config", writeConfig(t, "https://feeds.example.com", "memory"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "migrate requires store.driver=postgres")
}

func TestMissingConfigFileFails(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "ingest", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "read config")
}
