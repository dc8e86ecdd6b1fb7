package sources

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/evidence-ingest/internal/evidence"
)

const sample = `
sources:
  - id: rics-bcis-tender-index
    name: RICS BCIS
    base_url: https://bcis.example.com/tender
    category: Floors
    geography: UK
    method: llm
    currency: gbp
    politeness_delay: 3s
  - id: builders-feed
    base_url: https://builders.example.com/rss
    method: feed
    enabled: false
  - id: plain-page
    base_url: https://plain.example.com/prices
`

func TestParseAppliesDefaults(t *testing.T) {
	t.Parallel()

	reg, err := Parse([]byte(sample))
	require.NoError(t, err)
	require.Equal(t, 3, reg.Len())

	all := reg.All()
	require.Equal(t, []string{"builders-feed", "plain-page", "rics-bcis-tender-index"},
		[]string{all[0].ID, all[1].ID, all[2].ID})

	rics, err := reg.Get("rics-bcis-tender-index")
	require.NoError(t, err)
	require.Equal(t, "floors", rics.Category)
	require.Equal(t, "GBP", rics.Currency)
	require.Equal(t, evidence.MethodLLM, rics.Method)
	require.Equal(t, 3*time.Second, rics.PolitenessDelay)
	require.Equal(t, "RICS BCIS", rics.Publisher)
	require.True(t, rics.Enabled)

	plain, err := reg.Get("plain-page")
	require.NoError(t, err)
	require.Equal(t, evidence.MethodHeuristic, plain.Method)
	require.Equal(t, "global", plain.Geography)
	require.Equal(t, "USD", plain.Currency)
	require.Equal(t, "plain-page", plain.Name)
}

func TestEnabledAndSelect(t *testing.T) {
	t.Parallel()

	reg, err := Parse([]byte(sample))
	require.NoError(t, err)

	enabled := reg.Enabled("")
	require.Len(t, enabled, 2)
	require.Len(t, reg.Enabled("FLOORS"), 1)

	picked, err := reg.Select([]string{"builders-feed"})
	require.NoError(t, err)
	require.Len(t, picked, 1)
	require.False(t, picked[0].Enabled)

	_, err = reg.Select([]string{"missing"})
	require.ErrorIs(t, err, ErrUnknownSource)

	defaults, err := reg.Select(nil)
	require.NoError(t, err)
	require.Len(t, defaults, 2)
}

func TestParseRejectsInvalidEntries(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"missing id":     "sources:\n  - base_url: https://x.example.com\n",
		"relative url":   "sources:\n  - id: a\n    base_url: /prices\n",
		"unknown method": "sources:\n  - id: a\n    base_url: https://x.example.com\n    method: headless\n",
		"duplicate":      "sources:\n  - id: a\n    base_url: https://x.example.com\n  - id: a\n    base_url: https://y.example.com\n",
		"slow":           "sources:\n  - id: a\n    base_url: https://x.example.com\n    politeness_delay: 2m\n",
		"bad yaml":       "sources: [",
	}
	for name, doc := range cases {
		_, err := Parse([]byte(doc))
		require.Error(t, err, name)
	}
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))
	reg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 3, reg.Len())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read source registry")
}
