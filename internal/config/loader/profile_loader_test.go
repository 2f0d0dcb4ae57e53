package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleProfiles = `
profiles:
  hs300-ma:
    default: true
    symbols: ["SH510300"]
    start_date: "2019-04-01"
    end_date: "2020-04-01"
    initial_capital: 100000
    strategy:
      id: 1
      name: ma_cross
      params:
        short_window: 5
        long_window: 20
  hold:
    symbols: ["SH510500"]
    initial_capital: 50000
    strategy:
      id: 2
      name: buy_and_hold
`

func writeProfiles(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestProfileLoaderLoads(t *testing.T) {
	l, err := NewProfileLoader(writeProfiles(t, sampleProfiles))
	require.NoError(t, err)

	snap := l.Snapshot()
	require.Len(t, snap.Profiles, 2)

	p, ok := l.Get("hs300-ma")
	require.True(t, ok)
	assert.Equal(t, "hs300-ma", p.Name)
	assert.Equal(t, []string{"SH510300"}, p.Symbols)
	assert.Equal(t, "ma_cross", p.Strategy.Name)
	assert.Equal(t, 5.0, p.Strategy.Params["short_window"])

	def, ok := snap.Default()
	require.True(t, ok)
	assert.Equal(t, "hs300-ma", def.Name)
}

func TestProfileLoaderRejectsMissingSymbols(t *testing.T) {
	_, err := NewProfileLoader(writeProfiles(t, `
profiles:
  bad:
    initial_capital: 1000
    strategy:
      name: buy_and_hold
`))
	assert.Error(t, err)
}

func TestProfileLoaderRejectsUnknownStrategy(t *testing.T) {
	_, err := NewProfileLoader(writeProfiles(t, `
profiles:
  bad:
    symbols: ["SH510300"]
    strategy:
      name: magic_eight_ball
`))
	assert.Error(t, err)
}

func TestProfileLoaderRejectsBadWindows(t *testing.T) {
	_, err := NewProfileLoader(writeProfiles(t, `
profiles:
  bad:
    symbols: ["SH510300"]
    strategy:
      name: ma_cross
      params:
        short_window: 20
        long_window: 5
`))
	assert.Error(t, err)
}
