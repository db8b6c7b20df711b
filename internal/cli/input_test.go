package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/bastiangx/symserve/pkg/symbols"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIndex(t *testing.T, keys ...string) *symbols.Index {
	t.Helper()
	entries := make([]symbols.Entry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, symbols.Entry{
			Key:         k,
			Label:       k,
			Occurrences: []symbols.Occurrence{{Scope: "m_global_parameters", Anchor: "#" + k}},
		})
	}
	ix, err := symbols.Build(entries)
	require.NoError(t, err)
	return ix
}

func run(t *testing.T, h *InputHandler, input string) string {
	t.Helper()
	require.NoError(t, h.Start(strings.NewReader(input)))
	return h.out.(*bytes.Buffer).String()
}

func TestInputHandlerSearch(t *testing.T) {
	ix := testIndex(t, "mu_n", "mu_v", "mul0", "mag")
	var out bytes.Buffer
	h := NewInputHandler(func() *symbols.Index { return ix }, 10, 64, false, &out)

	got := run(t, h, "mu\nmu_\nzz\n")

	assert.Contains(t, got, "3 symbols match 'mu'")
	assert.Contains(t, got, "2 symbols match 'mu_'")
	assert.Contains(t, got, "no symbols match 'zz'")
	assert.Contains(t, got, "m_global_parameters")
	assert.NotContains(t, got, "mag ")
}

func TestInputHandlerLimitAndCommands(t *testing.T) {
	ix := testIndex(t, "mu_n", "mu_v", "mul0")
	var out bytes.Buffer
	h := NewInputHandler(func() *symbols.Index { return ix }, 1, 64, false, &out)

	got := run(t, h, "mu\n:stats\n:reset\n:quit\nmu_v\n")

	assert.Contains(t, got, "1 symbols match 'mu'")
	assert.Contains(t, got, "entries: 3")
	assert.Contains(t, got, "session reset")
	assert.NotContains(t, got, "'mu_v'", "input after :quit is ignored")
}

func TestInputHandlerFollowsReload(t *testing.T) {
	ix := testIndex(t, "mu_n")
	var out bytes.Buffer
	h := NewInputHandler(func() *symbols.Index { return ix }, 10, 64, false, &out)

	h.handleInput("mu")
	ix = testIndex(t, "mu_n", "mu_v")
	h.handleInput("mu_")

	assert.Contains(t, out.String(), "1 symbols match 'mu'")
	assert.Contains(t, out.String(), "2 symbols match 'mu_'")
}

func TestInputHandlerRejectsLongQuery(t *testing.T) {
	ix := testIndex(t, "mu_n")
	var out bytes.Buffer
	h := NewInputHandler(func() *symbols.Index { return ix }, 10, 3, false, &out)

	h.handleInput("mu_n")
	assert.Empty(t, out.String())
}

func TestHighlightPrefix(t *testing.T) {
	h := &InputHandler{}
	assert.Equal(t, "mu_v", h.highlightPrefix("mu_v", 2))
	assert.Equal(t, "ab", h.highlightPrefix("ab", 5))
}

func TestComplete(t *testing.T) {
	ix := testIndex(t, "mu_n", "mu_v", "mag")
	h := NewInputHandler(func() *symbols.Index { return ix }, 10, 64, false, &bytes.Buffer{})

	assert.Equal(t, []string{"mu_n", "mu_v"}, h.complete("MU"))
	assert.Equal(t, []string{":stats"}, h.complete(":s"))
	assert.Empty(t, h.complete(""))
}
