package server

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bastiangx/symserve/pkg/config"
	"github.com/bastiangx/symserve/pkg/metrics"
	"github.com/bastiangx/symserve/pkg/symbols"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func fixtureEntries() []symbols.Entry {
	occ := func(scope, anchor string) symbols.Occurrence {
		return symbols.Occurrence{Scope: scope, Anchor: anchor}
	}
	return []symbols.Entry{
		{Key: "mag", Label: "mag", Occurrences: []symbols.Occurrence{occ("mono_parameters", "#a62d3")}},
		{Key: "mu_n", Label: "mu_n", Occurrences: []symbols.Occurrence{occ("m_global_parameters", "#a782")}},
		{Key: "mu_v", Label: "mu_v", Occurrences: []symbols.Occurrence{
			occ("m_global_parameters", "#a222"), occ("physical_parameters", "#ae4f"),
		}},
		{Key: "mul0", Label: "mul0", Occurrences: []symbols.Occurrence{occ("physical_parameters", "#ac33")}},
		{Key: "_", Label: "_", Occurrences: []symbols.Occurrence{occ("", "#u")}},
	}
}

// fakeLoader returns the fixture index, or err when set.
type fakeLoader struct {
	calls atomic.Int32
	err   error
	delay time.Duration
}

func (f *fakeLoader) Load(ctx context.Context) (*symbols.Index, error) {
	f.calls.Add(1)
	time.Sleep(f.delay)
	if f.err != nil {
		return nil, f.err
	}
	return symbols.Build(fixtureEntries())
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.RequestsPerSecond = 0
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config, loader IndexLoader) *Server {
	t.Helper()
	s := NewServer(cfg, loader, metrics.New())
	ix, err := symbols.Build(fixtureEntries())
	require.NoError(t, err)
	s.SetIndex(ix)
	return s
}

// roundTrip runs the server over the encoded requests and returns the raw
// response decoder positioned after the ready frame.
func roundTrip(t *testing.T, s *Server, reqs ...Request) *msgpack.Decoder {
	t.Helper()
	var in, out bytes.Buffer
	enc := msgpack.NewEncoder(&in)
	for _, r := range reqs {
		require.NoError(t, enc.Encode(r))
	}
	require.NoError(t, s.WithIO(&in, &out).Start(context.Background()))

	dec := msgpack.NewDecoder(&out)
	var ready ActionResponse
	require.NoError(t, dec.Decode(&ready))
	require.Equal(t, "ready", ready.Status)
	return dec
}

func keys(groups []symbols.ResultGroup) []string {
	out := make([]string, 0, len(groups))
	for _, g := range groups {
		out = append(out, g.Key)
	}
	return out
}

func TestSearchRequest(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	dec := roundTrip(t, s,
		Request{ID: "q1", Query: "mu"},
		Request{ID: "q2", Query: "MU_", Limit: 1},
		Request{ID: "q3", Query: "zz"},
		Request{ID: "q4", Query: "   "},
	)

	var resp SearchResponse
	require.NoError(t, dec.Decode(&resp))
	assert.Equal(t, "q1", resp.ID)
	assert.Equal(t, []string{"mu_n", "mu_v", "mul0"}, keys(resp.Groups))
	assert.Equal(t, 3, resp.Count)
	assert.Len(t, resp.Groups[1].Occurrences, 2)
	assert.Equal(t, "#a222", resp.Groups[1].Occurrences[0].Anchor)

	resp = SearchResponse{}
	require.NoError(t, dec.Decode(&resp))
	assert.Equal(t, "q2", resp.ID)
	assert.Equal(t, []string{"mu_n"}, keys(resp.Groups))

	for _, id := range []string{"q3", "q4"} {
		resp = SearchResponse{}
		require.NoError(t, dec.Decode(&resp))
		assert.Equal(t, id, resp.ID)
		assert.Empty(t, resp.Groups)
		assert.Zero(t, resp.Count)
	}
}

func TestSearchWireFormat(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	dec := roundTrip(t, s, Request{ID: "w", Query: "mag"})

	var raw map[string]any
	require.NoError(t, dec.Decode(&raw))
	assert.Contains(t, raw, "id")
	assert.Contains(t, raw, "g")
	assert.Contains(t, raw, "c")
	assert.Contains(t, raw, "t")

	groups := raw["g"].([]any)
	require.Len(t, groups, 1)
	group := groups[0].(map[string]any)
	assert.Equal(t, "mag", group["k"])
	assert.Contains(t, group, "o")
}

func TestMissingIDIsAssigned(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	dec := roundTrip(t, s, Request{Query: "mu"})

	var resp SearchResponse
	require.NoError(t, dec.Decode(&resp))
	assert.Len(t, resp.ID, 36)
}

func TestRejectedQueries(t *testing.T) {
	cfg := testConfig()
	cfg.Server.MaxQuery = 4
	s := newTestServer(t, cfg, nil)
	dec := roundTrip(t, s,
		Request{ID: "long", Query: "mu_vvv"},
		Request{ID: "ctrl", Query: "mu\x01"},
		Request{ID: "bad", Action: "explode"},
	)

	for _, id := range []string{"long", "ctrl", "bad"} {
		var resp ErrorResponse
		require.NoError(t, dec.Decode(&resp))
		assert.Equal(t, id, resp.ID)
		assert.Equal(t, 400, resp.Code)
		assert.NotEmpty(t, resp.Error)
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(s.metrics.SearchesTotal.WithLabelValues(metrics.OutcomeRejected)))
}

func TestMinQueryYieldsEmpty(t *testing.T) {
	cfg := testConfig()
	cfg.Server.MinQuery = 2
	s := newTestServer(t, cfg, nil)
	dec := roundTrip(t, s, Request{ID: "short", Query: "m"}, Request{ID: "ok", Query: "ma"})

	var resp SearchResponse
	require.NoError(t, dec.Decode(&resp))
	assert.Empty(t, resp.Groups)

	resp = SearchResponse{}
	require.NoError(t, dec.Decode(&resp))
	assert.Equal(t, []string{"mag"}, keys(resp.Groups))
}

func TestLimitClamp(t *testing.T) {
	cfg := testConfig()
	cfg.Server.MaxLimit = 2
	s := newTestServer(t, cfg, nil)

	assert.Equal(t, 2, s.limit(0))
	assert.Equal(t, 1, s.limit(1))
	assert.Equal(t, 2, s.limit(50))
}

func TestThrottling(t *testing.T) {
	cfg := testConfig()
	cfg.Server.RequestsPerSecond = 1
	s := newTestServer(t, cfg, nil)
	dec := roundTrip(t, s, Request{ID: "a", Query: "mu"}, Request{ID: "b", Query: "mu"})

	var first SearchResponse
	require.NoError(t, dec.Decode(&first))
	assert.Equal(t, 3, first.Count)

	var second ErrorResponse
	require.NoError(t, dec.Decode(&second))
	assert.Equal(t, 429, second.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.SearchesTotal.WithLabelValues(metrics.OutcomeThrottled)))
}

func TestLookupAction(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	dec := roundTrip(t, s,
		Request{ID: "l1", Action: ActionLookup, Query: "mu_v"},
		Request{ID: "l2", Action: ActionLookup, Query: "mu"},
	)

	var resp SearchResponse
	require.NoError(t, dec.Decode(&resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "mu_v", resp.Groups[0].Key)

	resp = SearchResponse{}
	require.NoError(t, dec.Decode(&resp))
	assert.Zero(t, resp.Count)
}

func TestStatsAndReloadActions(t *testing.T) {
	loader := &fakeLoader{}
	s := newTestServer(t, testConfig(), loader)
	dec := roundTrip(t, s,
		Request{ID: "s", Action: ActionStats},
		Request{ID: "r", Action: ActionReload},
	)

	var stats ActionResponse
	require.NoError(t, dec.Decode(&stats))
	assert.Equal(t, "ok", stats.Status)
	assert.Equal(t, uint64(1), stats.Generation)
	require.NotNil(t, stats.Index)
	assert.Equal(t, 5, stats.Index.Entries)

	var reload ActionResponse
	require.NoError(t, dec.Decode(&reload))
	assert.Equal(t, "r", reload.ID)
	assert.Equal(t, uint64(2), reload.Generation)
	assert.Equal(t, int32(1), loader.calls.Load())
}

func TestReloadFailureKeepsIndex(t *testing.T) {
	loader := &fakeLoader{err: errors.New("disk on fire")}
	s := newTestServer(t, testConfig(), loader)
	before := s.Index()

	err := s.Reload(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")
	assert.Same(t, before, s.Index())
	assert.Equal(t, uint64(1), s.Generation())
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.BuildsTotal.WithLabelValues("error")))

	dec := roundTrip(t, s, Request{ID: "r", Action: ActionReload}, Request{ID: "q", Query: "mag"})
	var failed ErrorResponse
	require.NoError(t, dec.Decode(&failed))
	assert.Equal(t, 500, failed.Code)

	var resp SearchResponse
	require.NoError(t, dec.Decode(&resp))
	assert.Equal(t, []string{"mag"}, keys(resp.Groups))
}

func TestReloadWithoutLoader(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	assert.ErrorIs(t, s.Reload(context.Background()), ErrNoLoader)
}

func TestConcurrentReloadsShareBuild(t *testing.T) {
	loader := &fakeLoader{delay: 50 * time.Millisecond}
	s := newTestServer(t, testConfig(), loader)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Reload(context.Background()))
		}()
	}
	wg.Wait()

	assert.Less(t, loader.calls.Load(), int32(8))
	assert.Equal(t, uint64(1)+uint64(loader.calls.Load()), s.Generation())
}

func TestSearchUsesCache(t *testing.T) {
	s := newTestServer(t, testConfig(), &fakeLoader{})

	first := s.search(s.current.Load(), "mu", 10)
	second := s.search(s.current.Load(), "mu", 10)
	assert.Equal(t, first, second)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.CacheHitsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.CacheMissesTotal))

	// A new generation never serves stale entries.
	require.NoError(t, s.Reload(context.Background()))
	s.search(s.current.Load(), "mu", 10)
	assert.Equal(t, 2.0, testutil.ToFloat64(s.metrics.CacheMissesTotal))
}

func TestSearchDuringSwapKeepsGenerationsApart(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)

	// A search that loaded its snapshot before a swap finishes against the old
	// index and must not fill the new generation's cache slot.
	old := s.current.Load()
	swapped, err := symbols.Build([]symbols.Entry{
		{Key: "mu_x", Label: "mu_x", Occurrences: []symbols.Occurrence{{Anchor: "#x"}}},
	})
	require.NoError(t, err)
	s.SetIndex(swapped)

	assert.Equal(t, []string{"mu_n", "mu_v", "mul0"}, keys(s.search(old, "mu", 10)))
	assert.Equal(t, []string{"mu_x"}, keys(s.search(s.current.Load(), "mu", 10)))
	assert.Equal(t, uint64(2), s.Generation())
	assert.Same(t, swapped, s.Index())
}

func TestBadFrameDoesNotStopServer(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)

	var in, out bytes.Buffer
	enc := msgpack.NewEncoder(&in)
	require.NoError(t, enc.Encode(map[string]any{"id": "bad", "q": "mu_", "l": "ten"}))
	require.NoError(t, enc.Encode("not a request"))
	require.NoError(t, enc.Encode(Request{ID: "good", Query: "mu_"}))
	require.NoError(t, s.WithIO(&in, &out).Start(context.Background()))

	dec := msgpack.NewDecoder(&out)
	var ready ActionResponse
	require.NoError(t, dec.Decode(&ready))

	var bad ErrorResponse
	require.NoError(t, dec.Decode(&bad))
	assert.Equal(t, "bad", bad.ID)
	assert.Equal(t, 400, bad.Code)

	var notMap ErrorResponse
	require.NoError(t, dec.Decode(&notMap))
	assert.Empty(t, notMap.ID)
	assert.Equal(t, 400, notMap.Code)

	var good SearchResponse
	require.NoError(t, dec.Decode(&good))
	assert.Equal(t, "good", good.ID)
	assert.Equal(t, []string{"mu_n", "mu_v"}, keys(good.Groups))
}

func TestMaxQueryMeasuresRawInput(t *testing.T) {
	cfg := testConfig()
	cfg.Server.MaxQuery = 4
	s := newTestServer(t, cfg, nil)
	// U+FDFA is one rune that NFKC expands to eighteen.
	dec := roundTrip(t, s, Request{ID: "wide", Query: "\ufdfa"})

	var resp SearchResponse
	require.NoError(t, dec.Decode(&resp))
	assert.Equal(t, "wide", resp.ID)
	assert.Zero(t, resp.Count)
	assert.Zero(t, testutil.ToFloat64(s.metrics.SearchesTotal.WithLabelValues(metrics.OutcomeRejected)))
}

func TestServeWithoutIndex(t *testing.T) {
	s := NewServer(testConfig(), nil, nil)
	dec := roundTrip(t, s, Request{ID: "q", Query: "mu"}, Request{ID: "s", Action: ActionStats})

	var resp SearchResponse
	require.NoError(t, dec.Decode(&resp))
	assert.Empty(t, resp.Groups)

	var stats ActionResponse
	require.NoError(t, dec.Decode(&stats))
	assert.Zero(t, stats.Index.Entries)
}
