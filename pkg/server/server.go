package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/bastiangx/symserve/internal/logger"
	"github.com/bastiangx/symserve/internal/utils"
	"github.com/bastiangx/symserve/pkg/config"
	"github.com/bastiangx/symserve/pkg/metrics"
	"github.com/bastiangx/symserve/pkg/symbols"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// ErrNoLoader is returned by Reload when the server was built without a loader.
var ErrNoLoader = errors.New("server has no index loader")

// IndexLoader builds a fresh index, usually from the data directory.
type IndexLoader interface {
	Load(ctx context.Context) (*symbols.Index, error)
}

// snapshot pairs an index with the generation it was published under.
// Readers load both with one atomic read.
type snapshot struct {
	ix  *symbols.Index
	gen uint64
}

// Server handles the IPC for symbol search.
// The index is swapped atomically, so searches never block on a reload.
type Server struct {
	current atomic.Pointer[snapshot]
	swapMu  sync.Mutex

	loader  IndexLoader
	config  *config.Config
	cache   *ResultCache
	limiter *rate.Limiter
	metrics *metrics.Metrics
	reloads singleflight.Group

	reader  io.Reader
	writer  io.Writer
	writeMu sync.Mutex
	log     *log.Logger
}

// NewServer creates a server using stdin/stdout for IPC.
// A nil config falls back to defaults and a nil metrics set gets a private one.
func NewServer(cfg *config.Config, loader IndexLoader, m *metrics.Metrics) *Server {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if m == nil {
		m = metrics.New()
	}

	s := &Server{
		loader:  loader,
		config:  cfg,
		cache:   NewResultCache(cfg.Server.CacheSize),
		metrics: m,
		reader:  os.Stdin,
		writer:  os.Stdout,
		log:     logger.New("server"),
	}
	s.current.Store(&snapshot{})
	if rps := cfg.Server.RequestsPerSecond; rps > 0 {
		burst := max(int(rps), 1)
		s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return s
}

// WithIO replaces stdin/stdout, mainly for tests and embedding.
func (s *Server) WithIO(r io.Reader, w io.Writer) *Server {
	s.reader = r
	s.writer = w
	return s
}

// Index returns the index currently being served.
func (s *Server) Index() *symbols.Index {
	return s.current.Load().ix
}

// Generation counts index swaps; cached results are keyed by it.
func (s *Server) Generation() uint64 {
	return s.current.Load().gen
}

// SetIndex swaps in ix and invalidates cached results.
func (s *Server) SetIndex(ix *symbols.Index) {
	s.swapMu.Lock()
	s.current.Store(&snapshot{ix: ix, gen: s.current.Load().gen + 1})
	s.swapMu.Unlock()
	s.cache.Purge()

	st := ix.Stats()
	s.metrics.IndexEntries.Set(float64(st.Entries))
	s.metrics.IndexKeys.Set(float64(st.Keys))
}

// Reload rebuilds the index through the loader. Concurrent calls share one
// build. On failure the previous index keeps serving.
func (s *Server) Reload(ctx context.Context) error {
	if s.loader == nil {
		return ErrNoLoader
	}

	_, err, shared := s.reloads.Do("reload", func() (any, error) {
		start := time.Now()
		ix, err := s.loader.Load(ctx)
		st := ix.Stats()
		s.metrics.ObserveBuild(time.Since(start), st.Entries, st.Keys, err)
		if err != nil {
			return nil, err
		}
		s.SetIndex(ix)
		s.log.Infof("Index reloaded: %s keys, generation %d", utils.FormatCount(st.Keys), s.Generation())
		return nil, nil
	})
	if shared {
		s.log.Debug("Reload shared with a concurrent caller")
	}
	if err != nil {
		s.log.Errorf("Reload failed, keeping generation %d: %v", s.Generation(), err)
		return fmt.Errorf("reload: %w", err)
	}
	return nil
}

// Start begins listening for IPC requests and returns on EOF or when ctx is
// cancelled between requests.
func (s *Server) Start(ctx context.Context) error {
	s.log.Debug("Starting Server.")

	s.sendResponse(ActionResponse{Status: "ready", Generation: s.Generation()})

	dec := msgpack.NewDecoder(s.reader)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		// Frames are read whole first, so a frame of the wrong shape does not
		// desynchronize the stream.
		raw, err := dec.DecodeRaw()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			s.log.Errorf("Reading request: %v", err)
			return err
		}

		var req Request
		if err := msgpack.Unmarshal(raw, &req); err != nil {
			s.log.Warnf("Decoding request: %v", err)
			s.sendError(frameID(raw), "Invalid msgpack request", 400)
			continue
		}
		s.handleRequest(ctx, req)
	}
}

// frameID recovers the id of a request that failed to decode, if it has one.
func frameID(raw msgpack.RawMessage) string {
	var fields map[string]any
	if err := msgpack.Unmarshal(raw, &fields); err != nil {
		return ""
	}
	id, _ := fields["id"].(string)
	return id
}

func (s *Server) handleRequest(ctx context.Context, req Request) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	switch req.Action {
	case ActionSearch:
		s.handleSearch(req)
	case ActionLookup:
		s.handleLookup(req)
	case ActionReload:
		if err := s.Reload(ctx); err != nil {
			s.sendError(req.ID, err.Error(), 500)
			return
		}
		s.sendResponse(s.statsResponse(req.ID, "ok"))
	case ActionStats:
		s.sendResponse(s.statsResponse(req.ID, "ok"))
	default:
		s.sendError(req.ID, fmt.Sprintf("Unknown action: %s", req.Action), 400)
	}
}

// handleSearch validates the query, consults the cache and runs the search
// against a single index snapshot.
func (s *Server) handleSearch(req Request) {
	if s.limiter != nil && !s.limiter.Allow() {
		s.metrics.SearchesTotal.WithLabelValues(metrics.OutcomeThrottled).Inc()
		s.sendError(req.ID, "Too many requests", 429)
		return
	}

	if req.Query != "" && !utils.IsValidQuery(req.Query) {
		s.reject(req.ID, "Query must be valid UTF-8 without control characters")
		return
	}
	// Length is measured before normalization; NFKC may expand a rune.
	if n := utf8.RuneCountInString(strings.TrimSpace(req.Query)); n > s.config.Server.MaxQuery {
		s.reject(req.ID, fmt.Sprintf("Query exceeds maximum length of %d characters", s.config.Server.MaxQuery))
		return
	}

	start := time.Now()
	query := symbols.NormalizeQuery(req.Query)
	limit := s.limit(req.Limit)
	var groups []symbols.ResultGroup
	if utf8.RuneCountInString(query) >= max(s.config.Server.MinQuery, 1) {
		groups = s.search(s.current.Load(), query, limit)
	}
	elapsed := time.Since(start)
	s.metrics.ObserveSearch(elapsed, len(groups))

	s.sendResponse(SearchResponse{
		ID:        req.ID,
		Groups:    nonNil(groups),
		Count:     len(groups),
		TimeTaken: elapsed.Microseconds(),
	})
}

// search answers from snap and caches under snap's generation.
func (s *Server) search(snap *snapshot, query string, limit int) []symbols.ResultGroup {
	key := cacheKey(snap.gen, query, limit)
	if groups, ok := s.cache.Get(key); ok {
		s.metrics.CacheHitsTotal.Inc()
		return groups
	}
	s.metrics.CacheMissesTotal.Inc()

	groups := snap.ix.SearchN(query, limit)
	s.cache.Put(key, groups)
	return groups
}

func (s *Server) handleLookup(req Request) {
	start := time.Now()
	var groups []symbols.ResultGroup
	if group, ok := s.Index().Lookup(req.Query); ok {
		groups = append(groups, group)
	}
	s.sendResponse(SearchResponse{
		ID:        req.ID,
		Groups:    nonNil(groups),
		Count:     len(groups),
		TimeTaken: time.Since(start).Microseconds(),
	})
}

// limit clamps a requested group count to the configured maximum.
func (s *Server) limit(requested int) int {
	maxLimit := s.config.Server.MaxLimit
	if requested < 1 || (maxLimit > 0 && requested > maxLimit) {
		return maxLimit
	}
	return requested
}

func (s *Server) statsResponse(id, status string) ActionResponse {
	snap := s.current.Load()
	st := snap.ix.Stats()
	return ActionResponse{
		ID:         id,
		Status:     status,
		Generation: snap.gen,
		Index:      &st,
		Cache:      s.cache.Stats(),
	}
}

func (s *Server) reject(id, message string) {
	s.metrics.SearchesTotal.WithLabelValues(metrics.OutcomeRejected).Inc()
	s.log.Debug("Rejected query", "id", id, "reason", message)
	s.sendError(id, message, 400)
}

// sendResponse encodes the response as one msgpack value on the writer.
func (s *Server) sendResponse(response any) {
	data, err := msgpack.Marshal(response)
	if err != nil {
		s.log.Errorf("Marshaling response: %v", err)
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.writer.Write(data); err != nil {
		s.log.Errorf("Writing response: %v", err)
	}
}

func (s *Server) sendError(id, message string, code int) {
	s.sendResponse(ErrorResponse{ID: id, Error: message, Code: code})
}

func nonNil(groups []symbols.ResultGroup) []symbols.ResultGroup {
	if groups == nil {
		return []symbols.ResultGroup{}
	}
	return groups
}
