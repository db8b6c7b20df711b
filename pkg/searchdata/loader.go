// Package searchdata loads symbol entries from the files a documentation build
// emits (Doxygen searchData scripts, JSON or msgpack entry lists, optionally
// zstd-compressed) and watches a data directory for changes.
package searchdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bastiangx/symserve/internal/logger"
	"github.com/bastiangx/symserve/pkg/symbols"
	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/errgroup"
)

// maxParallelFiles bounds concurrent file decoding in LoadDir.
const maxParallelFiles = 8

// LoadFile reads and decodes one entry file.
func LoadFile(filename string) ([]symbols.Entry, error) {
	format, err := DetectFileFormat(filename)
	if err != nil {
		return nil, err
	}
	if err := ValidateFileFormat(filename, format); err != nil {
		return nil, err
	}

	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", filename, err)
	}
	defer file.Close()

	var r io.Reader = file
	if _, compressed := splitCompressed(filename); compressed {
		dec, err := zstd.NewReader(file)
		if err != nil {
			return nil, fmt.Errorf("failed to open zstd stream %s: %w", filename, err)
		}
		defer dec.Close()
		r = dec
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filename, err)
	}
	return Decode(filepath.Base(filename), format, data)
}

// Decode turns raw (uncompressed) bytes of the given format into entries.
func Decode(name string, format FileFormat, data []byte) ([]symbols.Entry, error) {
	var entries []symbols.Entry
	switch format {
	case FormatDoxygen:
		return ParseDoxygen(name, data)
	case FormatJSON:
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("failed to decode JSON entries from %s: %w", name, err)
		}
	case FormatMsgpack:
		if err := msgpack.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("failed to decode msgpack entries from %s: %w", name, err)
		}
	default:
		return nil, fmt.Errorf("unsupported format %v for %s", format, name)
	}
	return entries, nil
}

// ListFiles returns every supported file directly inside dir, sorted by name.
func ListFiles(dir string) ([]string, error) {
	des, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan data dir %s: %w", dir, err)
	}
	var files []string
	for _, de := range des {
		if de.IsDir() || !IsSupported(de.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, de.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// LoadDir loads every supported file in dir concurrently and reports how many
// files it read. Entries are concatenated in file name order, so declaration
// order is reproducible.
func LoadDir(ctx context.Context, dir string) ([]symbols.Entry, int, error) {
	files, err := ListFiles(dir)
	if err != nil {
		return nil, 0, err
	}
	if len(files) == 0 {
		return nil, 0, fmt.Errorf("no entry files found in %s (supported: %s)", dir, SupportedExtensions())
	}

	parts := make([][]symbols.Entry, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelFiles)
	for i, f := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			entries, err := LoadFile(f)
			if err != nil {
				return err
			}
			parts[i] = entries
			log.Debugf("Loaded %d entries from %s", len(entries), filepath.Base(f))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, len(files), err
	}

	total := 0
	for _, p := range parts {
		total += len(p)
	}
	all := make([]symbols.Entry, 0, total)
	for _, p := range parts {
		all = append(all, p...)
	}
	return all, len(files), nil
}

// LoaderStats describes the most recent load.
type LoaderStats struct {
	Files     int
	Entries   int
	Loads     int
	LastLoad  time.Time
	LastError string
}

// Loader builds indexes from a data directory and remembers what it did.
type Loader struct {
	dirPath string
	mu      sync.RWMutex
	stats   LoaderStats
	log     *log.Logger
}

// NewLoader creates a loader for dirPath
func NewLoader(dirPath string) *Loader {
	return &Loader{dirPath: dirPath, log: logger.New("searchdata")}
}

// Dir returns the data directory.
func (l *Loader) Dir() string {
	return l.dirPath
}

// Load reads the directory and builds a fresh Index. On failure no index is
// returned and the caller should keep serving its previous one.
func (l *Loader) Load(ctx context.Context) (*symbols.Index, error) {
	entries, files, err := LoadDir(ctx, l.dirPath)
	if err == nil {
		var ix *symbols.Index
		ix, err = symbols.Build(entries)
		if err == nil {
			l.record(files, len(entries), nil)
			l.log.Debugf("Built index from %d files in %s", files, l.dirPath)
			return ix, nil
		}
	}
	l.record(files, 0, err)
	l.log.Warnf("Loading %s failed: %v", l.dirPath, err)
	return nil, err
}

func (l *Loader) record(files, entries int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats.Loads++
	l.stats.LastLoad = time.Now()
	l.stats.Files = files
	if err != nil {
		l.stats.LastError = err.Error()
		return
	}
	l.stats.Entries = entries
	l.stats.LastError = ""
}

// GetStats returns a copy of the current loader statistics.
func (l *Loader) GetStats() LoaderStats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.stats
}
