package searchdata

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/bastiangx/symserve/pkg/symbols"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

var fixtureEntries = []symbols.Entry{
	{Key: "mono", Label: "mono", Occurrences: []symbols.Occurrence{{Scope: "m_global_parameters", Anchor: "../namespacem__global__parameters.html#ac91c"}}},
	{Key: "mono_parameters", Label: "mono_parameters", Occurrences: []symbols.Occurrence{{Scope: "m_derived_types", Anchor: "../structm__derived__types_1_1mono__parameters.html"}}},
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func zstdBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	defer enc.Close()
	return enc.EncodeAll(data, nil)
}

func TestDetectFileFormat(t *testing.T) {
	testCases := []struct {
		name     string
		expected FileFormat
		ok       bool
	}{
		{"all_c.js", FormatDoxygen, true},
		{"variables_0.JS", FormatDoxygen, true},
		{"entries.json", FormatJSON, true},
		{"entries.msgpack", FormatMsgpack, true},
		{"entries.mpk.zst", FormatMsgpack, true},
		{"all_c.js.zst", FormatDoxygen, true},
		{"search.css", FormatUnknown, false},
		{"archive.zst", FormatUnknown, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := DetectFileFormat(tc.name)
			assert.Equal(t, tc.expected, f)
			assert.Equal(t, tc.ok, err == nil)
		})
	}
}

func TestLoadFileFormats(t *testing.T) {
	dir := t.TempDir()
	jsonData, err := json.Marshal(fixtureEntries)
	require.NoError(t, err)
	mpData, err := msgpack.Marshal(fixtureEntries)
	require.NoError(t, err)

	files := []string{
		writeFile(t, dir, "a.json", jsonData),
		writeFile(t, dir, "b.msgpack", mpData),
		writeFile(t, dir, "c.json.zst", zstdBytes(t, jsonData)),
		writeFile(t, dir, "d.msgpack.zst", zstdBytes(t, mpData)),
	}
	for _, f := range files {
		t.Run(filepath.Base(f), func(t *testing.T) {
			entries, err := LoadFile(f)
			require.NoError(t, err)
			assert.Equal(t, fixtureEntries, entries)
		})
	}
}

func TestLoadFileCompressedDoxygen(t *testing.T) {
	raw, err := os.ReadFile("testdata/all_c.js")
	require.NoError(t, err)
	path := writeFile(t, t.TempDir(), "all_c.js.zst", zstdBytes(t, raw))

	entries, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, entries, 9)
}

func TestLoadFileErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	_, err = LoadFile(writeFile(t, dir, "bad.json", []byte(`{"key":1}`)))
	assert.Error(t, err)

	_, err = LoadFile(writeFile(t, dir, "tiny.json", []byte(`[`)))
	assert.Error(t, err)

	_, err = LoadFile(writeFile(t, dir, "notes.txt", []byte("hello")))
	assert.Error(t, err)
}

func TestLoadDirOrdering(t *testing.T) {
	dir := t.TempDir()
	first, err := json.Marshal(fixtureEntries[:1])
	require.NoError(t, err)
	second, err := msgpack.Marshal(fixtureEntries[1:])
	require.NoError(t, err)

	// Written out of order on purpose; name order decides.
	writeFile(t, dir, "20_second.msgpack", second)
	writeFile(t, dir, "10_first.json", first)
	writeFile(t, dir, "README.md", []byte("ignored"))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.json"), 0o755))

	files, err := ListFiles(dir)
	require.NoError(t, err)
	assert.Len(t, files, 2)

	entries, n, err := LoadDir(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, fixtureEntries, entries)
}

func TestLoadDirFailures(t *testing.T) {
	_, n, err := LoadDir(context.Background(), t.TempDir())
	assert.Error(t, err, "empty dir has nothing to load")
	assert.Contains(t, err.Error(), ".js, .json, .msgpack, .mpk")
	assert.Zero(t, n)

	dir := t.TempDir()
	writeFile(t, dir, "ok.json", []byte(`[]`))
	writeFile(t, dir, "bad.js", []byte(`var searchData=[[`))
	_, n, err = LoadDir(context.Background(), dir)
	assert.Error(t, err)
	assert.Equal(t, 2, n)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = LoadDir(ctx, dir)
	assert.Error(t, err)
}

func TestLoader(t *testing.T) {
	dir := t.TempDir()
	data, err := json.Marshal(fixtureEntries)
	require.NoError(t, err)
	writeFile(t, dir, "entries.json", data)

	l := NewLoader(dir)
	ix, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, ix.Len())
	assert.Len(t, ix.Search("mono"), 2)

	stats := l.GetStats()
	assert.Equal(t, 1, stats.Files)
	assert.Equal(t, 2, stats.Entries)
	assert.Equal(t, 1, stats.Loads)
	assert.Empty(t, stats.LastError)

	// A malformed entry fails the build and is recorded.
	writeFile(t, dir, "entries.json", []byte(`[{"key":"Bad","label":"Bad","occurrences":[{"scope":"","anchor":"x"}]}]`))
	ix, err = l.Load(context.Background())
	assert.Nil(t, ix)
	assert.ErrorIs(t, err, symbols.ErrMalformedEntry)
	assert.NotEmpty(t, l.GetStats().LastError)
	assert.Equal(t, 2, l.GetStats().Entries, "entry count of the last good load is kept")
}

func TestLoaderMissingDir(t *testing.T) {
	l := NewLoader(filepath.Join(t.TempDir(), "gone"))
	ix, err := l.Load(context.Background())
	assert.Nil(t, ix)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to scan data dir")

	stats := l.GetStats()
	assert.Zero(t, stats.Files)
	assert.Equal(t, 1, stats.Loads)
	assert.Equal(t, err.Error(), stats.LastError)
}
