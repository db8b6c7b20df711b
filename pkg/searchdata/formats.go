package searchdata

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileFormat represents the supported entry file formats
type FileFormat int

const (
	FormatUnknown FileFormat = iota
	FormatDoxygen            // Doxygen searchData JavaScript
	FormatJSON               // JSON array of entries
	FormatMsgpack            // msgpack array of entries
)

// compressedExt marks a zstd-compressed file of any format.
const compressedExt = ".zst"

// FormatInfo contains metadata about a file format
type FormatInfo struct {
	Format      FileFormat
	Description string
	Extensions  []string
	MinSize     int64 // Minimum expected file size in bytes
}

var supportedFormats = map[FileFormat]FormatInfo{
	FormatDoxygen: {
		Format:      FormatDoxygen,
		Description: "Doxygen searchData script",
		Extensions:  []string{".js"},
		MinSize:     2, // "[]"
	},
	FormatJSON: {
		Format:      FormatJSON,
		Description: "JSON entry list",
		Extensions:  []string{".json"},
		MinSize:     2,
	},
	FormatMsgpack: {
		Format:      FormatMsgpack,
		Description: "msgpack entry list",
		Extensions:  []string{".msgpack", ".mpk"},
		MinSize:     1, // fixarray header
	},
}

func (f FileFormat) String() string {
	if info, ok := supportedFormats[f]; ok {
		return info.Description
	}
	return "unknown"
}

// splitCompressed strips a trailing .zst and reports whether it was there.
func splitCompressed(filename string) (string, bool) {
	if strings.EqualFold(filepath.Ext(filename), compressedExt) {
		return strings.TrimSuffix(filename, filepath.Ext(filename)), true
	}
	return filename, false
}

// DetectFileFormat picks a format from the file name, ignoring a .zst suffix.
func DetectFileFormat(filename string) (FileFormat, error) {
	name, _ := splitCompressed(filename)
	ext := strings.ToLower(filepath.Ext(name))
	for format, info := range supportedFormats {
		for _, e := range info.Extensions {
			if ext == e {
				return format, nil
			}
		}
	}
	return FormatUnknown, fmt.Errorf("unable to detect format for file %s", filename)
}

// ValidateFileFormat checks that a file exists and is large enough for its format.
func ValidateFileFormat(filename string, expected FileFormat) error {
	fileInfo, err := os.Stat(filename)
	if err != nil {
		return fmt.Errorf("failed to stat file %s: %w", filename, err)
	}
	if fileInfo.IsDir() {
		return fmt.Errorf("%s is a directory", filename)
	}

	formatInfo, exists := supportedFormats[expected]
	if !exists {
		return fmt.Errorf("unknown format: %v", expected)
	}

	// Compressed sizes say nothing about the payload.
	if _, compressed := splitCompressed(filename); !compressed && fileInfo.Size() < formatInfo.MinSize {
		return fmt.Errorf("file %s is too small (%d bytes) for format %s (minimum: %d bytes)",
			filename, fileInfo.Size(), formatInfo.Description, formatInfo.MinSize)
	}
	return nil
}

// IsSupported reports whether LoadFile can read the named file.
func IsSupported(filename string) bool {
	_, err := DetectFileFormat(filename)
	return err == nil
}

// SupportedExtensions lists every accepted file extension, for messages.
func SupportedExtensions() string {
	var exts []string
	for _, info := range ListSupportedFormats() {
		exts = append(exts, info.Extensions...)
	}
	return strings.Join(exts, ", ") + " (optionally " + compressedExt + ")"
}

// ListSupportedFormats returns all supported formats, ordered by format id.
func ListSupportedFormats() []FormatInfo {
	formats := make([]FormatInfo, 0, len(supportedFormats))
	for _, info := range supportedFormats {
		formats = append(formats, info)
	}
	sort.Slice(formats, func(i, j int) bool {
		return formats[i].Format < formats[j].Format
	})
	return formats
}
