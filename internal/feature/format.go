package feature

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/localphoto/photodedupe/internal/domain"
)

var rawExtensions = map[string]bool{
	".cr2": true, ".cr3": true, ".nef": true, ".arw": true,
	".dng": true, ".raf": true, ".orf": true, ".rw2": true, ".pef": true,
}

// sniffFormat identifies a file's container format from its leading bytes,
// falling back to extension for TIFF-based RAW formats that share TIFF's
// magic number (spec §4.5 "format-header sniff").
func sniffFormat(path string) (domain.Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.FormatUnknown, err
	}
	defer func() { _ = f.Close() }()

	header := make([]byte, 16)
	n, err := io.ReadFull(f, header)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return domain.FormatUnknown, err
	}
	header = header[:n]

	switch {
	case bytes.HasPrefix(header, []byte{0xFF, 0xD8, 0xFF}):
		return domain.FormatJPEG, nil
	case bytes.HasPrefix(header, []byte("\x89PNG\r\n\x1a\n")):
		return domain.FormatPNG, nil
	case len(header) >= 12 && bytes.HasPrefix(header, []byte("RIFF")) && string(header[8:12]) == "WEBP":
		return domain.FormatWEBP, nil
	case bytes.HasPrefix(header, []byte("II*\x00")), bytes.HasPrefix(header, []byte("MM\x00*")):
		if rawExtensions[strings.ToLower(filepath.Ext(path))] {
			return domain.FormatRAW, nil
		}
		return domain.FormatTIFF, nil
	default:
		if rawExtensions[strings.ToLower(filepath.Ext(path))] {
			return domain.FormatRAW, nil
		}
		return domain.FormatOTHER, nil
	}
}
