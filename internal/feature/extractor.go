// Package feature turns a scanned File into a Feature row: a fast content
// hash, perceptual hashes, dimensions, and an EXIF subset (spec §4.5).
// Decoding is grounded on other_examples/HaiderBassem-imaged's dependency
// choices (disintegration/imaging for EXIF-orientation-aware decode and
// resize, rwcarlsen/goexif for metadata) and golang.org/x/image's
// additional format decoders, the same stack that pack repo pairs with
// mattn/go-sqlite3.
package feature

import (
	"bufio"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/localphoto/photodedupe/internal/domain"
)

// Options configures one Extract call; fields mirror the relevant subset of
// settings.Settings so this package has no import-time dependency on it.
type Options struct {
	MaxDecodeSidePixels int
	SkipRawFormats      bool
	SkipTiffFormats     bool
}

// Result is everything Extract learns about one file.
type Result struct {
	Feature  domain.Feature
	FastHash uint64
}

// Extract computes the fast content hash always, and perceptual hashes plus
// dimensions/EXIF unless the format is configured to be skipped (spec §4.5
// steps 1-4). A RAW or TIFF file that is skipped still gets a Feature row
// with zero-value hashes, so Grouping can still bucket it by exact content
// hash; it is simply never a near-duplicate candidate.
func Extract(path string, opts Options) (Result, error) {
	format, err := sniffFormat(path)
	if err != nil {
		return Result{}, fmt.Errorf("%w: sniff format %s: %w", domain.ErrUnprocessableFile, path, err)
	}

	fastHash, err := fastContentHash(path)
	if err != nil {
		return Result{}, fmt.Errorf("%w: fast hash %s: %w", domain.ErrTransientIO, path, err)
	}

	ex := readEXIF(path)
	feat := domain.Feature{
		Format:      format,
		CaptureTime: ex.CaptureTime,
		CameraMake:  ex.CameraMake,
		CameraModel: ex.CameraModel,
		Orientation: ex.Orientation,
	}

	skip := (format == domain.FormatRAW && opts.SkipRawFormats) ||
		(format == domain.FormatTIFF && opts.SkipTiffFormats)
	if skip {
		width, height := probeDimensions(path)
		feat.Width, feat.Height = width, height
		return Result{Feature: feat, FastHash: fastHash}, nil
	}

	oriented, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return Result{}, fmt.Errorf("%w: decode %s: %w", domain.ErrUnprocessableFile, path, err)
	}
	bounds := oriented.Bounds()
	feat.Width, feat.Height = bounds.Dx(), bounds.Dy()

	maxSide := opts.MaxDecodeSidePixels
	if maxSide <= 0 {
		maxSide = 256
	}
	bounded := imaging.Fit(oriented, maxSide, maxSide, imaging.Lanczos)
	gray := imaging.Grayscale(bounded)

	a := computeAHash(gray)
	d := computeDHash(gray)
	p := computePHash(gray)
	feat.AHash, feat.DHash, feat.PHash = &a, &d, &p

	return Result{Feature: feat, FastHash: fastHash}, nil
}

// probeDimensions reads just enough of a file to learn its dimensions
// without a full decode, used for skipped RAW/TIFF formats.
func probeDimensions(path string) (int, int) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0
	}
	defer func() { _ = f.Close() }()

	cfg, _, err := image.DecodeConfig(bufio.NewReader(f))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}
