package feature

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/localphoto/photodedupe/internal/domain"
)

// =============================================================================
// Fixture helpers
// =============================================================================

func writeGradientPNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8((x * 255) / max(w-1, 1))
			img.Set(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// =============================================================================
// Format sniffing
// =============================================================================

func TestSniffFormatDetectsPNGMagic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.png")
	writeGradientPNG(t, path, 16, 16)

	format, err := sniffFormat(path)
	if err != nil {
		t.Fatal(err)
	}
	if format != domain.FormatPNG {
		t.Errorf("format = %v, want PNG", format)
	}
}

func TestSniffFormatFallsBackToExtensionForRaw(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.cr2")
	// TIFF-based magic with a CR2 extension.
	if err := os.WriteFile(path, []byte("II*\x00\x08\x00\x00\x00"), 0o644); err != nil {
		t.Fatal(err)
	}
	format, err := sniffFormat(path)
	if err != nil {
		t.Fatal(err)
	}
	if format != domain.FormatRAW {
		t.Errorf("format = %v, want RAW", format)
	}
}

// =============================================================================
// Extract
// =============================================================================

func TestExtractComputesDimensionsAndHashes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "photo.png")
	writeGradientPNG(t, path, 64, 48)

	result, err := Extract(path, Options{MaxDecodeSidePixels: 256})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if result.Feature.Width != 64 || result.Feature.Height != 48 {
		t.Errorf("dimensions = %dx%d, want 64x48", result.Feature.Width, result.Feature.Height)
	}
	if result.Feature.PHash == nil || result.Feature.DHash == nil || result.Feature.AHash == nil {
		t.Error("expected all three perceptual hashes to be populated")
	}
	if result.FastHash == 0 {
		t.Error("expected non-zero fast hash")
	}
}

func TestExtractIdenticalFilesProduceIdenticalHashes(t *testing.T) {
	dir := t.TempDir()
	p1 := filepath.Join(dir, "one.png")
	p2 := filepath.Join(dir, "two.png")
	writeGradientPNG(t, p1, 32, 32)
	writeGradientPNG(t, p2, 32, 32)

	r1, err := Extract(p1, Options{MaxDecodeSidePixels: 128})
	if err != nil {
		t.Fatal(err)
	}
	r2, err := Extract(p2, Options{MaxDecodeSidePixels: 128})
	if err != nil {
		t.Fatal(err)
	}
	if r1.FastHash != r2.FastHash {
		t.Error("identical file contents should produce identical fast hashes")
	}
	if *r1.Feature.PHash != *r2.Feature.PHash {
		t.Error("identical images should produce identical pHash")
	}
}

func TestExtractSkipsRawFormatWhenConfigured(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shot.cr2")
	if err := os.WriteFile(path, []byte("II*\x00\x08\x00\x00\x00padding-bytes-here"), 0o644); err != nil {
		t.Fatal(err)
	}

	result, err := Extract(path, Options{SkipRawFormats: true})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if result.Feature.PHash != nil {
		t.Error("expected nil pHash for a skipped raw file")
	}
	if result.FastHash == 0 {
		t.Error("fast hash should still be computed for a skipped raw file")
	}
}

// =============================================================================
// Hamming distance
// =============================================================================

func TestHammingDistanceZeroForEqualHashes(t *testing.T) {
	if d := hammingDistance64(0xABCD, 0xABCD); d != 0 {
		t.Errorf("distance = %d, want 0", d)
	}
}

func TestHammingDistanceCountsBitFlips(t *testing.T) {
	if d := hammingDistance64(0b0000, 0b1111); d != 4 {
		t.Errorf("distance = %d, want 4", d)
	}
}

// =============================================================================
// Strong hash
// =============================================================================

func TestStrongContentHashMatchesForIdenticalBytes(t *testing.T) {
	dir := t.TempDir()
	p1 := filepath.Join(dir, "a.bin")
	p2 := filepath.Join(dir, "b.bin")
	if err := os.WriteFile(p1, []byte("identical content"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p2, []byte("identical content"), 0o644); err != nil {
		t.Fatal(err)
	}

	h1, err := StrongContentHash(p1)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := StrongContentHash(p2)
	if err != nil {
		t.Fatal(err)
	}
	if string(h1) != string(h2) {
		t.Error("identical file contents should produce identical strong hashes")
	}
	if len(h1) != 32 {
		t.Errorf("sha256 digest length = %d, want 32", len(h1))
	}
}
