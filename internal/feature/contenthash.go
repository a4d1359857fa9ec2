package feature

import (
	"crypto/sha256"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
)

const blockSize = 64 * 1024

// fastContentHash computes the 64-bit xxhash of a file's full contents
// (spec §4.5 step 2, "fast 64-bit content hash"). xxhash is orders of
// magnitude cheaper than SHA-256 and is used for the Store's
// (size, fast_hash) exact-duplicate bucketing index.
func fastContentHash(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	h := xxhash.New()
	buf := make([]byte, blockSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}

// StrongContentHash computes the full SHA-256 of a file (spec §4.5's
// strong-hash confirmation, §4.7 tier-1). Ported from
// ivoronin-dupedog/internal/verifier's hashRange, generalized from a byte
// range to the whole file since this pipeline confirms exact duplicates by
// full content rather than progressive head/tail/chunk probing. Exported
// for the Rescan Coordinator, which computes it for every file it extracts
// features for while strong-hash confirmation is enabled; it does not limit
// the computation to files whose (size, fast_hash) bucket has more than one
// member.
func StrongContentHash(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	hasher := sha256.New()
	buf := make([]byte, blockSize)
	if _, err := io.CopyBuffer(hasher, f, buf); err != nil {
		return nil, err
	}
	return hasher.Sum(nil), nil
}
