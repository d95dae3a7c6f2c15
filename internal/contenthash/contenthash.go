// Package contenthash computes content-addressed identifiers for media
// files using xxHash-64, chosen for throughput over cryptographic
// strength since the hash is used purely for deduplication.
package contenthash

import (
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
)

// chunkSize matches the 64 KiB read size specified for the hasher.
const chunkSize = 64 * 1024

// Hash returns the lowercase hex xxHash-64 digest of path's contents.
// Callers SHOULD treat a non-nil error as "no deduplication for this
// file" rather than aborting the run.
func Hash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("contenthash: open %s: %w", path, err)
	}
	defer f.Close()

	h := xxhash.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("contenthash: read %s: %w", path, err)
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}
