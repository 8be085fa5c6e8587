// Package hash computes file content digests for baseline and verification.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// Algorithm identifies a supported digest algorithm.
type Algorithm int

const (
	// BLAKE3 is the default algorithm: faster than SHA-256 on modern
	// hardware with equivalent collision resistance for this use.
	BLAKE3 Algorithm = iota
	// SHA256 is kept for environments that mandate a FIPS digest.
	SHA256
)

// fileBufferSize is the chunk size used when streaming file contents.
const fileBufferSize = 1 << 20

// String returns the canonical lowercase name stored in baselines.
func (a Algorithm) String() string {
	switch a {
	case BLAKE3:
		return "blake3"
	case SHA256:
		return "sha256"
	}
	return "unknown"
}

// ParseAlgorithm converts a canonical name back to an Algorithm.
// Names are case-sensitive; anything but "blake3" or "sha256" is an error.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch name {
	case "blake3":
		return BLAKE3, nil
	case "sha256":
		return SHA256, nil
	}
	return 0, fmt.Errorf("unknown hash algorithm: %q", name)
}

func newHasher(a Algorithm) hash.Hash {
	if a == SHA256 {
		return sha256.New()
	}
	return blake3.New()
}

// HashBytes returns the lowercase hex digest of data.
func HashBytes(data []byte, a Algorithm) string {
	h := newHasher(a)
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// HashFile streams the file at path through the digest in 1 MiB chunks and
// returns the lowercase hex digest. The file is read without modification;
// unreadable or vanished files yield an error, never a partial digest.
func HashFile(path string, a Algorithm) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := newHasher(a)
	buf := make([]byte, fileBufferSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
