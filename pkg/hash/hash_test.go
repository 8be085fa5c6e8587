package hash

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAlgorithmRoundTrip(t *testing.T) {
	for _, a := range []Algorithm{BLAKE3, SHA256} {
		parsed, err := ParseAlgorithm(a.String())
		require.NoError(t, err)
		assert.Equal(t, a, parsed)
	}
}

func TestParseAlgorithmRejectsUnknown(t *testing.T) {
	for _, name := range []string{"", "md5", "BLAKE3", "Sha256"} {
		_, err := ParseAlgorithm(name)
		assert.Error(t, err, "name %q should not parse", name)
	}
}

func TestHashBytesDeterministic(t *testing.T) {
	data := []byte("the quick brown fox")

	first := HashBytes(data, BLAKE3)
	second := HashBytes(data, BLAKE3)
	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
	assert.Equal(t, strings.ToLower(first), first)

	// Known SHA-256 vector for the empty input.
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		HashBytes(nil, SHA256))
}

func TestHashBytesAlgorithmsDiffer(t *testing.T) {
	data := []byte("same input")
	assert.NotEqual(t, HashBytes(data, BLAKE3), HashBytes(data, SHA256))
}

func TestHashFileMatchesHashBytes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.bin")

	// Larger than one read buffer to exercise the chunked path.
	data := make([]byte, (1<<20)+4096)
	for i := range data {
		data[i] = byte(i % 251)
	}
	require.NoError(t, os.WriteFile(path, data, 0o644))

	for _, a := range []Algorithm{BLAKE3, SHA256} {
		got, err := HashFile(path, a)
		require.NoError(t, err)
		assert.Equal(t, HashBytes(data, a), got)
	}
}

func TestHashFileMissing(t *testing.T) {
	_, err := HashFile(filepath.Join(t.TempDir(), "nope"), BLAKE3)
	assert.Error(t, err)
}
