package filetree

import (
	"bytes"
	"context"
	"crypto/md5"  //nolint:gosec // MD5 used for checksum verification, not security
	"crypto/sha1" //nolint:gosec // SHA1 used for checksum verification, not security
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// ChecksumAlgorithm names a content hash.
type ChecksumAlgorithm string

const (
	ChecksumMD5    ChecksumAlgorithm = "md5"
	ChecksumSHA1   ChecksumAlgorithm = "sha1"
	ChecksumSHA256 ChecksumAlgorithm = "sha256"
	ChecksumSHA512 ChecksumAlgorithm = "sha512"
	ChecksumCRC32  ChecksumAlgorithm = "crc32"
	ChecksumXXHash ChecksumAlgorithm = "xxhash"
)

// NewHasher creates a new hash.Hash for the given algorithm.
// Returns an error if the algorithm is not supported.
func NewHasher(algorithm ChecksumAlgorithm) (hash.Hash, error) {
	switch algorithm {
	case ChecksumMD5:
		return md5.New(), nil //nolint:gosec // MD5 used for checksum verification, not security
	case ChecksumSHA1:
		return sha1.New(), nil //nolint:gosec // SHA1 used for checksum verification, not security
	case ChecksumSHA256:
		return sha256.New(), nil
	case ChecksumSHA512:
		return sha512.New(), nil
	case ChecksumCRC32:
		return crc32.NewIEEE(), nil
	case ChecksumXXHash:
		return xxhash.New(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported checksum algorithm: %s", ErrNotSupported, algorithm)
	}
}

// CalculateChecksum reads from the reader and calculates the checksum using
// the specified algorithm. Returns the hex-encoded checksum string.
func CalculateChecksum(r io.Reader, algorithm ChecksumAlgorithm) (string, error) {
	h, err := NewHasher(algorithm)
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to calculate checksum: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// CalculateChecksums reads from the reader and calculates multiple checksums
// in a single pass. Returns a map of algorithm to hex-encoded checksum.
func CalculateChecksums(r io.Reader, algorithms []ChecksumAlgorithm) (map[ChecksumAlgorithm]string, error) {
	if len(algorithms) == 0 {
		return nil, fmt.Errorf("no algorithms specified")
	}

	// Create hashers for each algorithm
	hashers := make(map[ChecksumAlgorithm]hash.Hash, len(algorithms))
	writers := make([]io.Writer, 0, len(algorithms))

	for _, algo := range algorithms {
		h, err := NewHasher(algo)
		if err != nil {
			return nil, err
		}
		hashers[algo] = h
		writers = append(writers, h)
	}

	// Create a multi-writer to write to all hashers at once
	multiWriter := io.MultiWriter(writers...)

	// Read the content once, writing to all hashers
	if _, err := io.Copy(multiWriter, r); err != nil {
		return nil, fmt.Errorf("failed to calculate checksums: %w", err)
	}

	// Collect results
	results := make(map[ChecksumAlgorithm]string, len(algorithms))
	for algo, h := range hashers {
		results[algo] = hex.EncodeToString(h.Sum(nil))
	}

	return results, nil
}

// Checksum reads f and returns its hex-encoded checksum. Directories have no
// content and fail with ErrIsDir.
func Checksum(ctx context.Context, f File, algorithm ChecksumAlgorithm) (string, error) {
	if _, ok := f.(Directory); ok {
		return "", NewPathError("checksum", []string{f.Name()}, ErrIsDir)
	}
	data, err := f.Read(ctx)
	if err != nil {
		return "", err
	}
	return CalculateChecksum(bytes.NewReader(data), algorithm)
}

// ContentETag is the quoted entity tag the server sends for file content.
func ContentETag(data []byte) string {
	return fmt.Sprintf("%q", strconv.FormatUint(xxhash.Sum64(data), 16))
}

// VerifyChecksum reads f and reports whether its checksum matches expected.
func VerifyChecksum(ctx context.Context, f File, expected string, algorithm ChecksumAlgorithm) (bool, error) {
	actual, err := Checksum(ctx, f, algorithm)
	if err != nil {
		return false, err
	}
	return actual == expected, nil
}
