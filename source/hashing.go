package source

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
)

// HashingSource wraps a source and maintains a running SHA-256 checksum plus a
// count of the bytes delivered so far, without buffering any data.
type HashingSource struct {
	source    Source
	hash      hash.Hash
	bytesRead int64
}

// NewHashingSource ...
func NewHashingSource(src Source) *HashingSource {
	return &HashingSource{
		source: src,
		hash:   sha256.New(),
	}
}

// Read ...
func (s *HashingSource) Read(p []byte) (int, error) {
	n, err := s.source.Read(p)
	if n > 0 {
		// hash.Hash.Write never returns an error
		s.hash.Write(p[:n])
		s.bytesRead += int64(n)
	}
	return n, err
}

// Size ...
func (s *HashingSource) Size() int64 {
	return s.source.Size()
}

// Close ...
func (s *HashingSource) Close() error {
	return s.source.Close()
}

// BytesRead returns the number of bytes delivered through this source so far.
func (s *HashingSource) BytesRead() int64 {
	return s.bytesRead
}

// Checksum returns the hex-encoded SHA-256 digest of everything read so far.
func (s *HashingSource) Checksum() string {
	return hex.EncodeToString(s.hash.Sum(nil))
}
