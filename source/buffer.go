package source

import "bytes"

// BufferSource reads from an in-memory byte slice.
type BufferSource struct {
	reader *bytes.Reader
	size   int64
}

// NewBufferSource creates a source over data. The slice is not copied, so the
// caller must not modify it while the source is in use.
func NewBufferSource(data []byte) *BufferSource {
	return &BufferSource{
		reader: bytes.NewReader(data),
		size:   int64(len(data)),
	}
}

// Read ...
func (s *BufferSource) Read(p []byte) (int, error) {
	return s.reader.Read(p)
}

// Size ...
func (s *BufferSource) Size() int64 {
	return s.size
}

// Close is a no-op, in-memory buffers hold no OS resources.
func (s *BufferSource) Close() error {
	return nil
}
