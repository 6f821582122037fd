package source

import "io"

// ReaderSource adapts an arbitrary io.Reader (a process pipe, a socket, an
// already-open file handle) to the Source interface. The total length is
// unknown. If the wrapped reader also implements io.Closer, Close is passed
// through, otherwise Close is a no-op.
type ReaderSource struct {
	reader io.Reader
}

// NewReaderSource ...
func NewReaderSource(reader io.Reader) *ReaderSource {
	return &ReaderSource{reader: reader}
}

// Read ...
func (s *ReaderSource) Read(p []byte) (int, error) {
	return s.reader.Read(p)
}

// Size ...
func (s *ReaderSource) Size() int64 {
	return SizeUnknown
}

// Close ...
func (s *ReaderSource) Close() error {
	if closer, ok := s.reader.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
