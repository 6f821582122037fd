package source

import (
	"fmt"
	"math/rand"
	"os"
	"time"
)

// TeeSource reads from a wrapped source and writes every byte that passes
// through to a local copy file. The copy is written to a temporary file next
// to the destination and moved into place when the source is closed, so a
// partially written copy never appears under the final name.
type TeeSource struct {
	source   Source
	copyPath string
	tmpPath  string
	copyFile *os.File
	writeErr error
	closed   bool
}

// NewTeeSource ...
func NewTeeSource(src Source, copyPath string) (*TeeSource, error) {
	tmpPath := fmt.Sprintf("%s.%d.%d", copyPath, time.Now().UnixMilli(), rand.Intn(1000))
	copyFile, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("create copy file %s: %w", tmpPath, err)
	}

	return &TeeSource{
		source:   src,
		copyPath: copyPath,
		tmpPath:  tmpPath,
		copyFile: copyFile,
	}, nil
}

// Read ...
func (s *TeeSource) Read(p []byte) (int, error) {
	n, err := s.source.Read(p)
	if n > 0 {
		if _, writeErr := s.copyFile.Write(p[:n]); writeErr != nil {
			s.writeErr = writeErr
			return n, fmt.Errorf("write copy of stream: %w", writeErr)
		}
	}
	return n, err
}

// Size ...
func (s *TeeSource) Size() int64 {
	return s.source.Size()
}

// Flush forces buffered copy data to disk.
func (s *TeeSource) Flush() error {
	return s.copyFile.Sync()
}

// Close closes the wrapped source and finalizes the copy file. If any copy
// write failed, the temporary file is removed instead of being moved into
// place.
func (s *TeeSource) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	sourceErr := s.source.Close()
	copyErr := s.copyFile.Close()

	if s.writeErr != nil || copyErr != nil {
		if err := os.Remove(s.tmpPath); err != nil {
			return fmt.Errorf("remove incomplete copy %s: %w", s.tmpPath, err)
		}
		if copyErr != nil {
			return fmt.Errorf("close copy file: %w", copyErr)
		}
		return sourceErr
	}

	if err := os.Rename(s.tmpPath, s.copyPath); err != nil {
		return fmt.Errorf("move copy into place: %w", err)
	}
	return sourceErr
}
