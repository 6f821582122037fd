package source

import (
	"fmt"
	"os"
)

// FileSource reads a local file from start to end.
type FileSource struct {
	path string
	file *os.File
	size int64
}

// NewFileSource opens the file at path for reading.
func NewFileSource(path string) (*FileSource, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory, not a file", path)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	return &FileSource{
		path: path,
		file: file,
		size: info.Size(),
	}, nil
}

// Path returns the path the source was opened from.
func (s *FileSource) Path() string {
	return s.path
}

// Read ...
func (s *FileSource) Read(p []byte) (int, error) {
	return s.file.Read(p)
}

// Size ...
func (s *FileSource) Size() int64 {
	return s.size
}

// Close ...
func (s *FileSource) Close() error {
	return s.file.Close()
}
