package source

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// MergedSource concatenates multiple sources into one logical stream. Each
// source is read to its end and closed before the next one is started, so at
// most one underlying source holds resources at a time (after the first Read).
type MergedSource struct {
	sources []Source
	current int
}

// NewMergedSource ...
func NewMergedSource(sources ...Source) *MergedSource {
	return &MergedSource{sources: sources}
}

// NewGlobSource creates a merged source over every file matching the given
// doublestar pattern (for example "logs/**/*.jsonl"), in lexical path order.
// Files are opened lazily, one at a time, as the stream advances.
func NewGlobSource(pattern string) (*MergedSource, error) {
	paths, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no files match pattern %s", pattern)
	}
	sort.Strings(paths)

	sources := make([]Source, 0, len(paths))
	for _, path := range paths {
		lazy, err := newLazyFile(path)
		if err != nil {
			return nil, err
		}
		sources = append(sources, lazy)
	}

	return NewMergedSource(sources...), nil
}

// Read ...
func (s *MergedSource) Read(p []byte) (int, error) {
	for s.current < len(s.sources) {
		n, err := s.sources[s.current].Read(p)
		if err == io.EOF {
			if closeErr := s.sources[s.current].Close(); closeErr != nil {
				return n, fmt.Errorf("close exhausted source: %w", closeErr)
			}
			s.sources[s.current] = nil
			s.current++
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
	return 0, io.EOF
}

// Size returns the sum of the component sizes, or SizeUnknown if any
// component's length is unknown.
func (s *MergedSource) Size() int64 {
	var total int64
	for _, src := range s.sources {
		if src == nil {
			continue
		}
		size := src.Size()
		if size < 0 {
			return SizeUnknown
		}
		total += size
	}
	return total
}

// Close closes every source that has not been exhausted yet.
func (s *MergedSource) Close() error {
	var firstErr error
	for i := s.current; i < len(s.sources); i++ {
		if s.sources[i] == nil {
			continue
		}
		if err := s.sources[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.sources[i] = nil
	}
	s.current = len(s.sources)
	return firstErr
}

// lazyFile defers opening the file descriptor until the first Read, so a
// merged source over many files does not hold them all open at once.
// The size is captured eagerly so MergedSource.Size works before reading.
type lazyFile struct {
	path string
	size int64
	file *os.File
}

func newLazyFile(path string) (*lazyFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory, not a file", path)
	}
	return &lazyFile{path: path, size: info.Size()}, nil
}

func (l *lazyFile) Read(p []byte) (int, error) {
	if l.file == nil {
		file, err := os.Open(l.path)
		if err != nil {
			return 0, fmt.Errorf("open %s: %w", l.path, err)
		}
		l.file = file
	}
	return l.file.Read(p)
}

func (l *lazyFile) Size() int64 {
	return l.size
}

func (l *lazyFile) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
