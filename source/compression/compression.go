// Package compression provides decompressing wrappers around any
// source.Source, so compressed local or remote streams can be consumed as
// plain byte streams.
package compression

import (
	"fmt"

	"github.com/bitrise-io/go-inputstream/source"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// GzipSource decompresses a gzip stream read from the wrapped source.
type GzipSource struct {
	source source.Source
	reader *gzip.Reader
}

// NewGzipSource ...
func NewGzipSource(src source.Source) (*GzipSource, error) {
	reader, err := gzip.NewReader(src)
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	return &GzipSource{source: src, reader: reader}, nil
}

// Read ...
func (s *GzipSource) Read(p []byte) (int, error) {
	return s.reader.Read(p)
}

// Size returns SizeUnknown: the decompressed length is not known in advance.
func (s *GzipSource) Size() int64 {
	return source.SizeUnknown
}

// Close ...
func (s *GzipSource) Close() error {
	if err := s.reader.Close(); err != nil {
		if closeErr := s.source.Close(); closeErr != nil {
			return fmt.Errorf("close gzip reader: %v, close source: %w", err, closeErr)
		}
		return fmt.Errorf("close gzip reader: %w", err)
	}
	return s.source.Close()
}

// ZstdSource decompresses a zstandard stream read from the wrapped source.
type ZstdSource struct {
	source  source.Source
	decoder *zstd.Decoder
}

// NewZstdSource ...
func NewZstdSource(src source.Source) (*ZstdSource, error) {
	decoder, err := zstd.NewReader(src)
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	return &ZstdSource{source: src, decoder: decoder}, nil
}

// Read ...
func (s *ZstdSource) Read(p []byte) (int, error) {
	return s.decoder.Read(p)
}

// Size returns SizeUnknown: the decompressed length is not known in advance.
func (s *ZstdSource) Size() int64 {
	return source.SizeUnknown
}

// Close ...
func (s *ZstdSource) Close() error {
	s.decoder.Close()
	return s.source.Close()
}
