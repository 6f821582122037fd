package source

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferSource(t *testing.T) {
	content := []byte("in-memory bytes")
	src := NewBufferSource(content)

	assert.Equal(t, int64(len(content)), src.Size())

	read, err := io.ReadAll(src)
	require.NoError(t, err)
	assert.Equal(t, content, read)

	// further reads report EOF
	n, err := src.Read(make([]byte, 8))
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)

	require.NoError(t, src.Close())
}

func TestBufferSource_SmallChunks(t *testing.T) {
	content := []byte("abcdefghij")
	src := NewBufferSource(content)

	var collected []byte
	buf := make([]byte, 3)
	for {
		n, err := src.Read(buf)
		collected = append(collected, buf[:n]...)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	assert.Equal(t, content, collected)
}

func TestReaderSource(t *testing.T) {
	src := NewReaderSource(strings.NewReader("piped data"))
	assert.Equal(t, SizeUnknown, src.Size())

	read, err := io.ReadAll(src)
	require.NoError(t, err)
	assert.Equal(t, []byte("piped data"), read)
	require.NoError(t, src.Close())
}
