package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHTTPOpener(url string, timeout time.Duration) *httpOpener {
	logger := log.NewLogger()
	client := retryhttp.NewClient(logger)
	client.RetryMax = 0
	return &httpOpener{
		url:     url,
		timeout: timeout,
		client:  client.StandardClient(),
		logger:  logger,
	}
}

// rangeHandler serves content honoring Range requests the way a well-behaved
// origin does.
func rangeHandler(t *testing.T, content []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rangeHeader := r.Header.Get("Range")
		if rangeHeader == "" {
			w.Header().Set("Content-Length", strconv.Itoa(len(content)))
			_, err := w.Write(content)
			require.NoError(t, err)
			return
		}

		require.True(t, strings.HasPrefix(rangeHeader, "bytes="), "invalid range header: %s", rangeHeader)
		from, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(rangeHeader, "bytes="), "-"), 10, 64)
		require.NoError(t, err)
		require.Less(t, from, int64(len(content)))

		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", from, len(content)-1, len(content)))
		w.Header().Set("Content-Length", strconv.Itoa(len(content)-int(from)))
		w.WriteHeader(http.StatusPartialContent)
		_, err = w.Write(content[from:])
		require.NoError(t, err)
	}
}

func TestHTTPOpen_FromZero(t *testing.T) {
	content := testContent(512)
	svr := httptest.NewServer(rangeHandler(t, content))
	defer svr.Close()

	opener := newHTTPOpener(svr.URL, 5*time.Second)
	sess, err := opener.open(context.Background(), 0)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, sess.Close())
	}()

	assert.Equal(t, int64(len(content)), sess.TotalSize())

	read, err := io.ReadAll(sess)
	require.NoError(t, err)
	assert.Equal(t, content, read)
}

func TestHTTPOpen_ResumeAtOffset(t *testing.T) {
	content := testContent(512)
	svr := httptest.NewServer(rangeHandler(t, content))
	defer svr.Close()

	opener := newHTTPOpener(svr.URL, 5*time.Second)
	sess, err := opener.open(context.Background(), 100)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, sess.Close())
	}()

	assert.Equal(t, int64(len(content)), sess.TotalSize())

	read, err := io.ReadAll(sess)
	require.NoError(t, err)
	assert.Equal(t, content[100:], read)
}

func TestHTTPOpen_RangeNotSupported(t *testing.T) {
	content := testContent(512)
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// ignore the Range header and serve the full content with 200
		_, err := w.Write(content)
		require.NoError(t, err)
	}))
	defer svr.Close()

	opener := newHTTPOpener(svr.URL, 5*time.Second)
	_, err := opener.open(context.Background(), 100)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRangeNotSupported)
	assert.False(t, isRetryable(err))
}

func TestHTTPOpen_StatusClassification(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
	}{
		{status: http.StatusNotFound, retryable: false},
		{status: http.StatusUnauthorized, retryable: false},
		{status: http.StatusRequestedRangeNotSatisfiable, retryable: false},
		{status: http.StatusTooManyRequests, retryable: true},
		{status: http.StatusInternalServerError, retryable: true},
		{status: http.StatusServiceUnavailable, retryable: true},
	}

	for _, tc := range cases {
		t.Run(strconv.Itoa(tc.status), func(t *testing.T) {
			svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer svr.Close()

			opener := newHTTPOpener(svr.URL, 5*time.Second)
			_, err := opener.open(context.Background(), 0)
			require.Error(t, err)

			var statusErr *StatusError
			require.True(t, errors.As(err, &statusErr))
			assert.Equal(t, tc.status, statusErr.StatusCode)
			assert.Equal(t, tc.retryable, isRetryable(err))
		})
	}
}

func TestHTTPOpen_ConnectTimeout(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
	}))
	defer svr.Close()
	defer close(release)

	opener := newHTTPOpener(svr.URL, 100*time.Millisecond)
	_, err := opener.open(context.Background(), 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAttemptTimeout)
	assert.True(t, isRetryable(err))
	<-started
}

func TestReconnectingReader_ResumesOverHTTP(t *testing.T) {
	content := testContent(4096)
	var requests int
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests == 1 {
			// declare the full length, deliver half, then drop the connection
			w.Header().Set("Content-Length", strconv.Itoa(len(content)))
			_, err := w.Write(content[:len(content)/2])
			require.NoError(t, err)
			w.(http.Flusher).Flush()
			panic(http.ErrAbortHandler)
		}

		rangeHeader := r.Header.Get("Range")
		require.Equal(t, fmt.Sprintf("bytes=%d-", len(content)/2), rangeHeader)
		rangeHandler(t, content)(w, r)
	}))
	defer svr.Close()

	reader, err := NewReconnectingReader(Config{
		URL:           svr.URL,
		Timeout:       5 * time.Second,
		MaxReconnects: 3,
	}, log.NewLogger())
	require.NoError(t, err)
	reader.backoffInitial = time.Millisecond
	defer func() {
		require.NoError(t, reader.Close())
	}()

	read, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, content, read)
	assert.Equal(t, 1, reader.Reconnects())
	assert.Equal(t, 2, requests)
}

func TestProbeSize(t *testing.T) {
	content := testContent(2048)
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodHead, r.Method)
		require.Equal(t, "token", r.Header.Get("Authorization"))
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", strconv.Itoa(len(content)))
	}))
	defer svr.Close()

	reader, err := NewReconnectingReader(Config{
		URL:     svr.URL,
		Headers: map[string]string{"Authorization": "token"},
		Timeout: 5 * time.Second,
	}, log.NewLogger())
	require.NoError(t, err)
	defer func() {
		require.NoError(t, reader.Close())
	}()

	size, err := reader.ProbeSize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), size)
	assert.Equal(t, int64(len(content)), reader.Size())
}

func TestParseContentRangeTotal(t *testing.T) {
	cases := []struct {
		header   string
		expected int64
	}{
		{header: "bytes 100-1023/1024", expected: 1024},
		{header: "bytes 0-0/1", expected: 1},
		{header: "bytes 100-1023/*", expected: -1},
		{header: "garbage", expected: -1},
		{header: "", expected: -1},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.expected, parseContentRangeTotal(tc.header), "header %q", tc.header)
	}
}
