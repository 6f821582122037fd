package network

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
)

// session is one physical connection delivering a contiguous byte range
// starting at the offset it was opened with.
type session interface {
	io.ReadCloser

	// TotalSize returns the full length of the resource as reported when the
	// session was opened, or -1 if the resource did not declare one.
	TotalSize() int64
}

// sessionOpener opens a new physical connection whose reads start exactly at
// the given offset of the logical byte stream.
type sessionOpener interface {
	open(ctx context.Context, offset int64) (session, error)
}

// attemptTimer cancels an in-flight attempt when the per-attempt timeout
// elapses, and records whether it fired so the resulting context error can be
// reported as a timeout rather than a plain cancellation.
type attemptTimer struct {
	timer *time.Timer
	fired int32
}

func startAttemptTimer(timeout time.Duration, cancel context.CancelFunc) *attemptTimer {
	t := &attemptTimer{}
	t.timer = time.AfterFunc(timeout, func() {
		atomic.StoreInt32(&t.fired, 1)
		cancel()
	})
	return t
}

func (t *attemptTimer) stop() {
	t.timer.Stop()
}

func (t *attemptTimer) expired() bool {
	return atomic.LoadInt32(&t.fired) == 1
}

// httpOpener opens link sessions over HTTP(S) using Range requests to resume
// at non-zero offsets.
type httpOpener struct {
	url     string
	headers map[string]string
	timeout time.Duration
	client  *http.Client
	logger  log.Logger
}

func (o *httpOpener) open(ctx context.Context, offset int64) (session, error) {
	reqCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, o.url, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create request: %w", err)
	}
	for name, value := range o.headers {
		req.Header.Set(name, value)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	timer := startAttemptTimer(o.timeout, cancel)
	resp, err := o.client.Do(req) //nolint:bodyclose // closed via linkSession or below
	timer.stop()
	if err != nil {
		cancel()
		if timer.expired() {
			return nil, fmt.Errorf("connect to %s: %w after %s", o.url, ErrAttemptTimeout, o.timeout)
		}
		return nil, fmt.Errorf("connect to %s: %w", o.url, err)
	}

	total := int64(-1)
	switch {
	case resp.StatusCode == http.StatusPartialContent:
		total = parseContentRangeTotal(resp.Header.Get("Content-Range"))
	case resp.StatusCode == http.StatusOK && offset > 0:
		// asked to resume mid-stream but got the full content back
		discardBody(resp, o.logger)
		cancel()
		return nil, fmt.Errorf("resume at offset %d: %w", offset, ErrRangeNotSupported)
	case resp.StatusCode == http.StatusOK:
		if resp.ContentLength >= 0 {
			total = resp.ContentLength
		}
	default:
		discardBody(resp, o.logger)
		cancel()
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: o.url}
	}

	return &linkSession{
		body:    resp.Body,
		total:   total,
		timeout: o.timeout,
		cancel:  cancel,
	}, nil
}

// linkSession wraps a live response body. Each individual Read is bounded by
// the per-attempt timeout: if it elapses, the underlying request context is
// cancelled, which aborts the blocked read.
type linkSession struct {
	body    io.ReadCloser
	total   int64
	timeout time.Duration
	cancel  context.CancelFunc
	closed  bool
}

func (s *linkSession) Read(p []byte) (int, error) {
	timer := startAttemptTimer(s.timeout, s.cancel)
	n, err := s.body.Read(p)
	timer.stop()
	if err != nil && err != io.EOF && timer.expired() {
		return n, fmt.Errorf("read: %w after %s", ErrAttemptTimeout, s.timeout)
	}
	return n, err
}

func (s *linkSession) TotalSize() int64 {
	return s.total
}

// Close releases the connection. It is idempotent.
func (s *linkSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	return s.body.Close()
}

// parseContentRangeTotal extracts the total length from a Content-Range header
// such as "bytes 100-1023/1024". Returns -1 when the total is "*" or the
// header is malformed.
func parseContentRangeTotal(header string) int64 {
	idx := strings.LastIndex(header, "/")
	if idx < 0 {
		return -1
	}
	totalPart := header[idx+1:]
	if totalPart == "*" {
		return -1
	}
	total, err := strconv.ParseInt(totalPart, 10, 64)
	if err != nil {
		return -1
	}
	return total
}

func discardBody(resp *http.Response, logger log.Logger) {
	if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)); err != nil {
		logger.Debugf("discard response body: %s", err)
	}
	if err := resp.Body.Close(); err != nil {
		logger.Debugf("close response body: %s", err)
	}
}
