package network

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bitrise-io/go-inputstream/source"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/docker/go-units"
	"github.com/hashicorp/go-retryablehttp"
)

var _ source.Source = (*ReconnectingReader)(nil)

const (
	// DefaultTimeout bounds each individual connect or read attempt.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxReconnects is a large but finite reconnect budget.
	DefaultMaxReconnects = 20

	defaultBackoffInitial = 500 * time.Millisecond
	defaultBackoffMax     = 15 * time.Second
)

// Config describes a remote resource and the retry policy for reading it.
// It is immutable for the lifetime of a reader, and every reader instance
// carries its own copy, so readers with different policies coexist safely.
type Config struct {
	// URL locates the remote resource.
	URL string

	// Headers are static request headers set on every attempt, for example
	// authentication tokens.
	Headers map[string]string

	// Timeout bounds each individual connect or read attempt. It does not
	// bound the total lifetime of the transfer. Zero means DefaultTimeout.
	Timeout time.Duration

	// MaxReconnects is the total number of reconnect attempts allowed over
	// the reader's lifetime. Zero means failures are never retried.
	MaxReconnects int
}

// DefaultConfig returns a Config for url with the default timeout and
// reconnect budget.
func DefaultConfig(url string) Config {
	return Config{
		URL:           url,
		Timeout:       DefaultTimeout,
		MaxReconnects: DefaultMaxReconnects,
	}
}

type readerState int

const (
	stateIdle readerState = iota
	stateConnecting
	stateStreaming
	stateReconnecting
	stateExhausted
	stateClosed
)

// ReconnectingReader presents a single logical, gapless byte stream backed by
// a sequence of link sessions to a remote resource. When a session drops,
// times out or resets, the reader transparently opens a new one at the exact
// offset already delivered to the consumer, so no bytes are skipped or
// re-delivered. It implements source.Source.
//
// A reader is not safe for concurrent Read calls. Close may be called from
// another goroutine and aborts any in-flight attempt or backoff wait.
type ReconnectingReader struct {
	opener        sessionOpener
	url           string
	headers       map[string]string
	timeout       time.Duration
	maxReconnects int
	logger        log.Logger

	probeClient *retryablehttp.Client

	ctx    context.Context
	cancel context.CancelFunc
	closed int32

	mu   sync.Mutex // guards sess against concurrent Close
	sess session

	state        readerState
	offset       int64
	totalSize    int64
	attemptsUsed int
	lastErr      error
	termErr      error

	backoffInitial time.Duration
	backoffMax     time.Duration
	rnd            *rand.Rand
}

// NewReconnectingReader creates a reader for the resource described by config.
// The first connection is opened lazily on the first Read.
func NewReconnectingReader(config Config, logger log.Logger) (*ReconnectingReader, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("URL is empty")
	}
	if config.Timeout < 0 {
		return nil, fmt.Errorf("timeout must be positive (got %s)", config.Timeout)
	}
	if config.MaxReconnects < 0 {
		return nil, fmt.Errorf("max reconnects must be non-negative (got %d)", config.MaxReconnects)
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}

	// The reconnect state machine owns all retries on the streaming path, so
	// the transport client must not retry on its own.
	streamClient := retryhttp.NewClient(logger)
	streamClient.RetryMax = 0

	probeClient := retryhttp.NewClient(logger)

	opener := &httpOpener{
		url:     config.URL,
		headers: config.Headers,
		timeout: config.Timeout,
		client:  streamClient.StandardClient(),
		logger:  logger,
	}

	reader := newReader(opener, config.MaxReconnects, logger)
	reader.url = config.URL
	reader.headers = config.Headers
	reader.timeout = config.Timeout
	reader.probeClient = probeClient
	return reader, nil
}

func newReader(opener sessionOpener, maxReconnects int, logger log.Logger) *ReconnectingReader {
	ctx, cancel := context.WithCancel(context.Background())
	return &ReconnectingReader{
		opener:         opener,
		maxReconnects:  maxReconnects,
		logger:         logger,
		ctx:            ctx,
		cancel:         cancel,
		state:          stateIdle,
		totalSize:      -1,
		backoffInitial: defaultBackoffInitial,
		backoffMax:     defaultBackoffMax,
		rnd:            rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Read delivers the next bytes of the logical stream. A single call may
// perform any number of reconnects internally before returning data or a
// terminal error; the concatenation of all returned bytes always equals the
// remote content from offset zero, regardless of how many reconnects occurred.
func (r *ReconnectingReader) Read(p []byte) (int, error) {
	if atomic.LoadInt32(&r.closed) == 1 {
		return 0, ErrClosed
	}

	for {
		switch r.state {
		case stateClosed:
			return 0, ErrClosed

		case stateExhausted:
			return 0, r.termErr

		case stateIdle, stateConnecting, stateReconnecting:
			if err := r.connect(); err != nil {
				return 0, err
			}

		case stateStreaming:
			r.mu.Lock()
			sess := r.sess
			r.mu.Unlock()
			if sess == nil {
				// closed from another goroutine mid-read
				return 0, ErrClosed
			}

			n, err := sess.Read(p)
			if n > 0 {
				r.offset += int64(n)
				// a non-EOF error alongside data resurfaces on the next call
				return n, nil
			}
			if err == nil {
				continue
			}
			if atomic.LoadInt32(&r.closed) == 1 {
				r.state = stateClosed
				return 0, ErrClosed
			}
			if err == io.EOF {
				if r.totalSize >= 0 && r.offset < r.totalSize {
					cause := fmt.Errorf("%w: got %d of %d bytes", ErrPrematureEOF, r.offset, r.totalSize)
					if termErr := r.handleFailure(cause); termErr != nil {
						return 0, termErr
					}
					continue
				}
				r.closeSession()
				r.state = stateExhausted
				r.termErr = io.EOF
				r.logger.Debugf("Stream finished after %s", units.BytesSize(float64(r.offset)))
				return 0, io.EOF
			}
			if termErr := r.handleFailure(err); termErr != nil {
				return 0, termErr
			}
		}
	}
}

// connect opens a session at the current offset. On retryable failure it
// schedules a reconnect (or returns the terminal error), on fatal failure it
// moves the reader to its terminal state.
func (r *ReconnectingReader) connect() error {
	r.state = stateConnecting

	sess, err := r.opener.open(r.ctx, r.offset)
	if err != nil {
		if atomic.LoadInt32(&r.closed) == 1 || r.ctx.Err() != nil {
			r.state = stateClosed
			return ErrClosed
		}
		return r.handleFailure(err)
	}

	r.mu.Lock()
	if atomic.LoadInt32(&r.closed) == 1 {
		r.mu.Unlock()
		if closeErr := sess.Close(); closeErr != nil {
			r.logger.Debugf("close session: %s", closeErr)
		}
		r.state = stateClosed
		return ErrClosed
	}
	r.sess = sess
	r.mu.Unlock()

	if r.totalSize < 0 {
		if total := sess.TotalSize(); total >= 0 {
			r.totalSize = total
		}
	}
	r.state = stateStreaming
	return nil
}

// handleFailure is the reconnect transition. It discards the broken session,
// then either schedules a new connection attempt at the current offset
// (returning nil after the backoff wait) or returns the terminal error.
func (r *ReconnectingReader) handleFailure(cause error) error {
	r.closeSession()

	if !isRetryable(cause) {
		r.state = stateExhausted
		r.termErr = cause
		return r.termErr
	}

	r.lastErr = cause
	if r.attemptsUsed >= r.maxReconnects {
		r.state = stateExhausted
		r.termErr = &BudgetExceededError{Attempts: r.attemptsUsed, Err: cause}
		return r.termErr
	}

	r.attemptsUsed++
	r.state = stateReconnecting
	delay := r.backoff(r.attemptsUsed)
	r.logger.Warnf("Connection lost at %s: %s", units.BytesSize(float64(r.offset)), cause)
	r.logger.Debugf("Reconnecting at offset %d in %s (attempt %d of %d)", r.offset, delay, r.attemptsUsed, r.maxReconnects)

	select {
	case <-r.ctx.Done():
		r.state = stateClosed
		return ErrClosed
	case <-time.After(delay):
	}
	return nil
}

// backoff is a capped exponential delay with up to 25% random jitter.
func (r *ReconnectingReader) backoff(attempt int) time.Duration {
	delay := r.backoffInitial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= r.backoffMax {
			delay = r.backoffMax
			break
		}
	}
	jitter := time.Duration(r.rnd.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}

func (r *ReconnectingReader) closeSession() {
	r.mu.Lock()
	sess := r.sess
	r.sess = nil
	r.mu.Unlock()
	if sess != nil {
		if err := sess.Close(); err != nil {
			r.logger.Debugf("close session: %s", err)
		}
	}
}

// Size returns the total length of the resource if it is known (from a probe
// or from a response of an open session), or -1.
func (r *ReconnectingReader) Size() int64 {
	return r.totalSize
}

// Offset returns the number of bytes delivered to the consumer so far.
func (r *ReconnectingReader) Offset() int64 {
	return r.offset
}

// Reconnects returns the number of reconnect attempts consumed so far.
func (r *ReconnectingReader) Reconnects() int {
	return r.attemptsUsed
}

// ProbeSize issues a HEAD request to learn the resource's total length before
// streaming starts. The result is latched so a later clean-versus-premature
// EOF decision can be made even if the streaming responses carry no length.
// The probe uses the transport's default retry policy, it does not consume
// the reader's reconnect budget.
func (r *ReconnectingReader) ProbeSize(ctx context.Context) (int64, error) {
	if atomic.LoadInt32(&r.closed) == 1 {
		return 0, ErrClosed
	}
	if r.probeClient == nil {
		return r.totalSize, nil
	}

	req, err := retryablehttp.NewRequest(http.MethodHead, r.url, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req = req.WithContext(ctx)
	for name, value := range r.headers {
		req.Header.Set(name, value)
	}

	resp, err := r.probeClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("probe %s: %w", r.url, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			r.logger.Debugf("close response body: %s", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, &StatusError{StatusCode: resp.StatusCode, URL: r.url}
	}

	if resp.Header.Get("Accept-Ranges") != "" && resp.Header.Get("Accept-Ranges") != "bytes" {
		r.logger.Warnf("%s does not advertise byte range support, a dropped connection will not be resumable", r.url)
	}

	if resp.ContentLength >= 0 && r.totalSize < 0 {
		r.totalSize = resp.ContentLength
		r.logger.Debugf("Resource size: %s", units.BytesSize(float64(r.totalSize)))
	}
	return r.totalSize, nil
}

// Close releases the active session and aborts any in-flight connect, read or
// backoff wait. Subsequent reads fail with ErrClosed. Close is idempotent.
func (r *ReconnectingReader) Close() error {
	if !atomic.CompareAndSwapInt32(&r.closed, 0, 1) {
		return nil
	}
	r.cancel()

	r.mu.Lock()
	sess := r.sess
	r.sess = nil
	r.mu.Unlock()

	if sess != nil {
		return sess.Close()
	}
	return nil
}
