package network

import (
	"context"
	"io"
)

// fakeStep scripts the behavior of one session opened by a fakeOpener.
type fakeStep struct {
	// openErr, when set, fails the open call itself.
	openErr error
	// limit is how many bytes of content this session delivers before ending.
	// A negative limit delivers everything up to the end of the content.
	limit int
	// failWith ends the session with this error once limit is reached.
	// When nil, the session reports a clean io.EOF instead.
	failWith error
}

// fakeOpener replays a scripted sequence of link sessions over a fixed byte
// content, recording the offset of every open call. Opens past the end of the
// script deliver the remaining content and end cleanly.
type fakeOpener struct {
	content []byte
	total   int64 // declared total size; -1 when unknown
	script  []fakeStep

	calls    int
	offsets  []int64
	sessions []*fakeSession
}

func (o *fakeOpener) open(_ context.Context, offset int64) (session, error) {
	o.offsets = append(o.offsets, offset)
	step := fakeStep{limit: -1}
	if o.calls < len(o.script) {
		step = o.script[o.calls]
	}
	o.calls++

	if step.openErr != nil {
		return nil, step.openErr
	}

	end := len(o.content)
	if step.limit >= 0 && int(offset)+step.limit < end {
		end = int(offset) + step.limit
	}

	sess := &fakeSession{
		data:     o.content[offset:end],
		failWith: step.failWith,
		total:    o.total,
	}
	o.sessions = append(o.sessions, sess)
	return sess, nil
}

func (o *fakeOpener) allSessionsClosed() bool {
	for _, sess := range o.sessions {
		if !sess.closed {
			return false
		}
	}
	return true
}

type fakeSession struct {
	data     []byte
	pos      int
	failWith error
	total    int64
	closed   bool
}

func (s *fakeSession) Read(p []byte) (int, error) {
	if s.pos >= len(s.data) {
		if s.failWith != nil {
			return 0, s.failWith
		}
		return 0, io.EOF
	}
	n := copy(p, s.data[s.pos:])
	s.pos += n
	return n, nil
}

func (s *fakeSession) TotalSize() int64 {
	return s.total
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

// blockingOpener blocks in open until the context is cancelled.
type blockingOpener struct {
	entered chan struct{}
}

func (o *blockingOpener) open(ctx context.Context, _ int64) (session, error) {
	close(o.entered)
	<-ctx.Done()
	return nil, ctx.Err()
}
