package speech

import (
	"context"
	"io"
	"sync"
)

// FrameQueue bridges push-delivered audio chunks (one per socket frame) into
// the pull-based AudioSource a Transcriber consumes.
//
// Push never blocks and never drops data. Next blocks until a chunk is
// available or End has been called; after End the remaining chunks are
// drained in order and then Next returns io.EOF.
type FrameQueue struct {
	mu     sync.Mutex
	chunks [][]byte
	ended  bool
	// notify is closed and replaced whenever the queue changes, waking every
	// reader blocked in Next.
	notify chan struct{}
}

// NewFrameQueue returns an empty, open queue.
func NewFrameQueue() *FrameQueue {
	return &FrameQueue{notify: make(chan struct{})}
}

// Push enqueues a copy of b. Pushing after End is a no-op because the socket
// may deliver a late frame racing with the END sentinel or close.
func (q *FrameQueue) Push(b []byte) {
	if len(b) == 0 {
		return
	}
	chunk := make([]byte, len(b))
	copy(chunk, b)

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ended {
		return
	}
	q.chunks = append(q.chunks, chunk)
	q.wakeLocked()
}

// End marks the stream complete. It is safe to call more than once.
func (q *FrameQueue) End() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ended {
		return
	}
	q.ended = true
	q.wakeLocked()
}

// Ended reports whether End has been called.
func (q *FrameQueue) Ended() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ended
}

// Len returns the number of chunks waiting to be pulled.
func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.chunks)
}

// Next returns the oldest queued chunk. It returns io.EOF once the queue has
// ended and is empty, or ctx.Err() if ctx is done while waiting.
func (q *FrameQueue) Next(ctx context.Context) ([]byte, error) {
	for {
		q.mu.Lock()
		if len(q.chunks) > 0 {
			chunk := q.chunks[0]
			q.chunks[0] = nil
			q.chunks = q.chunks[1:]
			q.mu.Unlock()
			return chunk, nil
		}
		if q.ended {
			q.mu.Unlock()
			return nil, io.EOF
		}
		wait := q.notify
		q.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *FrameQueue) wakeLocked() {
	close(q.notify)
	q.notify = make(chan struct{})
}
