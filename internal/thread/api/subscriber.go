package api

import (
	"errors"
	"sync"

	"github.com/gin-gonic/gin"
)

var errSubscriberClosed = errors.New("subscriber closed")

// sseSubscriber adapts one gin response writer to the broadcaster's
// subscriber contract. Writes after Close fail, which lets broadcast
// workers detach from a finished request before touching its writer.
type sseSubscriber struct {
	mu     sync.Mutex
	writer gin.ResponseWriter
	closed bool

	done     chan struct{}
	doneOnce sync.Once
}

func newSSESubscriber(w gin.ResponseWriter) *sseSubscriber {
	return &sseSubscriber{
		writer: w,
		done:   make(chan struct{}),
	}
}

func (s *sseSubscriber) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errSubscriberClosed
	}
	return s.writer.Write(p)
}

func (s *sseSubscriber) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.writer.Flush()
}

// Close ends the subscriber; the event-stream handler unblocks on Done.
func (s *sseSubscriber) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.doneOnce.Do(func() { close(s.done) })
	return nil
}

// Done is closed when the subscriber is ended from the broadcaster side.
func (s *sseSubscriber) Done() <-chan struct{} {
	return s.done
}
