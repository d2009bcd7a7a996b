package engine

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Status phrases published on a StatusStream. Raw errors never reach it.
const (
	PhraseConstructing = "Constructing transaction..."
	PhraseAwaitingSign = "Awaiting signature..."
	PhraseSubmitting   = "Submitting transaction..."
	PhraseSent         = "Transaction sent"
	PhraseVerifying    = "Verifying transaction..."
	PhraseConfirmed    = "Transaction confirmed"
	PhraseFailed       = "Transaction failed"
	PhrasePending      = "Transaction sent, confirmation pending"
	PhraseDeclined     = "Signature request declined"
)

// DefaultStreamBuffer is the per-subscriber channel capacity beyond the replayed history.
const DefaultStreamBuffer = 16

// StatusStream fans the status phrases of one dispatch out to any number of
// subscribers. Late subscribers get the history replayed first. Publishing
// never blocks: a full subscriber misses the phrase.
type StatusStream struct {
	mu      sync.Mutex
	history []string
	subs    map[uuid.UUID]chan string
	closed  bool
	buffer  int
	logger  *zap.Logger
}

func NewStatusStream(buffer int, logger *zap.Logger) *StatusStream {
	if buffer <= 0 {
		buffer = DefaultStreamBuffer
	}
	return &StatusStream{
		subs:   make(map[uuid.UUID]chan string),
		buffer: buffer,
		logger: logger.Named("status"),
	}
}

// Publish appends phrase to the history and delivers it to every subscriber.
// It is a no-op once the stream is closed.
func (s *StatusStream) Publish(phrase string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.logger.Debug("Status after close dropped", zap.String("phrase", phrase))
		return
	}
	s.history = append(s.history, phrase)

	for id, ch := range s.subs {
		select {
		case ch <- phrase:
		default:
			s.logger.Warn("Status subscriber is full, phrase dropped",
				zap.String("subscriber", id.String()),
				zap.String("phrase", phrase))
		}
	}
}

// Subscribe returns a channel that first yields the history and then every
// new phrase. The channel is closed when the stream closes or cancel is called.
func (s *StatusStream) Subscribe() (<-chan string, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan string, len(s.history)+s.buffer)
	for _, phrase := range s.history {
		ch <- phrase
	}
	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := uuid.New()
	s.subs[id] = ch
	return ch, func() { s.unsubscribe(id) }
}

func (s *StatusStream) unsubscribe(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
}

// Close ends the stream. Further calls do nothing.
func (s *StatusStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
}

// History returns a copy of every phrase published so far.
func (s *StatusStream) History() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.history...)
}

// Closed reports whether Close was called.
func (s *StatusStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Last returns the most recent phrase.
func (s *StatusStream) Last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) == 0 {
		return ""
	}
	return s.history[len(s.history)-1]
}
