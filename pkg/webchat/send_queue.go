package webchat

import (
	"time"
)

// DefaultQueueSize bounds user messages waiting behind the turn in progress.
const DefaultQueueSize = 16

type queuedTurn struct {
	Text       string
	EnqueuedAt time.Time
}

func (s *Session) enqueueLocked(q queuedTurn) int {
	if len(s.queue) >= s.queueSize {
		return -1
	}
	s.queue = append(s.queue, q)
	return len(s.queue)
}

func (s *Session) dequeueLocked() (queuedTurn, bool) {
	if len(s.queue) == 0 {
		return queuedTurn{}, false
	}
	q := s.queue[0]
	s.queue[0] = queuedTurn{}
	s.queue = s.queue[1:]
	return q, true
}
