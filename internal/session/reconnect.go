package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lanemc/real-time-collaboration-sdk/internal/wire"
)

// reconnectLoop retries Connect with exponential backoff capped at
// cfg.Reconnection.DelayMax. On a successful reconnect it rejoins every
// document that was open before the drop; the server's snapshot
// replaces local state and any still-pending local operations are
// dropped, an at-most-once loss boundary for operations in flight
// during a disconnect.
func (s *Session) reconnectLoop() {
	cfg := s.cfg.Reconnection

	s.mu.Lock()
	docIDs := make([]string, 0, len(s.docs))
	kinds := make(map[string]wire.Kind, len(s.docs))
	for id, doc := range s.docs {
		docIDs = append(docIDs, id)
		kinds[id] = doc.kind
		doc.unsubscribe()
	}
	s.docs = make(map[string]*openDocument)
	s.mu.Unlock()

	for attempt := 0; cfg.Attempts <= 0 || attempt < cfg.Attempts; attempt++ {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}

		delay := backoffDelay(cfg.Delay, cfg.DelayMax, attempt)
		time.Sleep(delay)

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		s.reconnects = attempt + 1
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ConnectionTimeout)
		err := s.Connect(ctx)
		cancel()
		if err != nil {
			s.log.Warn("reconnect attempt failed", zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}

		for _, id := range docIDs {
			if _, err := s.OpenDocument(context.Background(), id, kinds[id]); err != nil {
				s.log.Warn("rejoin document failed after reconnect",
					zap.String("document", id), zap.Error(err))
			}
		}
		return
	}

	s.log.Error("reconnection attempts exhausted, giving up")
	s.setState(StateDisconnected)
}

// backoffDelay returns min(base*2^attempt, max).
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
