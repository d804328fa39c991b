package coordinator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lanemc/real-time-collaboration-sdk/internal/authority"
	"github.com/lanemc/real-time-collaboration-sdk/internal/telemetry"
	"github.com/lanemc/real-time-collaboration-sdk/internal/wire"
)

// getOrCreateAuthority returns the resident authority for id, loading its
// last-persisted state (or a schema-derived zero value for a brand new
// document) and starting its actor loop if it is not already resident.
func (c *Coordinator) getOrCreateAuthority(id string, kind wire.Kind) (*authority.Authority, error) {
	c.mu.Lock()
	if a, ok := c.authorities[id]; ok {
		c.mu.Unlock()
		return a, nil
	}
	c.mu.Unlock()

	initialValue := zeroValue(kind)
	var initialVersion int64

	if c.cfg.Store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		state, err := c.cfg.Store.LoadDocument(ctx, id)
		cancel()
		if err != nil {
			return nil, err
		}
		if state != nil {
			initialValue = state.Value
			initialVersion = state.Version
			if state.Kind != "" {
				kind = wire.Kind(state.Kind)
			}
		}
	}

	c.mu.Lock()
	if a, ok := c.authorities[id]; ok {
		c.mu.Unlock()
		return a, nil
	}
	a := authority.New(id, kind, initialValue, initialVersion, c.cfg.Store)
	c.authorities[id] = a
	c.mu.Unlock()

	go a.Run()
	telemetry.Get().ActiveDocuments.Set(float64(c.ActiveDocumentCount()))
	return a, nil
}

func zeroValue(kind wire.Kind) interface{} {
	switch kind {
	case wire.KindList:
		return []interface{}{}
	case wire.KindMap:
		return map[string]interface{}{}
	default:
		return ""
	}
}

// sweepLoop periodically disconnects idle clients and evicts document
// authorities with no attached clients: a resident authority is safe to
// drop once its client set is empty, since every apply already persists.
func (c *Coordinator) sweepLoop() {
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweepIdleClients()
			c.sweepEmptyDocuments()
		case <-c.stop:
			return
		}
	}
}

func (c *Coordinator) sweepIdleClients() {
	c.mu.RLock()
	idle := make([]*clientConn, 0)
	for _, cl := range c.clients {
		if cl.idleSince() > c.cfg.IdleTimeout {
			idle = append(idle, cl)
		}
	}
	c.mu.RUnlock()

	for _, cl := range idle {
		c.log.Info("closing idle client", zap.String("clientId", cl.ClientID()))
		c.disconnect(cl)
		cl.close(1000, "idle timeout")
	}
}

func (c *Coordinator) sweepEmptyDocuments() {
	c.mu.Lock()
	evicted := make([]*authority.Authority, 0)
	for id, a := range c.authorities {
		if a.ClientCount() == 0 {
			evicted = append(evicted, a)
			delete(c.authorities, id)
		}
	}
	c.mu.Unlock()

	for _, a := range evicted {
		a.Stop()
		c.log.Info("evicted idle document", zap.String("documentId", a.ID()))
	}
	if len(evicted) > 0 {
		telemetry.Get().ActiveDocuments.Set(float64(c.ActiveDocumentCount()))
	}
}
