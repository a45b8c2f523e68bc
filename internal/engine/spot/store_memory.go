package spot

import (
	"context"
	"sync"

	"spot_trader/internal/core"
)

// MemoryStore implements core.ITradeStore in memory
type MemoryStore struct {
	trades []core.TradeRecord
	nextID int64
	err    error
	mu     sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1}
}

// SetError makes subsequent appends fail with err; nil restores normal behaviour.
func (s *MemoryStore) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *MemoryStore) AppendTrade(ctx context.Context, rec core.TradeRecord) (core.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return rec, s.err
	}
	rec.ID = s.nextID
	s.nextID++
	s.trades = append(s.trades, rec)
	return rec, nil
}

func (s *MemoryStore) ListTrades(ctx context.Context, limit int) ([]core.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.trades
	if limit > 0 && len(src) > limit {
		src = src[len(src)-limit:]
	}
	out := make([]core.TradeRecord, len(src))
	copy(out, src)
	return out, nil
}

func (s *MemoryStore) LastTrade(ctx context.Context) (*core.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.trades) == 0 {
		return nil, nil
	}
	last := s.trades[len(s.trades)-1]
	return &last, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
