package repository

import (
	"context"
	"game-rewards/internal/model"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of all repository interfaces.
// It satisfies the same narrow atomic contract as the MongoDB repositories
// and backs the package tests and local development mode.
type MemoryStore struct {
	mu       sync.Mutex
	configs  map[string]*model.ShopConfig
	shops    map[string]*model.ShopRecord
	sessions map[string]*model.PlaySession
	codes    map[string]*model.DiscountCode // keyed shop|code
	bySess   map[string]string              // session id -> shop|code key
	counters map[string]int                 // keyed shop|customer|period
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		configs:  make(map[string]*model.ShopConfig),
		shops:    make(map[string]*model.ShopRecord),
		sessions: make(map[string]*model.PlaySession),
		codes:    make(map[string]*model.DiscountCode),
		bySess:   make(map[string]string),
		counters: make(map[string]int),
	}
}

func codeKey(shopDomain, code string) string {
	return shopDomain + "|" + code
}

func counterKey(shopDomain, customerKey, periodKey string) string {
	return shopDomain + "|" + customerKey + "|" + periodKey
}

// PutShopConfig seeds a shop configuration (test/dev helper).
func (s *MemoryStore) PutShopConfig(cfg *model.ShopConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *cfg
	s.configs[cfg.ShopDomain] = &c
}

// PutShopRecord seeds a shop install record (test/dev helper).
func (s *MemoryStore) PutShopRecord(record *model.ShopRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := *record
	s.shops[record.ShopDomain] = &r
}

func (s *MemoryStore) GetShopConfig(ctx context.Context, shopDomain string) (*model.ShopConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[shopDomain]
	if !ok {
		return nil, ErrShopNotFound
	}
	c := *cfg
	return &c, nil
}

func (s *MemoryStore) GetShopRecord(ctx context.Context, shopDomain string) (*model.ShopRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.shops[shopDomain]
	if !ok {
		return nil, ErrShopNotFound
	}
	r := *record
	return &r, nil
}

func (s *MemoryStore) Create(ctx context.Context, session *model.PlaySession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *session
	s.sessions[session.SessionID] = &copied
	return nil
}

func (s *MemoryStore) GetBySessionID(ctx context.Context, sessionID string) (*model.PlaySession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	copied := *session
	return &copied, nil
}

func (s *MemoryStore) Complete(ctx context.Context, sessionID string, fromStates []model.SessionState, finalScore int, completedAt time.Time) (*model.PlaySession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrNoTransition
	}
	allowed := false
	for _, state := range fromStates {
		if session.State == state {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, ErrNoTransition
	}
	session.State = model.StateCompleted
	score := finalScore
	session.FinalScore = &score
	at := completedAt
	session.CompletedAt = &at
	copied := *session
	return &copied, nil
}

func (s *MemoryStore) RecordOutcome(ctx context.Context, sessionID string, outcome *model.DiscountOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	session.DiscountPercent = outcome.DiscountEarned
	session.RewardPending = outcome.RewardPending
	session.OutcomeRecorded = true
	if outcome.DiscountCode != "" {
		session.DiscountCode = outcome.DiscountCode
	}
	if outcome.ExpiresAt != nil {
		at := *outcome.ExpiresAt
		session.CodeExpiresAt = &at
	}
	return nil
}

func (s *MemoryStore) MarkAbandoned(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions[sessionID]; ok && session.State == model.StateExpired {
		session.State = model.StateAbandoned
	}
	return nil
}

func (s *MemoryStore) ExpireStale(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, session := range s.sessions {
		if session.State == model.StatePending && session.CreatedAt.Before(before) {
			session.State = model.StateExpired
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Increment(ctx context.Context, shopDomain, customerKey, periodKey string, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		return 0, ErrLimitExceeded
	}
	key := counterKey(shopDomain, customerKey, periodKey)
	if s.counters[key] >= limit {
		return 0, ErrLimitExceeded
	}
	s.counters[key]++
	return s.counters[key], nil
}

func (s *MemoryStore) Decrement(ctx context.Context, shopDomain, customerKey, periodKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := counterKey(shopDomain, customerKey, periodKey)
	if s.counters[key] > 0 {
		s.counters[key]--
	}
	return nil
}

func (s *MemoryStore) Count(ctx context.Context, shopDomain, customerKey, periodKey string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[counterKey(shopDomain, customerKey, periodKey)], nil
}

func (s *MemoryStore) InsertPending(ctx context.Context, code *model.DiscountCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := codeKey(code.ShopDomain, code.Code)
	if _, exists := s.codes[key]; exists {
		return ErrDuplicateCode
	}
	copied := *code
	s.codes[key] = &copied
	s.bySess[code.SessionID] = key
	return nil
}

func (s *MemoryStore) Activate(ctx context.Context, shopDomain, code, priceRuleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dc, ok := s.codes[codeKey(shopDomain, code)]
	if !ok || dc.Status != model.CodePending {
		return ErrCodeNotFound
	}
	dc.Status = model.CodeActive
	dc.PriceRuleID = priceRuleID
	return nil
}

func (s *MemoryStore) DeletePending(ctx context.Context, shopDomain, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := codeKey(shopDomain, code)
	dc, ok := s.codes[key]
	if ok && dc.Status == model.CodePending {
		delete(s.codes, key)
		delete(s.bySess, dc.SessionID)
	}
	return nil
}

func (s *MemoryStore) GetByCode(ctx context.Context, shopDomain, code string) (*model.DiscountCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dc, ok := s.codes[codeKey(shopDomain, code)]
	if !ok {
		return nil, ErrCodeNotFound
	}
	copied := *dc
	return &copied, nil
}

func (s *MemoryStore) GetSessionCode(ctx context.Context, sessionID string) (*model.DiscountCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.bySess[sessionID]
	if !ok {
		return nil, ErrCodeNotFound
	}
	copied := *s.codes[key]
	return &copied, nil
}

func (s *MemoryStore) MarkUsed(ctx context.Context, shopDomain, code string, usedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dc, ok := s.codes[codeKey(shopDomain, code)]
	if !ok {
		return ErrCodeNotUsable
	}
	if dc.Status != model.CodeActive || dc.IsUsed || !usedAt.Before(dc.ExpiresAt) {
		return ErrCodeNotUsable
	}
	dc.IsUsed = true
	at := usedAt
	dc.UsedAt = &at
	return nil
}
