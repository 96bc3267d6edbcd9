package mem

import (
	"context"
	"sync"
	"time"
)

type ResetTokenStore interface {
	Set(ctx context.Context, token, accountID string, ttl time.Duration) error

	// Consume returns the account id for token if not expired and removes
	// the token (single-use). Returns "" if missing or expired.
	Consume(ctx context.Context, token string) (string, error)
}

type resetEntry struct {
	accountID string
	expiresAt time.Time
}

// ResetTokens is the in-process ResetTokenStore used when no Redis is configured.
type ResetTokens struct {
	mu   sync.Mutex
	data map[string]resetEntry
	now  func() time.Time
}

func NewResetTokens() *ResetTokens {
	return &ResetTokens{
		data: make(map[string]resetEntry),
		now:  time.Now,
	}
}

func (s *ResetTokens) Set(_ context.Context, token, accountID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[token] = resetEntry{
		accountID: accountID,
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

func (s *ResetTokens) Consume(_ context.Context, token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data[token]
	if !ok {
		return "", nil
	}
	delete(s.data, token)
	if !s.now().Before(e.expiresAt) {
		return "", nil
	}
	return e.accountID, nil
}
