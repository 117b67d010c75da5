package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"immo-alerts/internal/models"
)

// Cursor is the position of a user inside the criteria collection flow.
type Cursor struct {
	Step  int             `json:"step"`
	Draft models.Criteria `json:"draft"`
}

func newCursor(userID string) *Cursor {
	return &Cursor{Step: 1, Draft: models.Criteria{UserID: userID}}
}

// CursorStore keeps collection cursors keyed by user id. Get returns nil, nil
// when no cursor exists.
type CursorStore interface {
	Get(ctx context.Context, userID string) (*Cursor, error)
	Save(ctx context.Context, userID string, c *Cursor) error
	Delete(ctx context.Context, userID string) error
}

// MemoryCursorStore is process local; cursors are lost on restart.
type MemoryCursorStore struct {
	mu      sync.Mutex
	cursors map[string]*Cursor
}

func NewMemoryCursorStore() *MemoryCursorStore {
	return &MemoryCursorStore{cursors: make(map[string]*Cursor)}
}

func (s *MemoryCursorStore) Get(_ context.Context, userID string) (*Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cursors[userID]
	if !ok {
		return nil, nil
	}
	return cloneCursor(c), nil
}

func (s *MemoryCursorStore) Save(_ context.Context, userID string, c *Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[userID] = cloneCursor(c)
	return nil
}

func (s *MemoryCursorStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cursors, userID)
	return nil
}

func cloneCursor(c *Cursor) *Cursor {
	return &Cursor{Step: c.Step, Draft: *c.Draft.Clone()}
}

const cursorKeyPrefix = "alerts:cursor:"

// RedisCursorStore persists cursors as JSON with a TTL so an abandoned
// collection expires on its own.
type RedisCursorStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisCursorStore(client redis.UniversalClient, ttl time.Duration) *RedisCursorStore {
	return &RedisCursorStore{client: client, ttl: ttl}
}

func (s *RedisCursorStore) Get(ctx context.Context, userID string) (*Cursor, error) {
	raw, err := s.client.Get(ctx, cursorKeyPrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cursor: %w", err)
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		// A corrupt cursor restarts the flow.
		return nil, nil
	}
	return &c, nil
}

func (s *RedisCursorStore) Save(ctx context.Context, userID string, c *Cursor) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode cursor: %w", err)
	}
	if err := s.client.Set(ctx, cursorKeyPrefix+userID, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}

func (s *RedisCursorStore) Delete(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, cursorKeyPrefix+userID).Err(); err != nil {
		return fmt.Errorf("delete cursor: %w", err)
	}
	return nil
}
