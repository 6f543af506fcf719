package cache

import (
	"context"
	"sync"
	"time"

	"noorsales/backend/internal/domain"
)

// SessionCache holds the user behind each live session token. Entries expire
// after their TTL or when deleted at logout.
type SessionCache interface {
	Get(ctx context.Context, sessionID string) (*domain.User, bool, error)
	Set(ctx context.Context, sessionID string, user domain.User, ttl time.Duration) error
	Delete(ctx context.Context, sessionID string) error
}

type memoryEntry struct {
	user      domain.User
	expiresAt time.Time
}

// MemorySessionCache keeps sessions in process memory.
type MemorySessionCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemorySessionCache() *MemorySessionCache {
	return &MemorySessionCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemorySessionCache) Get(_ context.Context, sessionID string) (*domain.User, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[sessionID]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.entries, sessionID)
		return nil, false, nil
	}
	user := entry.user
	return &user, true, nil
}

func (c *MemorySessionCache) Set(_ context.Context, sessionID string, user domain.User, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for id, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, id)
		}
	}

	user.Password = ""
	c.entries[sessionID] = memoryEntry{user: user, expiresAt: now.Add(ttl)}
	return nil
}

func (c *MemorySessionCache) Delete(_ context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, sessionID)
	return nil
}
