// Package record stores what was last published for a migration branch.
package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/drewdunne/bicepmigrate/internal/migration"
)

// Store persists migration records. Get returns nil, nil for an unknown key.
type Store interface {
	Get(ctx context.Context, key string) (*migration.Record, error)
	Put(ctx context.Context, key string, rec *migration.Record) error
}

// Key identifies the record of one branch in one repository.
func Key(providerName, repository, branch string) string {
	return providerName + ":" + repository + ":" + branch
}

// Memory is a process-local Store.
type Memory struct {
	mu      sync.Mutex
	records map[string]migration.Record
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]migration.Record)}
}

// Get returns a copy of the record for key.
func (m *Memory) Get(_ context.Context, key string) (*migration.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if !ok {
		return nil, nil
	}
	return clone(rec), nil
}

// Put stores a copy of rec.
func (m *Memory) Put(_ context.Context, key string, rec *migration.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[key] = *clone(*rec)
	return nil
}

func clone(rec migration.Record) *migration.Record {
	files := make(map[string]string, len(rec.Files))
	for k, v := range rec.Files {
		files[k] = v
	}
	rec.Files = files
	return &rec
}

const keyPrefix = "bicepmigrate:record:"

// Redis stores records as JSON strings.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates a store on client. A zero ttl keeps records forever.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

// Get loads the record for key.
func (r *Redis) Get(ctx context.Context, key string) (*migration.Record, error) {
	data, err := r.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading record: %w", err)
	}

	var rec migration.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding record: %w", err)
	}
	return &rec, nil
}

// Put saves rec under key.
func (r *Redis) Put(ctx context.Context, key string, rec *migration.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	if err := r.client.Set(ctx, keyPrefix+key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("saving record: %w", err)
	}
	return nil
}
