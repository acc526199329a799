package experiment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// AssignmentStore records which arm a conversation landed on. Record is
// write-once: the first writer wins and every caller gets the winning name
// back, so concurrent first turns of one conversation agree.
type AssignmentStore interface {
	// Get returns the recorded arm name, or "" when none exists.
	Get(ctx context.Context, experiment, conversationID string) (string, error)

	// Record stores the arm name if none is recorded yet and returns the
	// name that is now recorded.
	Record(ctx context.Context, experiment, conversationID, variant string) (string, error)
}

// MemoryAssignmentStore keeps assignments in process memory.
type MemoryAssignmentStore struct {
	mu          sync.RWMutex
	assignments map[string]string
}

// NewMemoryAssignmentStore creates an empty in-memory store.
func NewMemoryAssignmentStore() *MemoryAssignmentStore {
	return &MemoryAssignmentStore{assignments: make(map[string]string)}
}

func assignmentKey(experiment, conversationID string) string {
	return experiment + ":" + conversationID
}

func (s *MemoryAssignmentStore) Get(_ context.Context, experiment, conversationID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.assignments[assignmentKey(experiment, conversationID)], nil
}

func (s *MemoryAssignmentStore) Record(_ context.Context, experiment, conversationID, variant string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := assignmentKey(experiment, conversationID)
	if existing, ok := s.assignments[key]; ok {
		return existing, nil
	}
	s.assignments[key] = variant
	return variant, nil
}

// RedisAssignmentStore keeps assignments in Redis so stickiness survives
// restarts and is shared across replicas.
type RedisAssignmentStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisAssignmentStore creates a Redis-backed store. ttl of zero means
// assignments never expire.
func NewRedisAssignmentStore(client *redis.Client, ttl time.Duration) *RedisAssignmentStore {
	return &RedisAssignmentStore{
		client: client,
		prefix: "chatcore:assignment:",
		ttl:    ttl,
	}
}

func (s *RedisAssignmentStore) key(experiment, conversationID string) string {
	return s.prefix + experiment + ":" + conversationID
}

func (s *RedisAssignmentStore) Get(ctx context.Context, experiment, conversationID string) (string, error) {
	val, err := s.client.Get(ctx, s.key(experiment, conversationID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get assignment: %w", err)
	}
	return val, nil
}

func (s *RedisAssignmentStore) Record(ctx context.Context, experiment, conversationID, variant string) (string, error) {
	key := s.key(experiment, conversationID)
	set, err := s.client.SetNX(ctx, key, variant, s.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("failed to record assignment: %w", err)
	}
	if set {
		return variant, nil
	}
	// Lost the race; return the winner.
	return s.Get(ctx, experiment, conversationID)
}
