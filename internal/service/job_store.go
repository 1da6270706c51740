package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/gema-grader/internal/dto"
)

// ErrJobNotFound indicates the job id is unknown or its status has expired.
var ErrJobNotFound = errors.New("grading job not found")

// DefaultJobTTL is how long job statuses are retained.
const DefaultJobTTL = time.Hour

const jobKeyPrefix = "grading:job:"

// JobStore keeps the polled status of grading jobs.
type JobStore interface {
	Save(ctx context.Context, status dto.JobStatus) error
	Get(ctx context.Context, jobID string) (dto.JobStatus, error)
	Delete(ctx context.Context, jobID string) error
}

type memoryEntry struct {
	status    dto.JobStatus
	expiresAt time.Time
}

// MemoryJobStore keeps job statuses in process memory.
type MemoryJobStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryJobStore constructs an in-memory store.
func NewMemoryJobStore(ttl time.Duration) *MemoryJobStore {
	if ttl <= 0 {
		ttl = DefaultJobTTL
	}
	return &MemoryJobStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *MemoryJobStore) Save(_ context.Context, status dto.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, id)
		}
	}
	s.entries[status.JobID] = memoryEntry{status: status, expiresAt: now.Add(s.ttl)}
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, jobID string) (dto.JobStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[jobID]
	if !ok || s.now().After(entry.expiresAt) {
		return dto.JobStatus{}, ErrJobNotFound
	}
	return entry.status, nil
}

func (s *MemoryJobStore) Delete(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, jobID)
	return nil
}

// RedisJobStore stores job statuses as JSON values with a TTL so every API node can answer polls.
type RedisJobStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisJobStore constructs a Redis-backed store.
func NewRedisJobStore(client *redis.Client, ttl time.Duration) *RedisJobStore {
	if ttl <= 0 {
		ttl = DefaultJobTTL
	}
	return &RedisJobStore{client: client, ttl: ttl}
}

func (s *RedisJobStore) Save(ctx context.Context, status dto.JobStatus) error {
	payload, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("encode job status: %w", err)
	}
	return s.client.Set(ctx, jobKeyPrefix+status.JobID, payload, s.ttl).Err()
}

func (s *RedisJobStore) Get(ctx context.Context, jobID string) (dto.JobStatus, error) {
	raw, err := s.client.Get(ctx, jobKeyPrefix+jobID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return dto.JobStatus{}, ErrJobNotFound
		}
		return dto.JobStatus{}, err
	}

	var status dto.JobStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return dto.JobStatus{}, fmt.Errorf("decode job status: %w", err)
	}
	return status, nil
}

func (s *RedisJobStore) Delete(ctx context.Context, jobID string) error {
	return s.client.Del(ctx, jobKeyPrefix+jobID).Err()
}
