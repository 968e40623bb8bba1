package newsroom

import (
	"context"

	"docharvest/lib/ratelimit"
)

type memoryStore struct {
	docs map[string]bool
}

func (s *memoryStore) Exists(ctx context.Context, id string) (bool, error) {
	return s.docs[id], nil
}

func (s *memoryStore) RateLimit(ctx context.Context, credentialID, endpoint string) (ratelimit.Record, bool, error) {
	return ratelimit.Record{}, false, nil
}

func (s *memoryStore) RateLimitsByReset(ctx context.Context, endpoint string) ([]ratelimit.Record, error) {
	return nil, nil
}

func (s *memoryStore) PutRateLimit(ctx context.Context, record ratelimit.Record) error {
	return nil
}
