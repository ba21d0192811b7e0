package ratelimiter

import (
	"time"

	"github.com/hilthontt/pokersync/internal/infrastructure/cache"
)

const (
	inMemoryCleanupInterval = time.Minute
	inMemoryMaxKeys         = 100_000
)

// InMemory keeps bucket state in a process-local cache. It is the backend
// for single instance deployments and tests.
type InMemory struct {
	store *cache.Cache[int]
}

func NewInMemory() GetterSetter {
	return &InMemory{
		store: cache.New(cache.Options[int]{
			CleanupInterval: inMemoryCleanupInterval,
			MaxItems:        inMemoryMaxKeys,
			EvictionPolicy:  cache.LRU,
		}),
	}
}

func (i *InMemory) Get(key string) (int, error) {
	v, ok := i.store.Get(key)
	if !ok {
		return 0, ErrCacheMiss
	}
	return v, nil
}

func (i *InMemory) Set(key string, value int) error {
	return i.SetWithExpiration(key, value, 0)
}

func (i *InMemory) SetWithExpiration(key string, value int, expiration time.Duration) error {
	i.store.Set(key, value, expiration)
	return nil
}

func (i *InMemory) Close() error {
	i.store.Close()
	return nil
}
