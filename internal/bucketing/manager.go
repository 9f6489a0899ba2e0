package bucketing

import (
	"fmt"
	"hash"
	"sync"

	"github.com/spaolacci/murmur3"

	"eventgate/internal/config"
)

// Manager assigns identities and origins to stable murmur3 buckets. The
// bucket tag is mixed into rate-limit and suspension keys so operators can
// scan or flush one slice of the keyspace without touching the rest.
type Manager struct {
	identityBuckets int
	hasherPool      sync.Pool
}

func NewManager(cfg *config.Config) *Manager {
	buckets := cfg.Bucketing.IdentityBuckets
	if buckets <= 0 {
		buckets = 64
	}
	m := &Manager{
		identityBuckets: buckets,
	}

	// Pool of hash functions to avoid allocation overhead on the hot path
	m.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return m
}

// IdentityBucket returns the consistent bucket for an identity
// (0 to identityBuckets-1).
func (m *Manager) IdentityBucket(identity string) int {
	return int(m.getHash(identity) % uint64(m.identityBuckets))
}

// BucketTag renders the identity bucket as a fixed-width key segment.
func (m *Manager) BucketTag(identity string) string {
	return fmt.Sprintf("b%03d", m.IdentityBucket(identity))
}

func (m *Manager) IdentityBuckets() int {
	return m.identityBuckets
}

func (m *Manager) getHash(key string) uint64 {
	hasher := m.hasherPool.Get().(hash.Hash64)
	defer m.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}
