// locks.go: per-media-item writer serialization
package datastore

import (
	"hash/fnv"
	"sync"
)

// lockStripes is the number of mutexes in the striped lock set. Media ids
// hash onto stripes, so unrelated media items rarely contend while the same
// item always maps to the same mutex.
const lockStripes = 64

// keyLocks serializes mutating operations per media id. Writers on the same
// id take the same stripe; readers never touch these locks. The striped set
// bounds memory regardless of how many media ids exist.
type keyLocks struct {
	stripes [lockStripes]sync.Mutex
}

// Lock acquires the stripe for the given key and returns its unlock function.
// The lock must be released before any call that can block on an external
// collaborator.
func (kl *keyLocks) Lock(key string) func() {
	stripe := &kl.stripes[stripeIndex(key)]
	stripe.Lock()
	return stripe.Unlock
}

func stripeIndex(key string) uint32 {
	h := fnv.New32a()
	// fnv Write never fails
	_, _ = h.Write([]byte(key))
	return h.Sum32() % lockStripes
}
