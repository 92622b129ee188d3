// Package resilience provides the rate-limit backoff, API key rotation and
// circuit breaking used around every provider call.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrNoKeys is returned by a KeyPool that was built without keys.
var ErrNoKeys = errors.New("keypool: no keys configured")

// KeyPool manages a pool of API keys with round-robin rotation
// and per-key rate-limit cooldowns.
type KeyPool struct {
	mu      sync.Mutex
	keys    []keyEntry
	current int
	now     func() time.Time
}

type keyEntry struct {
	Key     string
	ResetAt time.Time // When the cooldown ends
	Cooling bool      // Rate limited until ResetAt
}

// NewKeyPool creates a key pool from a list of API keys. Empty keys are skipped.
func NewKeyPool(keys []string) *KeyPool {
	entries := make([]keyEntry, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		entries = append(entries, keyEntry{Key: k})
	}
	return &KeyPool{keys: entries, now: time.Now}
}

// Next returns the next key in round-robin order, skipping keys that are
// cooling down. When every key is cooling down it returns the one whose
// cooldown ends first; the caller's backoff already spaces the attempts.
func (kp *KeyPool) Next() (string, error) {
	kp.mu.Lock()
	defer kp.mu.Unlock()

	n := len(kp.keys)
	if n == 0 {
		return "", ErrNoKeys
	}

	now := kp.now()
	for i := 0; i < n; i++ {
		idx := (kp.current + i) % n
		entry := &kp.keys[idx]

		if entry.Cooling && !now.Before(entry.ResetAt) {
			entry.Cooling = false
		}
		if !entry.Cooling {
			kp.current = (idx + 1) % n
			return entry.Key, nil
		}
	}

	soonest := 0
	for i := 1; i < n; i++ {
		if kp.keys[i].ResetAt.Before(kp.keys[soonest].ResetAt) {
			soonest = i
		}
	}
	kp.current = (soonest + 1) % n
	return kp.keys[soonest].Key, nil
}

// MarkRateLimited puts key into cooldown until resetAt.
func (kp *KeyPool) MarkRateLimited(key string, resetAt time.Time) {
	kp.mu.Lock()
	defer kp.mu.Unlock()

	for i := range kp.keys {
		if kp.keys[i].Key == key {
			kp.keys[i].Cooling = true
			kp.keys[i].ResetAt = resetAt
			return
		}
	}
}

// Available returns how many keys are not cooling down.
func (kp *KeyPool) Available() int {
	kp.mu.Lock()
	defer kp.mu.Unlock()

	now := kp.now()
	n := 0
	for _, e := range kp.keys {
		if !e.Cooling || !now.Before(e.ResetAt) {
			n++
		}
	}
	return n
}

// Size returns the number of keys in the pool.
func (kp *KeyPool) Size() int {
	kp.mu.Lock()
	defer kp.mu.Unlock()
	return len(kp.keys)
}
