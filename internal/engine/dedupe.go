package engine

import (
	"crypto/sha256"
	"encoding/binary"
	"sync"
	"time"

	"alertdetail/internal/model"
)

const maxDedupeEntries = 10000

// notificationKey identifies one firing: rule, device, fire time and the
// snapshot it carried.
type notificationKey [sha256.Size]byte

func keyOf(n model.Notification) notificationKey {
	h := sha256.New()
	var ids [24]byte
	binary.BigEndian.PutUint64(ids[0:], uint64(n.RuleID))
	binary.BigEndian.PutUint64(ids[8:], uint64(n.DeviceID))
	binary.BigEndian.PutUint64(ids[16:], uint64(n.TimeLogged.UnixNano()))
	h.Write(ids[:])
	h.Write(n.Details)
	var k notificationKey
	copy(k[:], h.Sum(nil))
	return k
}

// DedupeCache drops notifications redelivered within a window, as happens
// when a Kafka consumer rebalances or a REST client retries.
type DedupeCache struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[notificationKey]time.Time
}

// NewDedupeCache returns a cache for window. A window <= 0 disables it.
func NewDedupeCache(window time.Duration) *DedupeCache {
	return &DedupeCache{window: window, seen: make(map[notificationKey]time.Time)}
}

// Repeat reports whether n was already received within the window of now,
// and records it when it was not.
func (d *DedupeCache) Repeat(n model.Notification, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.window <= 0 {
		return false
	}
	key := keyOf(n)
	if at, ok := d.seen[key]; ok && now.Sub(at) <= d.window {
		return true
	}
	d.seen[key] = now
	if len(d.seen) > maxDedupeEntries {
		d.expire(now)
	}
	return false
}

// SetWindow applies a reloaded window to the entries already held.
func (d *DedupeCache) SetWindow(window time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.window = window
}

func (d *DedupeCache) Window() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.window
}

func (d *DedupeCache) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

func (d *DedupeCache) expire(now time.Time) {
	for k, at := range d.seen {
		if now.Sub(at) > d.window {
			delete(d.seen, k)
		}
	}
}
