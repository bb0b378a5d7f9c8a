// ABOUTME: TTL-bounded duplicate detection for webhook deliveries
// ABOUTME: Platforms redeliver on slow acks, so every delivery is fingerprinted before dispatch

package dedupe

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// Deduper remembers webhook delivery fingerprints for a bounded window.
// It is safe for concurrent use. Entries expire after the TTL and the
// oldest entry is evicted when the size cap is reached, so memory stays
// bounded no matter how chatty the platform is.
type Deduper struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   *list.List // fingerprints in insertion order, oldest at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	once    sync.Once
}

type entry struct {
	expiresAt time.Time
	element   *list.Element
}

// New returns a Deduper that forgets fingerprints after ttl and holds at
// most maxSize of them. A background sweeper drops expired entries so the
// map does not grow between deliveries.
func New(ttl time.Duration, maxSize int) *Deduper {
	d := &Deduper{
		entries: make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go d.sweep()
	return d
}

// Seen reports whether the fingerprint was already recorded inside the
// TTL window, recording it if not. The check and the mark are one
// critical section so two concurrent redeliveries cannot both pass.
func (d *Deduper) Seen(fingerprint string) bool {
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if e, ok := d.entries[fingerprint]; ok && now.Before(e.expiresAt) {
		e.expiresAt = now.Add(d.ttl)
		d.order.MoveToBack(e.element)
		return true
	}

	if len(d.entries) >= d.maxSize {
		if front := d.order.Front(); front != nil {
			d.order.Remove(front)
			delete(d.entries, front.Value.(string))
		}
	}

	d.entries[fingerprint] = &entry{
		expiresAt: now.Add(d.ttl),
		element:   d.order.PushBack(fingerprint),
	}
	return false
}

// Len returns the number of fingerprints currently held.
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// Close stops the background sweeper. Safe to call more than once.
func (d *Deduper) Close() {
	d.once.Do(func() { close(d.done) })
}

func (d *Deduper) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			d.mu.Lock()
			for fp, e := range d.entries {
				if now.After(e.expiresAt) {
					d.order.Remove(e.element)
					delete(d.entries, fp)
				}
			}
			d.mu.Unlock()
		case <-d.done:
			return
		}
	}
}

// Fingerprint derives a stable identifier for one webhook delivery. A
// message id wins when present: the platform reuses it across redeliveries
// of the same message event. No other id in the payload is unique per
// delivery. A top-level id names the conversation on assignment events, so
// keying on it would collapse distinct changes to one conversation into a
// single fingerprint. Everything without a message id hashes the raw body.
func Fingerprint(body []byte, payload map[string]any) string {
	if payload != nil {
		event, _ := payload["event"].(string)
		if m, ok := payload["message"].(map[string]any); ok {
			switch id := m["id"].(type) {
			case string:
				if id != "" {
					return event + ":id:" + id
				}
			case float64:
				return fmt.Sprintf("%s:id:%d", event, int64(id))
			}
		}
	}
	sum := sha256.Sum256(body)
	return "sha:" + hex.EncodeToString(sum[:])
}
