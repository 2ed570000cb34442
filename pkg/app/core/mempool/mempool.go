// Package mempool queues order hashes whose submitters paid the fee desk,
// waiting for the operator to pick them up into a batch.
package mempool

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/luckyswap/pkg/events"
)

type Entry struct {
	OrderHash   common.Hash    `json:"orderHash"`
	Requester   common.Address `json:"requester"`
	RequestedAt time.Time      `json:"requestedAt"`
}

// Mempool keeps paid requests in FIFO admission order. An order hash is
// queued at most once; paying again for a queued hash keeps its original
// position.
//
// It fills and drains itself from the event bus: order_requested admits,
// batch_prepared, order_fulfilled and order_cancelled remove.
type Mempool struct {
	mu      sync.Mutex
	queue   []Entry
	indexed map[common.Hash]struct{}
}

func NewMempool() *Mempool {
	return &Mempool{indexed: make(map[common.Hash]struct{})}
}

// Push admits hashes in order and returns how many were new.
func (m *Mempool) Push(requester common.Address, at time.Time, hashes ...common.Hash) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	added := 0
	for _, h := range hashes {
		if _, ok := m.indexed[h]; ok {
			continue
		}
		m.indexed[h] = struct{}{}
		m.queue = append(m.queue, Entry{OrderHash: h, Requester: requester, RequestedAt: at})
		added++
	}
	return added
}

// Remove drops hashes wherever they sit in the queue.
func (m *Mempool) Remove(hashes ...common.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	drop := make(map[common.Hash]struct{}, len(hashes))
	for _, h := range hashes {
		if _, ok := m.indexed[h]; ok {
			drop[h] = struct{}{}
			delete(m.indexed, h)
		}
	}
	if len(drop) == 0 {
		return
	}
	kept := m.queue[:0]
	for _, e := range m.queue {
		if _, ok := drop[e.OrderHash]; !ok {
			kept = append(kept, e)
		}
	}
	m.queue = kept
}

// Pending returns up to max entries from the head of the queue without
// removing them. max <= 0 returns everything.
func (m *Mempool) Pending(max int) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.queue)
	if max > 0 && max < n {
		n = max
	}
	return append([]Entry(nil), m.queue[:n]...)
}

func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Emit implements events.Emitter.
func (m *Mempool) Emit(ev events.Event) {
	switch data := ev.Data.(type) {
	case events.OrderRequested:
		m.Push(data.Requester, ev.Time, data.Orders...)
	case events.BatchPrepared:
		m.Remove(data.Orders...)
		m.Remove(data.Premiums...)
	case events.OrderFulfilled:
		m.Remove(data.OrderHash)
	case events.OrderCancelled:
		m.Remove(data.OrderHash)
	}
}
