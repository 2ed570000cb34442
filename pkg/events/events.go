// Package events carries settlement observability events from the engine
// and the fee desk to log, websocket and kafka sinks.
package events

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/oklog/ulid/v2"
)

type Kind string

const (
	KindOrderRequested      Kind = "order_requested"
	KindRandomnessRequested Kind = "randomness_requested"
	KindBatchPrepared       Kind = "batch_prepared"
	KindPremiumPaid         Kind = "premium_paid"
	KindOrderFulfilled      Kind = "order_fulfilled"
	KindBatchSettled        Kind = "batch_settled"
	KindBatchAborted        Kind = "batch_aborted"
	KindOrderCancelled      Kind = "order_cancelled"
	KindOrderValidated      Kind = "order_validated"
	KindCounterIncremented  Kind = "counter_incremented"
	KindEscrowReclaimed     Kind = "escrow_reclaimed"
	KindMemberChanged       Kind = "member_changed"
	KindFeeParameterChanged Kind = "fee_parameter_changed"
	KindEscrowFeeChanged    Kind = "escrow_fee_changed"
)

// Websocket channels events are published on.
const (
	ChannelOrders  = "orders"
	ChannelBatches = "batches"
	ChannelFees    = "fees"
)

// Channel groups kinds for subscribers.
func (k Kind) Channel() string {
	switch k {
	case KindRandomnessRequested, KindBatchPrepared, KindPremiumPaid, KindBatchSettled, KindBatchAborted:
		return ChannelBatches
	case KindFeeParameterChanged, KindEscrowFeeChanged, KindOrderRequested:
		return ChannelFees
	default:
		return ChannelOrders
	}
}

type Event struct {
	ID   string    `json:"id"`
	Kind Kind      `json:"kind"`
	Time time.Time `json:"time"`
	Data any       `json:"data"`
}

// New stamps data with a sortable id and the current time.
func New(kind Kind, data any) Event {
	return Event{ID: ulid.Make().String(), Kind: kind, Time: time.Now().UTC(), Data: data}
}

type Emitter interface {
	Emit(ev Event)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Emit(Event) {}

// Recorder keeps events in memory; tests use it to assert on emissions.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns the recorded events, optionally filtered by kind.
func (r *Recorder) Events(kinds ...Kind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(kinds) == 0 {
		return append([]Event(nil), r.events...)
	}
	var out []Event
	for _, ev := range r.events {
		for _, k := range kinds {
			if ev.Kind == k {
				out = append(out, ev)
				break
			}
		}
	}
	return out
}

// Bus fans events out to every attached sink in attach order.
type Bus struct {
	mu    sync.RWMutex
	sinks []Emitter
}

func NewBus(sinks ...Emitter) *Bus {
	return &Bus{sinks: sinks}
}

func (b *Bus) Attach(s Emitter) {
	b.mu.Lock()
	b.sinks = append(b.sinks, s)
	b.mu.Unlock()
}

func (b *Bus) Emit(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.sinks {
		s.Emit(ev)
	}
}

// Payloads.

type OrderRequested struct {
	Requester common.Address `json:"requester"`
	Orders    []common.Hash  `json:"orders"`
	Fee       string         `json:"fee"`
}

type RandomnessRequested struct {
	Token    common.Hash `json:"token"`
	NumWords uint32      `json:"num_words"`
}

type BatchPrepared struct {
	Token    common.Hash   `json:"token"`
	Orders   []common.Hash `json:"orders"`
	Premiums []common.Hash `json:"premiums,omitempty"`
}

type PremiumPaid struct {
	Token     common.Hash    `json:"token"`
	OrderHash common.Hash    `json:"order_hash"`
	Recipient common.Address `json:"recipient"`
}

type OrderFulfilled struct {
	Token     common.Hash    `json:"token"`
	OrderHash common.Hash    `json:"order_hash"`
	Offerer   common.Address `json:"offerer"`
	Fill      string         `json:"fill"`
}

// BatchSettled reports whether the batch as a whole filled anything.
type BatchSettled struct {
	Token   common.Hash `json:"token"`
	Success bool        `json:"success"`
}

type BatchAborted struct {
	Token common.Hash `json:"token"`
}

type OrderCancelled struct {
	OrderHash common.Hash    `json:"order_hash"`
	Offerer   common.Address `json:"offerer"`
}

type OrderValidated struct {
	OrderHash common.Hash    `json:"order_hash"`
	Offerer   common.Address `json:"offerer"`
}

type CounterIncremented struct {
	Offerer common.Address `json:"offerer"`
	Counter string         `json:"counter"`
}

type EscrowReclaimed struct {
	OrderHash common.Hash    `json:"order_hash"`
	Offerer   common.Address `json:"offerer"`
}

type MemberChanged struct {
	Member common.Address `json:"member"`
	Added  bool           `json:"added"`
}

type FeeParameterChanged struct {
	MaxOrdersPerRequest int `json:"max_orders_per_request"`
}

type EscrowFeeChanged struct {
	Old string `json:"old"`
	New string `json:"new"`
}
