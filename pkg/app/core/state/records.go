package state

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/luckyswap/pkg/app/core/order"
)

// Holding is the amount of one order item sitting in custody.
type Holding struct {
	Item   int         `json:"item"`
	Asset  order.Asset `json:"asset"`
	Amount *big.Int    `json:"amount"`
}

// BatchState tracks a randomness token through prepare and match.
type BatchState uint8

const (
	BatchRequested BatchState = iota + 1
	BatchEscrowed
	BatchSettled
	BatchAborted
)

var batchStateNames = map[BatchState]string{
	BatchRequested: "requested",
	BatchEscrowed:  "escrowed",
	BatchSettled:   "settled",
	BatchAborted:   "aborted",
}

func (s BatchState) String() string {
	if n, ok := batchStateNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s BatchState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *BatchState) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	for k, v := range batchStateNames {
		if v == name {
			*s = k
			return nil
		}
	}
	return fmt.Errorf("unknown batch state %q", name)
}

// Batch links a randomness token to the orders escrowed for it.
type Batch struct {
	Token     common.Hash    `json:"token"`
	State     BatchState     `json:"state"`
	NumWords  uint32         `json:"num_words"`
	Requester common.Address `json:"requester"`
	Orders    []common.Hash  `json:"orders,omitempty"`
	// Filled is set once the batch settles: whether any order filled.
	Filled    bool  `json:"filled"`
	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// Contains reports whether h was escrowed in this batch.
func (b *Batch) Contains(h common.Hash) bool {
	for _, o := range b.Orders {
		if o == h {
			return true
		}
	}
	return false
}
