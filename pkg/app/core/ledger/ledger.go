// Package ledger is the asset-transfer collaborator. The settlement engine
// decides what moves and when; a Ledger performs the moves inside a
// transaction that either commits as a whole or rolls back as a whole.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/luckyswap/pkg/app/core/order"
)

var (
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrInsufficientApproval = errors.New("insufficient approval")
	ErrNotOwner             = errors.New("not token owner")
	ErrInvalidAmount        = errors.New("invalid transfer amount")
	ErrTxClosed             = errors.New("ledger transaction closed")
)

// Transfer is one asset movement. Kind is always a concrete (non-criteria) kind.
type Transfer struct {
	Kind       order.ItemType
	Token      common.Address
	Identifier *big.Int
	Amount     *big.Int
	From       common.Address
	To         common.Address
}

func (t Transfer) String() string {
	return fmt.Sprintf("%s %s#%s x%s %s->%s", t.Kind, t.Token.Hex(), idString(t.Identifier), t.Amount, t.From.Hex(), t.To.Hex())
}

// Ledger opens transactions. Only one transaction is open at a time; Begin
// blocks until the previous one is committed or rolled back.
type Ledger interface {
	Begin(ctx context.Context) (Tx, error)
}

type Tx interface {
	Transfer(t Transfer) error
	Commit() error
	Rollback() error
}

func idString(id *big.Int) string {
	if id == nil {
		return "0"
	}
	return id.String()
}
