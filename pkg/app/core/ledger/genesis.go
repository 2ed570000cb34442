package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/uhyunpark/luckyswap/pkg/app/core/order"
)

// Genesis funds a fresh devnet ledger. Amounts accept decimal or 0x-hex.
//
//	{
//	  "mints":      [{"kind": 1, "token": "0x..", "to": "0x..", "amount": "1000"}],
//	  "allowances": [{"owner": "0x..", "token": "0x..", "amount": "1000"}],
//	  "approvals":  [{"owner": "0x..", "token": "0x.."}]
//	}
type Genesis struct {
	Mints      []GenesisMint      `json:"mints"`
	Allowances []GenesisAllowance `json:"allowances"`
	Approvals  []GenesisApproval  `json:"approvals"`
}

type GenesisMint struct {
	Kind       order.ItemType        `json:"kind"`
	Token      common.Address        `json:"token"`
	Identifier *math.HexOrDecimal256 `json:"identifier,omitempty"`
	To         common.Address        `json:"to"`
	Amount     *math.HexOrDecimal256 `json:"amount,omitempty"`
}

type GenesisAllowance struct {
	Owner  common.Address        `json:"owner"`
	Token  common.Address        `json:"token"`
	Amount *math.HexOrDecimal256 `json:"amount"`
}

type GenesisApproval struct {
	Owner common.Address `json:"owner"`
	Token common.Address `json:"token"`
}

// LoadGenesis reads a genesis file.
func LoadGenesis(path string) (Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, fmt.Errorf("failed to read genesis: %w", err)
	}
	var g Genesis
	if err := json.Unmarshal(data, &g); err != nil {
		return Genesis{}, fmt.Errorf("failed to parse genesis %s: %w", path, err)
	}
	return g, nil
}

// ApplyGenesis funds the ledger once. It reports false without changing
// anything when a genesis was already applied to this database.
func (p *Pebble) ApplyGenesis(g Genesis) (bool, error) {
	p.sem <- struct{}{}
	defer func() { <-p.sem }()

	_, closer, err := p.db.Get([]byte(genesisKey))
	if err == nil {
		closer.Close()
		return false, nil
	}
	if !errors.Is(err, pebble.ErrNotFound) {
		return false, fmt.Errorf("failed to read genesis marker: %w", err)
	}

	d := newDirtySet()
	for i, mint := range g.Mints {
		id := (*big.Int)(mint.Identifier)
		if err := p.Memory.Mint(mint.Kind, mint.Token, id, mint.To, (*big.Int)(mint.Amount)); err != nil {
			return false, fmt.Errorf("genesis mint %d: %w", i, err)
		}
		if mint.Kind == order.ItemUniqueToken {
			d.owners[tokenKey{mint.Token, idString(id)}] = struct{}{}
		} else {
			d.balances[p.key(mint.Kind, mint.Token, id, mint.To)] = struct{}{}
		}
	}
	for i, a := range g.Allowances {
		if a.Amount == nil {
			return false, fmt.Errorf("genesis allowance %d: amount is required", i)
		}
		p.Memory.Approve(a.Owner, a.Token, (*big.Int)(a.Amount))
		d.allowances[ownerTokenKey{a.Owner, a.Token}] = struct{}{}
	}
	for _, a := range g.Approvals {
		p.Memory.SetApprovalForAll(a.Owner, a.Token, true)
		d.approvals[ownerTokenKey{a.Owner, a.Token}] = struct{}{}
	}

	b := p.db.NewBatch()
	defer b.Close()
	if err := p.writeDirty(b, d); err != nil {
		return false, err
	}
	if err := b.Set([]byte(genesisKey), []byte{1}, nil); err != nil {
		return false, err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return false, fmt.Errorf("failed to commit genesis: %w", err)
	}
	return true, nil
}
