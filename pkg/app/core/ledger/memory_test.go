package ledger

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/luckyswap/pkg/app/core/order"
)

var (
	custody = common.HexToAddress("0xc0c0")
	alice   = common.HexToAddress("0xa11ce")
	bob     = common.HexToAddress("0xb0b")
	usd     = common.HexToAddress("0x05d")
	nft     = common.HexToAddress("0x0f7")
)

func TestFungibleTransferNeedsAllowance(t *testing.T) {
	m := NewMemory(custody)
	require.NoError(t, m.Mint(order.ItemFungible, usd, nil, alice, big.NewInt(100)))

	tx, err := m.Begin(context.Background())
	require.NoError(t, err)
	err = tx.Transfer(Transfer{Kind: order.ItemFungible, Token: usd, Amount: big.NewInt(10), From: alice, To: custody})
	assert.ErrorIs(t, err, ErrInsufficientApproval)
	require.NoError(t, tx.Rollback())

	m.Approve(alice, usd, big.NewInt(15))
	tx, err = m.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.Transfer(Transfer{Kind: order.ItemFungible, Token: usd, Amount: big.NewInt(10), From: alice, To: custody}))
	err = tx.Transfer(Transfer{Kind: order.ItemFungible, Token: usd, Amount: big.NewInt(10), From: alice, To: custody})
	assert.ErrorIs(t, err, ErrInsufficientApproval, "allowance is spent")
	require.NoError(t, tx.Commit())

	assert.Equal(t, int64(90), m.BalanceOf(order.ItemFungible, usd, nil, alice).Int64())
	assert.Equal(t, int64(10), m.BalanceOf(order.ItemFungible, usd, nil, custody).Int64())
}

func TestOperatorMovesWithoutApproval(t *testing.T) {
	m := NewMemory(custody)
	require.NoError(t, m.Mint(order.ItemNative, common.Address{}, nil, custody, big.NewInt(5)))

	tx, err := m.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.Transfer(Transfer{Kind: order.ItemNative, Amount: big.NewInt(5), From: custody, To: bob}))
	err = tx.Transfer(Transfer{Kind: order.ItemNative, Amount: big.NewInt(1), From: custody, To: bob})
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	require.NoError(t, tx.Commit())
	assert.Equal(t, int64(5), m.BalanceOf(order.ItemNative, common.Address{}, nil, bob).Int64())
}

func TestUniqueTokenTransfer(t *testing.T) {
	m := NewMemory(custody)
	id := big.NewInt(7)
	require.NoError(t, m.Mint(order.ItemUniqueToken, nft, id, alice, nil))
	assert.Error(t, m.Mint(order.ItemUniqueToken, nft, id, bob, nil))
	m.SetApprovalForAll(alice, nft, true)

	tx, err := m.Begin(context.Background())
	require.NoError(t, err)
	err = tx.Transfer(Transfer{Kind: order.ItemUniqueToken, Token: nft, Identifier: id, Amount: big.NewInt(2), From: alice, To: custody})
	assert.ErrorIs(t, err, ErrInvalidAmount)
	err = tx.Transfer(Transfer{Kind: order.ItemUniqueToken, Token: nft, Identifier: id, Amount: big.NewInt(1), From: bob, To: custody})
	assert.ErrorIs(t, err, ErrInsufficientApproval)
	require.NoError(t, tx.Transfer(Transfer{Kind: order.ItemUniqueToken, Token: nft, Identifier: id, Amount: big.NewInt(1), From: alice, To: custody}))
	require.NoError(t, tx.Commit())

	owner, ok := m.OwnerOf(nft, id)
	require.True(t, ok)
	assert.Equal(t, custody, owner)
	assert.Equal(t, int64(1), m.BalanceOf(order.ItemUniqueToken, nft, id, custody).Int64())
}

func TestRollbackRestoresEverything(t *testing.T) {
	m := NewMemory(custody)
	id := big.NewInt(1)
	require.NoError(t, m.Mint(order.ItemFungible, usd, nil, alice, big.NewInt(50)))
	require.NoError(t, m.Mint(order.ItemUniqueToken, nft, id, bob, nil))
	require.NoError(t, m.Mint(order.ItemSemiFungible, nft, big.NewInt(2), bob, big.NewInt(3)))
	m.Approve(alice, usd, big.NewInt(50))
	m.SetApprovalForAll(bob, nft, true)

	tx, err := m.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.Transfer(Transfer{Kind: order.ItemFungible, Token: usd, Amount: big.NewInt(20), From: alice, To: custody}))
	require.NoError(t, tx.Transfer(Transfer{Kind: order.ItemUniqueToken, Token: nft, Identifier: id, Amount: big.NewInt(1), From: bob, To: custody}))
	require.NoError(t, tx.Transfer(Transfer{Kind: order.ItemSemiFungible, Token: nft, Identifier: big.NewInt(2), Amount: big.NewInt(3), From: bob, To: alice}))
	require.NoError(t, tx.Rollback())

	assert.Equal(t, int64(50), m.BalanceOf(order.ItemFungible, usd, nil, alice).Int64())
	assert.Zero(t, m.BalanceOf(order.ItemFungible, usd, nil, custody).Sign())
	owner, _ := m.OwnerOf(nft, id)
	assert.Equal(t, bob, owner)
	assert.Equal(t, int64(3), m.BalanceOf(order.ItemSemiFungible, nft, big.NewInt(2), bob).Int64())

	// allowance was restored too
	tx, err = m.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.Transfer(Transfer{Kind: order.ItemFungible, Token: usd, Amount: big.NewInt(50), From: alice, To: custody}))
	require.NoError(t, tx.Commit())

	assert.ErrorIs(t, tx.Transfer(Transfer{Kind: order.ItemFungible, Token: usd, Amount: big.NewInt(1), From: custody, To: alice}), ErrTxClosed)
}

func TestBeginSerializesTransactions(t *testing.T) {
	m := NewMemory(custody)
	tx, err := m.Begin(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Begin(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, tx.Commit())
	tx2, err := m.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx2.Rollback())
}
