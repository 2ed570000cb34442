package state

import (
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/luckyswap/pkg/app/core/order"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDefaultsForUnknownKeys(t *testing.T) {
	s := newStore(t)
	h := common.HexToHash("0x01")

	st, err := s.Status(h)
	require.NoError(t, err)
	assert.False(t, st.Validated)
	assert.Zero(t, st.TotalSize.Sign())

	c, err := s.Counter(common.HexToAddress("0xa"))
	require.NoError(t, err)
	assert.Zero(t, c.Sign())

	hold, err := s.Holding(h, 0)
	require.NoError(t, err)
	assert.Nil(t, hold)

	b, err := s.Batch(h)
	require.NoError(t, err)
	assert.Nil(t, b)

	ok, err := s.IsMember(common.HexToAddress("0xa"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBatchCommitsAtomically(t *testing.T) {
	s := newStore(t)
	h := common.HexToHash("0x02")
	addr := common.HexToAddress("0xb")
	token := common.HexToHash("0xfeed")

	bw := s.NewBatch()
	require.NoError(t, bw.SetStatus(h, order.Status{Validated: true, TotalFilled: big.NewInt(3), TotalSize: big.NewInt(4)}))
	require.NoError(t, bw.SetCounter(addr, big.NewInt(5)))
	require.NoError(t, bw.SetHolding(h, Holding{Item: 1, Asset: order.Asset{Type: order.ItemFungible, Token: addr}, Amount: big.NewInt(30)}))
	require.NoError(t, bw.SetHolding(h, Holding{Item: 0, Asset: order.Asset{Type: order.ItemUniqueToken, Token: addr, Identifier: big.NewInt(9)}, Amount: big.NewInt(1)}))
	require.NoError(t, bw.SetBatch(&Batch{Token: token, State: BatchEscrowed, Orders: []common.Hash{h}}))
	require.NoError(t, bw.SetMember(addr, true))

	// nothing visible before commit
	st, err := s.Status(h)
	require.NoError(t, err)
	assert.False(t, st.Validated)

	require.NoError(t, bw.Commit())
	require.NoError(t, bw.Close())

	st, err = s.Status(h)
	require.NoError(t, err)
	assert.True(t, st.Validated)
	assert.Equal(t, int64(3), st.TotalFilled.Int64())
	assert.Equal(t, int64(4), st.TotalSize.Int64())

	c, err := s.Counter(addr)
	require.NoError(t, err)
	assert.Equal(t, int64(5), c.Int64())

	holds, err := s.Holdings(h)
	require.NoError(t, err)
	require.Len(t, holds, 2)
	assert.Equal(t, 0, holds[0].Item)
	assert.Equal(t, int64(9), holds[0].Asset.Identifier.Int64())
	assert.Equal(t, int64(30), holds[1].Amount.Int64())

	b, err := s.Batch(token)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, BatchEscrowed, b.State)
	assert.True(t, b.Contains(h))

	ok, err := s.IsMember(addr)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestZeroHoldingAndMemberRemovalDelete(t *testing.T) {
	s := newStore(t)
	h := common.HexToHash("0x03")
	addr := common.HexToAddress("0xc")

	bw := s.NewBatch()
	require.NoError(t, bw.SetHolding(h, Holding{Item: 0, Amount: big.NewInt(10)}))
	require.NoError(t, bw.SetMember(addr, true))
	require.NoError(t, bw.Commit())
	bw.Close()

	bw = s.NewBatch()
	require.NoError(t, bw.SetHolding(h, Holding{Item: 0, Amount: new(big.Int)}))
	require.NoError(t, bw.SetMember(addr, false))
	require.NoError(t, bw.Commit())
	bw.Close()

	hold, err := s.Holding(h, 0)
	require.NoError(t, err)
	assert.Nil(t, hold)
	ok, err := s.IsMember(addr)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDiscardedBatchLeavesNoTrace(t *testing.T) {
	s := newStore(t)
	bw := s.NewBatch()
	require.NoError(t, bw.SetCounter(common.HexToAddress("0xd"), big.NewInt(1)))
	require.NoError(t, bw.Close())

	c, err := s.Counter(common.HexToAddress("0xd"))
	require.NoError(t, err)
	assert.Zero(t, c.Sign())
}

func TestReopenOnDisk(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	s, err := Open(dir)
	require.NoError(t, err)
	bw := s.NewBatch()
	require.NoError(t, bw.SetCounter(common.HexToAddress("0xe"), big.NewInt(7)))
	require.NoError(t, bw.Commit())
	bw.Close()
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()
	c, err := s.Counter(common.HexToAddress("0xe"))
	require.NoError(t, err)
	assert.Equal(t, int64(7), c.Int64())
}

func TestBatchStateJSON(t *testing.T) {
	b, err := BatchSettled.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"settled"`, string(b))

	var s BatchState
	require.NoError(t, s.UnmarshalJSON([]byte(`"aborted"`)))
	assert.Equal(t, BatchAborted, s)
	assert.Error(t, s.UnmarshalJSON([]byte(`"bogus"`)))
}
