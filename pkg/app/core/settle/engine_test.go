package settle

import (
	"bytes"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/luckyswap/pkg/app/core/ledger"
	"github.com/uhyunpark/luckyswap/pkg/app/core/order"
	"github.com/uhyunpark/luckyswap/pkg/app/core/randomness"
	"github.com/uhyunpark/luckyswap/pkg/app/core/state"
	"github.com/uhyunpark/luckyswap/pkg/events"
	"github.com/uhyunpark/luckyswap/pkg/util"
)

func TestNewRequiresCustody(t *testing.T) {
	st, err := state.OpenInMemory()
	require.NoError(t, err)
	defer st.Close()

	_, err = New(Config{Owner: common.HexToAddress("0x01")}, st, ledger.NewMemory(common.Address{}), nil)
	assert.Error(t, err)
}

func TestMembership(t *testing.T) {
	f := newFixture(t)
	stranger := common.HexToAddress("0x00000000000000000000000000000000000000d1")

	_, err := f.engine.RequestRandomness(f.ctx, stranger, 1)
	assert.ErrorIs(t, err, ErrNotMember)
	assert.ErrorIs(t, err, AccessError)

	err = f.engine.AddMember(stranger, stranger)
	assert.ErrorIs(t, err, ErrNotOwner)

	require.NoError(t, f.engine.RemoveMember(f.owner, f.member))
	ok, err := f.engine.IsMember(f.member)
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = f.engine.RequestRandomness(f.ctx, f.member, 1)
	assert.ErrorIs(t, err, ErrNotMember)

	changes := f.events.Events(events.KindMemberChanged)
	require.Len(t, changes, 2)
	assert.False(t, changes[1].Data.(events.MemberChanged).Added)
}

func TestIncrementCounterInvalidatesOrders(t *testing.T) {
	f := newFixture(t)
	l := f.listing(1)
	maker := l.maker.Address()

	next, err := f.engine.IncrementCounter(f.ctx, maker)
	require.NoError(t, err)
	assert.Equal(t, int64(1), next.Int64())
	got, err := f.engine.GetCounter(maker)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Int64())

	err = f.prepare(f.newToken(), full(l.makerOrder, l.takerOrder)...)
	assert.ErrorIs(t, err, ErrStaleCounter)
	assert.ErrorIs(t, err, SignatureError)

	var se *Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 0, se.OrderIndex)
	assert.Equal(t, f.hash(l.makerOrder), se.OrderHash)

	// orders signed under the new counter work again
	fresh := f.sign(l.maker, f.components(maker, l.makerOrder.Parameters.Offer, l.makerOrder.Parameters.Consideration, order.FullOnly))
	assert.Equal(t, int64(1), fresh.Parameters.Counter.Int64())
	require.NoError(t, f.prepare(f.newToken(), full(fresh, l.takerOrder)...))
}

func TestTimeWindow(t *testing.T) {
	f := newFixture(t)
	maker := f.account()
	f.fundNFT(maker.Address(), 1)

	c := f.components(maker.Address(), []order.OfferItem{nftOffer(1)}, []order.ConsiderationItem{coinTo(8, 10, maker.Address())}, order.FullOnly)
	c.StartTime = uint64(f.clock.Now().Unix()) + 10
	o := f.sign(maker, c)

	err := f.prepare(f.newToken(), order.Full(o))
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.ErrorIs(t, err, TimeWindowError)

	f.clock.Advance(10 * time.Second)
	require.NoError(t, f.prepare(f.newToken(), order.Full(o)))

	f.clock.Advance(time.Hour)
	err = f.prepare(f.newToken(), order.Full(o))
	assert.ErrorIs(t, err, ErrExpired)
}

func TestSignatureChecks(t *testing.T) {
	f := newFixture(t)
	maker, forger := f.account(), f.account()

	c := f.components(maker.Address(), []order.OfferItem{nftOffer(1)}, []order.ConsiderationItem{coinTo(8, 10, maker.Address())}, order.FullOnly)
	forged := f.sign(forger, c)
	err := f.engine.Validate(f.ctx, []order.Order{forged})
	assert.ErrorIs(t, err, ErrInvalidSignature)

	c.TotalOriginalConsiderationItems = 2
	short := f.sign(maker, c)
	err = f.engine.Validate(f.ctx, []order.Order{short})
	assert.ErrorIs(t, err, ErrConsiderationCountMismatch)

	c.TotalOriginalConsiderationItems = 1
	good := f.sign(maker, c)
	require.NoError(t, f.engine.Validate(f.ctx, []order.Order{good}))
	st, err := f.engine.GetStatus(f.hash(good))
	require.NoError(t, err)
	assert.True(t, st.Validated)
	assert.Len(t, f.events.Events(events.KindOrderValidated), 1)

	// a validated order no longer needs its signature
	good.Signature = nil
	require.NoError(t, f.engine.Validate(f.ctx, []order.Order{good}))
	assert.Len(t, f.events.Events(events.KindOrderValidated), 1)
}

func TestBulkSignedOrders(t *testing.T) {
	f := newFixture(t)
	maker := f.account()
	var cs []order.OrderComponents
	for id := int64(1); id <= 3; id++ {
		f.fundNFT(maker.Address(), id)
		cs = append(cs, f.components(maker.Address(), []order.OfferItem{nftOffer(id)}, []order.ConsiderationItem{coinTo(8, 10, maker.Address())}, order.FullOnly))
	}
	signed, err := order.SignBulk(f.engine.EIP712(), maker, cs)
	require.NoError(t, err)

	tampered := signed[1]
	proof := *tampered.BulkProof
	proof.Index = 2
	tampered.BulkProof = &proof
	err = f.engine.Validate(f.ctx, []order.Order{tampered})
	assert.ErrorIs(t, err, ErrInvalidProof)

	require.NoError(t, f.engine.Validate(f.ctx, signed))
	for _, o := range signed {
		st, err := f.engine.GetStatus(f.hash(o))
		require.NoError(t, err)
		assert.True(t, st.Validated)
	}
	require.NoError(t, f.prepare(f.newToken(), full(signed...)...))
	assert.Equal(t, f.custody, f.ownerOf(3))
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	l := f.listing(1)

	err := f.engine.Cancel(f.ctx, l.taker.Address(), []order.OrderComponents{l.makerOrder.Parameters})
	assert.ErrorIs(t, err, ErrNotOfferer)

	require.NoError(t, f.engine.Cancel(f.ctx, l.maker.Address(), []order.OrderComponents{l.makerOrder.Parameters}))
	st, err := f.engine.GetStatus(f.hash(l.makerOrder))
	require.NoError(t, err)
	assert.True(t, st.Cancelled)
	assert.False(t, st.Validated)

	err = f.prepare(f.newToken(), full(l.makerOrder, l.takerOrder)...)
	assert.ErrorIs(t, err, ErrOrderCancelled)
	assert.ErrorIs(t, err, StateError)
	err = f.engine.Validate(f.ctx, []order.Order{l.makerOrder})
	assert.ErrorIs(t, err, ErrOrderCancelled)
	assert.Len(t, f.events.Events(events.KindOrderCancelled), 1)
}

func TestEscrowFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	maker, taker := f.account(), f.account()
	f.fundNFT(maker.Address(), 1)
	require.NoError(t, f.ledger.Mint(order.ItemFungible, coin, nil, taker.Address(), big.NewInt(10)))

	m := f.sign(maker, f.components(maker.Address(), []order.OfferItem{nftOffer(1)}, []order.ConsiderationItem{coinTo(8, 10, maker.Address())}, order.FullOnly))
	tk := f.sign(taker, f.components(taker.Address(), []order.OfferItem{coinOffer(10, 10)}, []order.ConsiderationItem{nftTo(1, taker.Address())}, order.FullOnly))

	token := f.newToken()
	err := f.prepare(token, full(m, tk)...)
	assert.ErrorIs(t, err, ErrEscrowFailed)
	assert.ErrorIs(t, err, EscrowError)
	assert.ErrorIs(t, err, ledger.ErrInsufficientApproval)

	var se *Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 1, se.OrderIndex)
	assert.Equal(t, 0, se.ItemIndex)

	assert.Equal(t, maker.Address(), f.ownerOf(1))
	assert.Equal(t, int64(10), f.coinOf(taker.Address()))
	holdings, err := f.engine.Holdings(f.hash(m))
	require.NoError(t, err)
	assert.Empty(t, holdings)
	b, err := f.engine.Batch(token)
	require.NoError(t, err)
	assert.Equal(t, state.BatchRequested, b.State)

	// the same token works once the approval is in place
	f.ledger.Approve(taker.Address(), coin, big.NewInt(10))
	require.NoError(t, f.prepare(token, full(m, tk)...))
}

func TestReclaim(t *testing.T) {
	f := newFixture(t)
	l := f.listing(1)
	taker := l.taker.Address()
	takerHash := f.hash(l.takerOrder)

	require.NoError(t, f.prepare(f.newToken(), full(l.makerOrder, l.takerOrder)...))
	assert.Equal(t, int64(90), f.coinOf(taker))

	_, err := f.engine.Reclaim(f.ctx, taker, l.takerOrder.Parameters)
	assert.ErrorIs(t, err, ErrNotReclaimable)
	_, err = f.engine.Reclaim(f.ctx, l.maker.Address(), l.takerOrder.Parameters)
	assert.ErrorIs(t, err, ErrNotOfferer)

	require.NoError(t, f.engine.Cancel(f.ctx, taker, []order.OrderComponents{l.takerOrder.Parameters}))
	transfers, err := f.engine.Reclaim(f.ctx, taker, l.takerOrder.Parameters)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, f.custody, transfers[0].From)
	assert.Equal(t, int64(100), f.coinOf(taker))
	assert.Equal(t, int64(0), f.coinOf(f.custody))

	holdings, err := f.engine.Holdings(takerHash)
	require.NoError(t, err)
	assert.Empty(t, holdings)

	// the maker's order expires and its NFT goes home
	f.clock.Advance(2 * time.Hour)
	_, err = f.engine.Reclaim(f.ctx, l.maker.Address(), l.makerOrder.Parameters)
	require.NoError(t, err)
	assert.Equal(t, l.maker.Address(), f.ownerOf(1))
	assert.Len(t, f.events.Events(events.KindEscrowReclaimed), 2)
}

func TestAbortUnknownToken(t *testing.T) {
	f := newFixture(t)
	err := f.engine.Abort(f.ctx, f.member, common.HexToHash("0xdead"))
	assert.ErrorIs(t, err, ErrUnknownToken)
	_, err = f.engine.Batch(common.HexToHash("0xdead"))
	assert.ErrorIs(t, err, ErrUnknownToken)
}

func TestEscrowSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	oracle, err := randomness.NewOracle(bytes.Repeat([]byte{3}, 32), nil)
	require.NoError(t, err)
	clock := util.NewManualClock(time.Unix(1_700_000_000, 0))

	f := openDiskFixture(t, dir, oracle, clock)
	require.NoError(t, f.engine.AddMember(f.owner, f.member))
	l := f.listing(1)
	maker, taker := l.maker.Address(), l.taker.Address()
	token := f.newToken()
	require.NoError(t, f.prepare(token, full(l.makerOrder, l.takerOrder)...))
	require.NoError(t, f.store.Close())

	f = openDiskFixture(t, dir, oracle, clock)
	assert.Equal(t, int64(10), f.coinOf(f.custody))
	assert.Equal(t, int64(90), f.coinOf(taker))
	assert.Equal(t, f.custody, f.ownerOf(1))
	holdings, err := f.engine.Holdings(f.hash(l.takerOrder))
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.Equal(t, int64(10), holdings[0].Amount.Int64())

	f.fulfill(token)
	_, err = f.engine.Match(f.ctx, f.member, MatchRequest{
		Orders:        full(l.makerOrder, l.takerOrder),
		Fulfillments:  l.fulfillments,
		Token:         token,
		LuckResolvers: []order.LuckResolver{half(f.hash(l.makerOrder))},
	})
	require.NoError(t, err)
	require.NoError(t, f.store.Close())

	f = openDiskFixture(t, dir, oracle, clock)
	defer f.store.Close()
	assert.Equal(t, int64(9), f.coinOf(maker))
	assert.Equal(t, int64(91), f.coinOf(taker))
	assert.Zero(t, f.coinOf(f.custody))
	assert.Equal(t, taker, f.ownerOf(1))
	b, err := f.engine.Batch(token)
	require.NoError(t, err)
	assert.Equal(t, state.BatchSettled, b.State)
}
