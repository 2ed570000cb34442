package settle

import (
	"bytes"
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/luckyswap/pkg/app/core/ledger"
	"github.com/uhyunpark/luckyswap/pkg/app/core/order"
	"github.com/uhyunpark/luckyswap/pkg/app/core/randomness"
	"github.com/uhyunpark/luckyswap/pkg/app/core/state"
	"github.com/uhyunpark/luckyswap/pkg/crypto"
	"github.com/uhyunpark/luckyswap/pkg/events"
	"github.com/uhyunpark/luckyswap/pkg/util"
)

var (
	coin  = common.HexToAddress("0x00000000000000000000000000000000000c0140")
	nft   = common.HexToAddress("0x0000000000000000000000000000000000000721")
	multi = common.HexToAddress("0x0000000000000000000000000000000000001155")
)

type fixture struct {
	t      *testing.T
	ctx    context.Context
	engine *Engine
	store  *state.Store
	ledger *ledger.Memory
	disk   *ledger.Pebble
	oracle *randomness.Oracle
	clock  *util.ManualClock
	events *events.Recorder

	owner   common.Address
	member  common.Address
	custody common.Address
	salt    int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := state.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f := &fixture{
		t:       t,
		ctx:     context.Background(),
		store:   st,
		owner:   common.HexToAddress("0x00000000000000000000000000000000000000a1"),
		member:  common.HexToAddress("0x00000000000000000000000000000000000000b1"),
		custody: common.HexToAddress("0x00000000000000000000000000000000000000c1"),
		clock:   util.NewManualClock(time.Unix(1_700_000_000, 0)),
		events:  &events.Recorder{},
	}
	f.ledger = ledger.NewMemory(f.custody)
	f.oracle, err = randomness.NewOracle(bytes.Repeat([]byte{3}, 32), nil)
	require.NoError(t, err)

	f.engine, err = New(Config{Owner: f.owner, Custody: f.custody, Domain: crypto.DefaultDomain()}, st, f.ledger, f.oracle)
	require.NoError(t, err)
	f.engine.Clock = f.clock
	f.engine.Events = f.events
	require.NoError(t, f.engine.AddMember(f.owner, f.member))
	return f
}

// openDiskFixture runs the engine on a store and ledger kept in dir. Opening
// the same dir again behaves like a node restart; the oracle and clock are
// passed in since they live outside the node's database.
func openDiskFixture(t *testing.T, dir string, oracle *randomness.Oracle, clock *util.ManualClock) *fixture {
	t.Helper()
	st, err := state.Open(dir)
	require.NoError(t, err)

	f := &fixture{
		t:       t,
		ctx:     context.Background(),
		store:   st,
		oracle:  oracle,
		clock:   clock,
		owner:   common.HexToAddress("0x00000000000000000000000000000000000000a1"),
		member:  common.HexToAddress("0x00000000000000000000000000000000000000b1"),
		custody: common.HexToAddress("0x00000000000000000000000000000000000000c1"),
		events:  &events.Recorder{},
	}
	f.disk, err = ledger.OpenPebble(st.DB(), f.custody)
	require.NoError(t, err)
	f.ledger = f.disk.Memory

	f.engine, err = New(Config{Owner: f.owner, Custody: f.custody, Domain: crypto.DefaultDomain()}, st, f.disk, oracle)
	require.NoError(t, err)
	f.engine.Clock = clock
	f.engine.Events = f.events
	return f
}

func (f *fixture) account() *crypto.Signer {
	s, err := crypto.GenerateKey()
	require.NoError(f.t, err)
	return s
}

// fundCoin mints fungible units to a and approves custody to pull all of them.
func (f *fixture) fundCoin(a common.Address, amount int64) {
	f.mint(order.ItemFungible, coin, nil, a, amount)
	if f.disk != nil {
		require.NoError(f.t, f.disk.Approve(a, coin, big.NewInt(amount)))
		return
	}
	f.ledger.Approve(a, coin, big.NewInt(amount))
}

func (f *fixture) fundNFT(a common.Address, id int64) {
	f.mint(order.ItemUniqueToken, nft, big.NewInt(id), a, 1)
	f.approveAll(a, nft)
}

func (f *fixture) fundMulti(a common.Address, id, amount int64) {
	f.mint(order.ItemSemiFungible, multi, big.NewInt(id), a, amount)
	f.approveAll(a, multi)
}

func (f *fixture) mint(kind order.ItemType, token common.Address, id *big.Int, to common.Address, amount int64) {
	if f.disk != nil {
		require.NoError(f.t, f.disk.Mint(kind, token, id, to, big.NewInt(amount)))
		return
	}
	require.NoError(f.t, f.ledger.Mint(kind, token, id, to, big.NewInt(amount)))
}

func (f *fixture) approveAll(a, token common.Address) {
	if f.disk != nil {
		require.NoError(f.t, f.disk.SetApprovalForAll(a, token, true))
		return
	}
	f.ledger.SetApprovalForAll(a, token, true)
}

func (f *fixture) coinOf(a common.Address) int64 {
	return f.ledger.BalanceOf(order.ItemFungible, coin, nil, a).Int64()
}

func (f *fixture) multiOf(a common.Address, id int64) int64 {
	return f.ledger.BalanceOf(order.ItemSemiFungible, multi, big.NewInt(id), a).Int64()
}

func (f *fixture) ownerOf(id int64) common.Address {
	owner, _ := f.ledger.OwnerOf(nft, big.NewInt(id))
	return owner
}

func coinOffer(start, end int64) order.OfferItem {
	return order.OfferItem{Type: order.ItemFungible, Token: coin, StartAmount: big.NewInt(start), EndAmount: big.NewInt(end)}
}

func coinTo(start, end int64, to common.Address) order.ConsiderationItem {
	return order.ConsiderationItem{Type: order.ItemFungible, Token: coin, StartAmount: big.NewInt(start), EndAmount: big.NewInt(end), Recipient: to}
}

func nftOffer(id int64) order.OfferItem {
	return order.OfferItem{Type: order.ItemUniqueToken, Token: nft, IdentifierOrCriteria: big.NewInt(id), StartAmount: big.NewInt(1), EndAmount: big.NewInt(1)}
}

func nftTo(id int64, to common.Address) order.ConsiderationItem {
	return order.ConsiderationItem{Type: order.ItemUniqueToken, Token: nft, IdentifierOrCriteria: big.NewInt(id), StartAmount: big.NewInt(1), EndAmount: big.NewInt(1), Recipient: to}
}

func multiOffer(id, amount int64) order.OfferItem {
	return order.OfferItem{Type: order.ItemSemiFungible, Token: multi, IdentifierOrCriteria: big.NewInt(id), StartAmount: big.NewInt(amount), EndAmount: big.NewInt(amount)}
}

func multiTo(id, amount int64, to common.Address) order.ConsiderationItem {
	return order.ConsiderationItem{Type: order.ItemSemiFungible, Token: multi, IdentifierOrCriteria: big.NewInt(id), StartAmount: big.NewInt(amount), EndAmount: big.NewInt(amount), Recipient: to}
}

// components builds an order valid for the next hour under the offerer's
// current counter.
func (f *fixture) components(offerer common.Address, offer []order.OfferItem, consideration []order.ConsiderationItem, typ order.OrderType) order.OrderComponents {
	counter, err := f.store.Counter(offerer)
	require.NoError(f.t, err)
	f.salt++
	now := uint64(f.clock.Now().Unix())
	return order.OrderComponents{
		OrderParameters: order.OrderParameters{
			Offerer:                         offerer,
			Offer:                           offer,
			Consideration:                   consideration,
			OrderType:                       typ,
			StartTime:                       now - 60,
			EndTime:                         now + 3600,
			Salt:                            big.NewInt(f.salt),
			TotalOriginalConsiderationItems: uint64(len(consideration)),
		},
		Counter: counter,
	}
}

func (f *fixture) sign(s *crypto.Signer, c order.OrderComponents) order.Order {
	o, err := order.Sign(f.engine.EIP712(), s, c)
	require.NoError(f.t, err)
	return o
}

func (f *fixture) hash(o order.Order) common.Hash {
	h, err := order.Hash(o.Parameters)
	require.NoError(f.t, err)
	return h
}

func (f *fixture) newToken() common.Hash {
	token, err := f.engine.RequestRandomness(f.ctx, f.member, 2)
	require.NoError(f.t, err)
	return token
}

func (f *fixture) fulfill(token common.Hash) {
	_, err := f.oracle.Fulfill(token)
	require.NoError(f.t, err)
}

func (f *fixture) prepare(token common.Hash, orders ...order.AdvancedOrder) error {
	return f.engine.Prepare(f.ctx, f.member, PrepareRequest{Orders: orders, Token: token})
}

func full(orders ...order.Order) []order.AdvancedOrder {
	out := make([]order.AdvancedOrder, len(orders))
	for i, o := range orders {
		out[i] = order.Full(o)
	}
	return out
}

func pair(offerOrder, offerItem, considOrder, considItem int) order.Fulfillment {
	return order.Fulfillment{
		OfferComponents:         []order.FulfillmentComponent{{OrderIndex: offerOrder, ItemIndex: offerItem}},
		ConsiderationComponents: []order.FulfillmentComponent{{OrderIndex: considOrder, ItemIndex: considItem}},
	}
}

func half(h common.Hash) order.LuckResolver {
	return order.LuckResolver{OrderHash: h, Numerator: 1, Denominator: 2}
}

func unlucky(h common.Hash) order.LuckResolver {
	return order.LuckResolver{OrderHash: h, Numerator: 0, Denominator: 2}
}

// listing is a maker selling NFT id for 8..10 coin to a taker who offers 10.
type listing struct {
	maker, taker *crypto.Signer
	makerOrder   order.Order
	takerOrder   order.Order
	fulfillments []order.Fulfillment
}

func (f *fixture) listing(id int64) listing {
	maker, taker := f.account(), f.account()
	f.fundNFT(maker.Address(), id)
	f.fundCoin(taker.Address(), 100)

	m := f.sign(maker, f.components(maker.Address(),
		[]order.OfferItem{nftOffer(id)},
		[]order.ConsiderationItem{coinTo(8, 10, maker.Address())},
		order.FullOnly))
	tk := f.sign(taker, f.components(taker.Address(),
		[]order.OfferItem{coinOffer(10, 10)},
		[]order.ConsiderationItem{nftTo(id, taker.Address())},
		order.FullOnly))
	return listing{
		maker:        maker,
		taker:        taker,
		makerOrder:   m,
		takerOrder:   tk,
		fulfillments: []order.Fulfillment{pair(1, 0, 0, 0), pair(0, 0, 1, 0)},
	}
}
