package api

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/uhyunpark/luckyswap/pkg/app/core/gasdesk"
	"github.com/uhyunpark/luckyswap/pkg/app/core/ledger"
	"github.com/uhyunpark/luckyswap/pkg/app/core/mempool"
	"github.com/uhyunpark/luckyswap/pkg/app/core/order"
	"github.com/uhyunpark/luckyswap/pkg/app/core/randomness"
	"github.com/uhyunpark/luckyswap/pkg/app/core/settle"
)

// API wire types. Amounts accept decimal or 0x-hex and are written as hex.

// ==============================
// Orders
// ==============================

type OfferItem struct {
	ItemType             uint8                 `json:"itemType"`
	Token                common.Address        `json:"token"`
	IdentifierOrCriteria *math.HexOrDecimal256 `json:"identifierOrCriteria"`
	StartAmount          *math.HexOrDecimal256 `json:"startAmount"`
	EndAmount            *math.HexOrDecimal256 `json:"endAmount"`
}

type ConsiderationItem struct {
	OfferItem
	Recipient common.Address `json:"recipient"`
}

// OrderComponents is what the offerer signs.
type OrderComponents struct {
	Offerer                         common.Address        `json:"offerer"`
	Zone                            common.Address        `json:"zone"`
	Offer                           []OfferItem           `json:"offer"`
	Consideration                   []ConsiderationItem   `json:"consideration"`
	OrderType                       uint8                 `json:"orderType"` // 0 full only, 1 partial allowed
	StartTime                       math.HexOrDecimal64   `json:"startTime"`
	EndTime                         math.HexOrDecimal64   `json:"endTime"`
	ZoneHash                        common.Hash           `json:"zoneHash"`
	Salt                            *math.HexOrDecimal256 `json:"salt"`
	ConduitKey                      common.Hash           `json:"conduitKey"`
	TotalOriginalConsiderationItems math.HexOrDecimal64   `json:"totalOriginalConsiderationItems"`
	Counter                         *math.HexOrDecimal256 `json:"counter"`
}

type BulkProof struct {
	Root     common.Hash   `json:"root"`
	Index    uint32        `json:"index"`
	Siblings []common.Hash `json:"siblings"`
}

type Order struct {
	Parameters OrderComponents `json:"parameters"`
	Signature  hexutil.Bytes   `json:"signature"`
	BulkProof  *BulkProof      `json:"bulkProof,omitempty"`
}

// AdvancedOrder omitting numerator and denominator asks for the whole order.
type AdvancedOrder struct {
	Order
	Numerator   uint64        `json:"numerator,omitempty"`
	Denominator uint64        `json:"denominator,omitempty"`
	ExtraData   hexutil.Bytes `json:"extraData,omitempty"`
}

type FulfillmentComponent struct {
	OrderIndex int `json:"orderIndex"`
	ItemIndex  int `json:"itemIndex"`
}

type Fulfillment struct {
	OfferComponents         []FulfillmentComponent `json:"offerComponents"`
	ConsiderationComponents []FulfillmentComponent `json:"considerationComponents"`
}

type LuckResolver struct {
	OrderHash   common.Hash `json:"orderHash"`
	Numerator   uint64      `json:"numerator"`
	Denominator uint64      `json:"denominator"`
}

type CriteriaResolver struct {
	OrderIndex int                   `json:"orderIndex"`
	Side       uint8                 `json:"side"` // 0 offer, 1 consideration
	Index      int                   `json:"index"`
	Identifier *math.HexOrDecimal256 `json:"identifier"`
	Proof      []common.Hash         `json:"proof"`
}

// ==============================
// REST Request Types
// ==============================

type HashOrderResponse struct {
	OrderHash common.Hash `json:"orderHash"`
	Digest    common.Hash `json:"digest"`
}

type ValidateRequest struct {
	Orders []Order `json:"orders"`
}

type RandomnessRequest struct {
	NumWords uint32 `json:"numWords"`
}

type RandomnessResponse struct {
	Token common.Hash `json:"token"`
}

// DrawRequest derives one luck resolver per order hash from a fulfilled
// token's random words.
type DrawRequest struct {
	Orders    []common.Hash `json:"orders"`
	Hit       uint64        `json:"hit"`
	OutOf     uint64        `json:"outOf"`
	Precision uint64        `json:"precision"`
}

type PrepareRequest struct {
	Token             common.Hash        `json:"token"`
	Orders            []AdvancedOrder    `json:"orders"`
	PremiumIndices    []int              `json:"premiumIndices,omitempty"`
	PremiumRecipients []common.Address   `json:"premiumRecipients,omitempty"`
	CriteriaResolvers []CriteriaResolver `json:"criteriaResolvers,omitempty"`
}

type MatchRequest struct {
	Token             common.Hash        `json:"token"`
	Orders            []AdvancedOrder    `json:"orders"`
	Fulfillments      []Fulfillment      `json:"fulfillments"`
	LuckResolvers     []LuckResolver     `json:"luckResolvers,omitempty"`
	CriteriaResolvers []CriteriaResolver `json:"criteriaResolvers,omitempty"`
}

// MatchFeeRequest is the payload for POST /api/v1/requests. Signature is
// the requester's EIP-712 signature over MatchRequest(address requester,
// bytes32[] orders,uint256 payment,uint256 deadline) under the market domain.
type MatchFeeRequest struct {
	Requester common.Address        `json:"requester"`
	Orders    []common.Hash         `json:"orders"`
	Payment   *math.HexOrDecimal256 `json:"payment"`
	Deadline  uint64                `json:"deadline"`
	Signature hexutil.Bytes         `json:"signature"`
}

func (r MatchFeeRequest) toRequest() gasdesk.Request {
	return gasdesk.Request{Requester: r.Requester, Orders: r.Orders, Payment: toBig(r.Payment), Deadline: r.Deadline}
}

// ==============================
// REST Response Types
// ==============================

type StatusInfo struct {
	OrderHash   common.Hash `json:"orderHash"`
	Validated   bool        `json:"validated"`
	Cancelled   bool        `json:"cancelled"`
	TotalFilled string      `json:"totalFilled"`
	TotalSize   string      `json:"totalSize"`
}

type CounterInfo struct {
	Address common.Address `json:"address"`
	Counter string         `json:"counter"`
}

type Transfer struct {
	ItemType   string         `json:"itemType"`
	Token      common.Address `json:"token"`
	Identifier string         `json:"identifier"`
	Amount     string         `json:"amount"`
	From       common.Address `json:"from"`
	To         common.Address `json:"to"`
}

type OrderOutcome struct {
	OrderHash common.Hash `json:"orderHash"`
	Skipped   bool        `json:"skipped"`
	Status    StatusInfo  `json:"status"`
}

type BatchOutcome struct {
	Token     common.Hash    `json:"token"`
	Filled    bool           `json:"filled"`
	Orders    []OrderOutcome `json:"orders"`
	Transfers []Transfer     `json:"transfers"`
}

type MatchFeeResponse struct {
	Fee    string `json:"fee"`
	Refund string `json:"refund"`
}

// ErrorResponse is returned for all errors. Settlement failures carry the
// reason code and the offending order when there is one.
type PendingResponse struct {
	Total    int             `json:"total"`
	Requests []mempool.Entry `json:"requests"`
}

type ErrorResponse struct {
	Error      string       `json:"error"`
	Message    string       `json:"message"`
	Kind       string       `json:"kind,omitempty"`
	OrderHash  *common.Hash `json:"orderHash,omitempty"`
	OrderIndex *int         `json:"orderIndex,omitempty"`
	ItemIndex  *int         `json:"itemIndex,omitempty"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSMessage wraps every pushed event.
type WSMessage struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	Data    any    `json:"data"`
}

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // "orders", "batches", "fees"
}

// ==============================
// Conversions
// ==============================

func toBig(v *math.HexOrDecimal256) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set((*big.Int)(v))
}

func fromBig(v *big.Int) *math.HexOrDecimal256 {
	if v == nil {
		return nil
	}
	return (*math.HexOrDecimal256)(new(big.Int).Set(v))
}

func (it OfferItem) toOrder() (order.OfferItem, error) {
	t := order.ItemType(it.ItemType)
	if !t.Valid() {
		return order.OfferItem{}, fmt.Errorf("unknown item type %d", it.ItemType)
	}
	return order.OfferItem{
		Type:                 t,
		Token:                it.Token,
		IdentifierOrCriteria: toBig(it.IdentifierOrCriteria),
		StartAmount:          toBig(it.StartAmount),
		EndAmount:            toBig(it.EndAmount),
	}, nil
}

func (c OrderComponents) toOrder() (order.OrderComponents, error) {
	if c.OrderType > uint8(order.PartialAllowed) {
		return order.OrderComponents{}, fmt.Errorf("unknown order type %d", c.OrderType)
	}
	out := order.OrderComponents{
		OrderParameters: order.OrderParameters{
			Offerer:                         c.Offerer,
			Zone:                            c.Zone,
			OrderType:                       order.OrderType(c.OrderType),
			StartTime:                       uint64(c.StartTime),
			EndTime:                         uint64(c.EndTime),
			ZoneHash:                        c.ZoneHash,
			Salt:                            toBig(c.Salt),
			ConduitKey:                      c.ConduitKey,
			TotalOriginalConsiderationItems: uint64(c.TotalOriginalConsiderationItems),
		},
		Counter: toBig(c.Counter),
	}
	for i, it := range c.Offer {
		o, err := it.toOrder()
		if err != nil {
			return order.OrderComponents{}, fmt.Errorf("offer %d: %w", i, err)
		}
		out.Offer = append(out.Offer, o)
	}
	for i, it := range c.Consideration {
		o, err := it.OfferItem.toOrder()
		if err != nil {
			return order.OrderComponents{}, fmt.Errorf("consideration %d: %w", i, err)
		}
		out.Consideration = append(out.Consideration, order.ConsiderationItem{
			Type:                 o.Type,
			Token:                o.Token,
			IdentifierOrCriteria: o.IdentifierOrCriteria,
			StartAmount:          o.StartAmount,
			EndAmount:            o.EndAmount,
			Recipient:            it.Recipient,
		})
	}
	return out, nil
}

func (o Order) toOrder() (order.Order, error) {
	params, err := o.Parameters.toOrder()
	if err != nil {
		return order.Order{}, err
	}
	out := order.Order{Parameters: params, Signature: o.Signature}
	if o.BulkProof != nil {
		out.BulkProof = &order.BulkProof{Root: o.BulkProof.Root, Index: o.BulkProof.Index, Siblings: o.BulkProof.Siblings}
	}
	return out, nil
}

func (a AdvancedOrder) toOrder() (order.AdvancedOrder, error) {
	o, err := a.Order.toOrder()
	if err != nil {
		return order.AdvancedOrder{}, err
	}
	num, den := a.Numerator, a.Denominator
	if num == 0 && den == 0 {
		num, den = 1, 1
	}
	return order.AdvancedOrder{Order: o, Numerator: num, Denominator: den, ExtraData: a.ExtraData}, nil
}

func advancedOrders(in []AdvancedOrder) ([]order.AdvancedOrder, error) {
	out := make([]order.AdvancedOrder, len(in))
	for i, a := range in {
		o, err := a.toOrder()
		if err != nil {
			return nil, fmt.Errorf("order %d: %w", i, err)
		}
		out[i] = o
	}
	return out, nil
}

func criteriaResolvers(in []CriteriaResolver) []order.CriteriaResolver {
	out := make([]order.CriteriaResolver, len(in))
	for i, r := range in {
		out[i] = order.CriteriaResolver{
			OrderIndex: r.OrderIndex,
			Side:       order.Side(r.Side),
			Index:      r.Index,
			Identifier: toBig(r.Identifier),
			Proof:      r.Proof,
		}
	}
	return out
}

func (r PrepareRequest) toSettle() (settle.PrepareRequest, error) {
	orders, err := advancedOrders(r.Orders)
	if err != nil {
		return settle.PrepareRequest{}, err
	}
	return settle.PrepareRequest{
		Orders:            orders,
		PremiumIndices:    r.PremiumIndices,
		PremiumRecipients: r.PremiumRecipients,
		Token:             r.Token,
		CriteriaResolvers: criteriaResolvers(r.CriteriaResolvers),
	}, nil
}

func (r MatchRequest) toSettle() (settle.MatchRequest, error) {
	orders, err := advancedOrders(r.Orders)
	if err != nil {
		return settle.MatchRequest{}, err
	}
	out := settle.MatchRequest{
		Orders:            orders,
		Token:             r.Token,
		CriteriaResolvers: criteriaResolvers(r.CriteriaResolvers),
	}
	for _, f := range r.Fulfillments {
		var of order.Fulfillment
		for _, c := range f.OfferComponents {
			of.OfferComponents = append(of.OfferComponents, order.FulfillmentComponent(c))
		}
		for _, c := range f.ConsiderationComponents {
			of.ConsiderationComponents = append(of.ConsiderationComponents, order.FulfillmentComponent(c))
		}
		out.Fulfillments = append(out.Fulfillments, of)
	}
	for _, lr := range r.LuckResolvers {
		out.LuckResolvers = append(out.LuckResolvers, order.LuckResolver(lr))
	}
	return out, nil
}

func (r DrawRequest) odds() randomness.Odds {
	return randomness.Odds{Hit: r.Hit, OutOf: r.OutOf, Precision: r.Precision}
}

// NewOrder converts a signed order to its wire form.
func NewOrder(o order.Order) Order {
	p := o.Parameters
	out := Order{
		Parameters: OrderComponents{
			Offerer:                         p.Offerer,
			Zone:                            p.Zone,
			OrderType:                       uint8(p.OrderType),
			StartTime:                       math.HexOrDecimal64(p.StartTime),
			EndTime:                         math.HexOrDecimal64(p.EndTime),
			ZoneHash:                        p.ZoneHash,
			Salt:                            fromBig(p.Salt),
			ConduitKey:                      p.ConduitKey,
			TotalOriginalConsiderationItems: math.HexOrDecimal64(p.TotalOriginalConsiderationItems),
			Counter:                         fromBig(p.Counter),
		},
		Signature: o.Signature,
	}
	for _, it := range p.Offer {
		out.Parameters.Offer = append(out.Parameters.Offer, OfferItem{
			ItemType:             uint8(it.Type),
			Token:                it.Token,
			IdentifierOrCriteria: fromBig(it.IdentifierOrCriteria),
			StartAmount:          fromBig(it.StartAmount),
			EndAmount:            fromBig(it.EndAmount),
		})
	}
	for _, it := range p.Consideration {
		out.Parameters.Consideration = append(out.Parameters.Consideration, ConsiderationItem{
			OfferItem: OfferItem{
				ItemType:             uint8(it.Type),
				Token:                it.Token,
				IdentifierOrCriteria: fromBig(it.IdentifierOrCriteria),
				StartAmount:          fromBig(it.StartAmount),
				EndAmount:            fromBig(it.EndAmount),
			},
			Recipient: it.Recipient,
		})
	}
	if bp := o.BulkProof; bp != nil {
		out.BulkProof = &BulkProof{Root: bp.Root, Index: bp.Index, Siblings: bp.Siblings}
	}
	return out
}

func newStatusInfo(h common.Hash, st order.Status) StatusInfo {
	return StatusInfo{
		OrderHash:   h,
		Validated:   st.Validated,
		Cancelled:   st.Cancelled,
		TotalFilled: bigString(st.TotalFilled),
		TotalSize:   bigString(st.TotalSize),
	}
}

func newTransfer(t ledger.Transfer) Transfer {
	return Transfer{
		ItemType:   t.Kind.String(),
		Token:      t.Token,
		Identifier: bigString(t.Identifier),
		Amount:     bigString(t.Amount),
		From:       t.From,
		To:         t.To,
	}
}

func newBatchOutcome(out settle.BatchOutcome) BatchOutcome {
	resp := BatchOutcome{
		Token:     out.Token,
		Filled:    out.Filled,
		Orders:    make([]OrderOutcome, len(out.Orders)),
		Transfers: make([]Transfer, len(out.Transfers)),
	}
	for i, o := range out.Orders {
		resp.Orders[i] = OrderOutcome{OrderHash: o.OrderHash, Skipped: o.Skipped, Status: newStatusInfo(o.OrderHash, o.Status)}
	}
	for i, t := range out.Transfers {
		resp.Transfers[i] = newTransfer(t)
	}
	return resp
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
