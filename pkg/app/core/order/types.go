package order

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ItemType is the asset kind of an offer or consideration item.
type ItemType uint8

const (
	ItemNative ItemType = iota
	ItemFungible
	ItemUniqueToken
	ItemSemiFungible
	ItemUniqueTokenByCriteria
	ItemSemiFungibleByCriteria
)

func (t ItemType) String() string {
	switch t {
	case ItemNative:
		return "native"
	case ItemFungible:
		return "fungible"
	case ItemUniqueToken:
		return "unique"
	case ItemSemiFungible:
		return "semi_fungible"
	case ItemUniqueTokenByCriteria:
		return "unique_by_criteria"
	case ItemSemiFungibleByCriteria:
		return "semi_fungible_by_criteria"
	default:
		return "unknown"
	}
}

func (t ItemType) Valid() bool { return t <= ItemSemiFungibleByCriteria }

// IsCriteria reports whether the identifier field holds a criteria root.
func (t ItemType) IsCriteria() bool {
	return t == ItemUniqueTokenByCriteria || t == ItemSemiFungibleByCriteria
}

// Resolved maps a criteria kind to the concrete kind it settles as.
func (t ItemType) Resolved() ItemType {
	switch t {
	case ItemUniqueTokenByCriteria:
		return ItemUniqueToken
	case ItemSemiFungibleByCriteria:
		return ItemSemiFungible
	default:
		return t
	}
}

// OrderType is the partial-fill policy.
type OrderType uint8

const (
	FullOnly OrderType = iota
	PartialAllowed
)

func (t OrderType) String() string {
	if t == PartialAllowed {
		return "partial_allowed"
	}
	return "full_only"
}

type OfferItem struct {
	Type                 ItemType
	Token                common.Address
	IdentifierOrCriteria *big.Int
	StartAmount          *big.Int
	EndAmount            *big.Int
}

type ConsiderationItem struct {
	Type                 ItemType
	Token                common.Address
	IdentifierOrCriteria *big.Int
	StartAmount          *big.Int
	EndAmount            *big.Int
	Recipient            common.Address
}

// Asset identifies what moves in a transfer once criteria are resolved.
type Asset struct {
	Type       ItemType
	Token      common.Address
	Identifier *big.Int
}

// Same reports whether two assets are the same kind, token and identifier.
func (a Asset) Same(b Asset) bool {
	return a.Type == b.Type && a.Token == b.Token && bigOrZero(a.Identifier).Cmp(bigOrZero(b.Identifier)) == 0
}

type OrderParameters struct {
	Offerer                         common.Address
	Zone                            common.Address
	Offer                           []OfferItem
	Consideration                   []ConsiderationItem
	OrderType                       OrderType
	StartTime                       uint64
	EndTime                         uint64
	ZoneHash                        common.Hash
	Salt                            *big.Int
	ConduitKey                      common.Hash
	TotalOriginalConsiderationItems uint64
}

// OrderComponents is what the offerer signs: the parameters plus the
// offerer's counter at signing time.
type OrderComponents struct {
	OrderParameters
	Counter *big.Int
}

// BulkProof places an order inside a bulk signature tree.
type BulkProof struct {
	Root     common.Hash
	Index    uint32
	Siblings []common.Hash
}

type Order struct {
	Parameters OrderComponents
	Signature  []byte
	// BulkProof is set when Signature covers a bulk tree root instead of
	// the order itself.
	BulkProof *BulkProof
}

// AdvancedOrder carries the fill fraction requested for this call.
type AdvancedOrder struct {
	Order
	Numerator   uint64
	Denominator uint64
	ExtraData   []byte
}

// Full wraps an order as a 1/1 advanced order.
func Full(o Order) AdvancedOrder {
	return AdvancedOrder{Order: o, Numerator: 1, Denominator: 1}
}

// Side selects offer or consideration items.
type Side uint8

const (
	SideOffer Side = iota
	SideConsideration
)

func (s Side) String() string {
	if s == SideConsideration {
		return "consideration"
	}
	return "offer"
}

type FulfillmentComponent struct {
	OrderIndex int
	ItemIndex  int
}

type Fulfillment struct {
	OfferComponents         []FulfillmentComponent
	ConsiderationComponents []FulfillmentComponent
}

// LuckResolver is the outcome of one order's draw for the current batch.
// A zero numerator means the order sits this round out.
type LuckResolver struct {
	OrderHash   common.Hash
	Numerator   uint64
	Denominator uint64
}

// CriteriaResolver picks a concrete identifier for a criteria item and proves
// its membership in the signed criteria root.
type CriteriaResolver struct {
	OrderIndex int
	Side       Side
	Index      int
	Identifier *big.Int
	Proof      []common.Hash
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
