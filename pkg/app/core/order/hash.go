package order

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/uhyunpark/luckyswap/pkg/crypto"
)

var componentTypes = apitypes.Types{
	"OrderComponents": []apitypes.Type{
		{Name: "offerer", Type: "address"},
		{Name: "zone", Type: "address"},
		{Name: "offer", Type: "OfferItem[]"},
		{Name: "consideration", Type: "ConsiderationItem[]"},
		{Name: "orderType", Type: "uint8"},
		{Name: "startTime", Type: "uint256"},
		{Name: "endTime", Type: "uint256"},
		{Name: "zoneHash", Type: "bytes32"},
		{Name: "salt", Type: "uint256"},
		{Name: "conduitKey", Type: "bytes32"},
		{Name: "totalOriginalConsiderationItems", Type: "uint256"},
		{Name: "counter", Type: "uint256"},
	},
	"OfferItem": []apitypes.Type{
		{Name: "itemType", Type: "uint8"},
		{Name: "token", Type: "address"},
		{Name: "identifierOrCriteria", Type: "uint256"},
		{Name: "startAmount", Type: "uint256"},
		{Name: "endAmount", Type: "uint256"},
	},
	"ConsiderationItem": []apitypes.Type{
		{Name: "itemType", Type: "uint8"},
		{Name: "token", Type: "address"},
		{Name: "identifierOrCriteria", Type: "uint256"},
		{Name: "startAmount", Type: "uint256"},
		{Name: "endAmount", Type: "uint256"},
		{Name: "recipient", Type: "address"},
	},
}

// Hash returns the order hash: the EIP-712 struct hash of the components.
// It does not depend on the signing domain.
func Hash(c OrderComponents) (common.Hash, error) {
	h, err := crypto.HashStruct(componentTypes, "OrderComponents", componentsMessage(c))
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash order: %w", err)
	}
	return h, nil
}

// TypedData returns the full eth_signTypedData_v4 payload for c so wallets can
// sign it directly.
func TypedData(domain crypto.EIP712Domain, c OrderComponents) apitypes.TypedData {
	types := apitypes.Types{
		"EIP712Domain": []apitypes.Type{
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		},
	}
	for k, v := range componentTypes {
		types[k] = v
	}
	return apitypes.TypedData{
		Types:       types,
		PrimaryType: "OrderComponents",
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.VerifyingContract.Hex(),
		},
		Message: componentsMessage(c),
	}
}

func componentsMessage(c OrderComponents) apitypes.TypedDataMessage {
	offer := make([]interface{}, len(c.Offer))
	for i, it := range c.Offer {
		offer[i] = map[string]interface{}{
			"itemType":             fmt.Sprintf("%d", it.Type),
			"token":                it.Token.Hex(),
			"identifierOrCriteria": bigOrZero(it.IdentifierOrCriteria).String(),
			"startAmount":          bigOrZero(it.StartAmount).String(),
			"endAmount":            bigOrZero(it.EndAmount).String(),
		}
	}
	consideration := make([]interface{}, len(c.Consideration))
	for i, it := range c.Consideration {
		consideration[i] = map[string]interface{}{
			"itemType":             fmt.Sprintf("%d", it.Type),
			"token":                it.Token.Hex(),
			"identifierOrCriteria": bigOrZero(it.IdentifierOrCriteria).String(),
			"startAmount":          bigOrZero(it.StartAmount).String(),
			"endAmount":            bigOrZero(it.EndAmount).String(),
			"recipient":            it.Recipient.Hex(),
		}
	}
	return apitypes.TypedDataMessage{
		"offerer":                         c.Offerer.Hex(),
		"zone":                            c.Zone.Hex(),
		"offer":                           offer,
		"consideration":                   consideration,
		"orderType":                       fmt.Sprintf("%d", c.OrderType),
		"startTime":                       fmt.Sprintf("%d", c.StartTime),
		"endTime":                         fmt.Sprintf("%d", c.EndTime),
		"zoneHash":                        c.ZoneHash.Hex(),
		"salt":                            bigOrZero(c.Salt).String(),
		"conduitKey":                      c.ConduitKey.Hex(),
		"totalOriginalConsiderationItems": fmt.Sprintf("%d", c.TotalOriginalConsiderationItems),
		"counter":                         bigOrZero(c.Counter).String(),
	}
}
