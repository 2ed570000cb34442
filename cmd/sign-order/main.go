package main

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/uhyunpark/luckyswap/params"
	"github.com/uhyunpark/luckyswap/pkg/api"
	"github.com/uhyunpark/luckyswap/pkg/app/core/gasdesk"
	"github.com/uhyunpark/luckyswap/pkg/app/core/order"
	"github.com/uhyunpark/luckyswap/pkg/crypto"
)

// sign-order prints a signed sample listing (one NFT for one native coin)
// and a signed fee request for it, ready to post to a node. SIGNER_KEY selects the key; otherwise a fresh one
// is generated. The EIP-712 domain comes from the same DOMAIN_* settings the
// node reads.
func main() {
	cfg, err := params.LoadFromEnv("")
	if err != nil {
		fail("config", err)
	}

	// Step 1: Generate or load key
	var signer *crypto.Signer
	if key := os.Getenv("SIGNER_KEY"); key != "" {
		signer, err = crypto.FromPrivateKeyHex(key)
	} else {
		fmt.Println("Generating new keypair...")
		signer, err = crypto.GenerateKey()
	}
	if err != nil {
		fail("key", err)
	}
	fmt.Printf("Address: %s\n", signer.Address().Hex())
	fmt.Printf("Private Key: %s (KEEP SECRET!)\n\n", signer.PrivateKeyHex())

	// Step 2: Build the listing
	now := uint64(time.Now().Unix())
	nft := common.HexToAddress("0x00000000000000000000000000000000000000e1")
	price := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	c := order.OrderComponents{
		OrderParameters: order.OrderParameters{
			Offerer: signer.Address(),
			Offer: []order.OfferItem{{
				Type:                 order.ItemUniqueToken,
				Token:                nft,
				IdentifierOrCriteria: big.NewInt(1),
				StartAmount:          big.NewInt(1),
				EndAmount:            big.NewInt(1),
			}},
			Consideration: []order.ConsiderationItem{{
				Type:                 order.ItemNative,
				IdentifierOrCriteria: new(big.Int),
				StartAmount:          price,
				EndAmount:            price,
				Recipient:            signer.Address(),
			}},
			OrderType:                       order.FullOnly,
			StartTime:                       now,
			EndTime:                         now + 24*3600,
			Salt:                            big.NewInt(time.Now().UnixNano()),
			TotalOriginalConsiderationItems: 1,
		},
		Counter: new(big.Int),
	}

	fmt.Println("Listing:")
	fmt.Printf("  Offer: %s #1 (%s)\n", nft.Hex(), order.ItemUniqueToken)
	fmt.Printf("  Price: %s wei\n", price)
	fmt.Printf("  Valid: %d .. %d\n\n", c.StartTime, c.EndTime)

	// Step 3: Sign with EIP-712
	es, err := crypto.NewEIP712Signer(cfg.Domain.EIP712())
	if err != nil {
		fail("domain", err)
	}
	signed, err := order.Sign(es, signer, c)
	if err != nil {
		fail("sign", err)
	}
	orderHash, err := order.Hash(c)
	if err != nil {
		fail("hash", err)
	}
	fmt.Printf("Order hash: %s\n", orderHash.Hex())
	fmt.Printf("Signature: 0x%x\n\n", signed.Signature)

	// Step 4: Verify
	recovered, err := es.RecoverStructSigner(orderHash, signed.Signature)
	if err != nil {
		fail("verify", err)
	}
	if recovered != signer.Address() {
		fmt.Println("✗ Signature INVALID")
		os.Exit(1)
	}
	fmt.Println("✓ Signature VALID")
	fmt.Println()

	// Step 5: Show how to submit to API
	body, err := json.MarshalIndent(api.ValidateRequest{Orders: []api.Order{api.NewOrder(signed)}}, "", "  ")
	if err != nil {
		fail("json", err)
	}
	fmt.Println("To pre-validate this order:")
	fmt.Println("  POST http://localhost" + cfg.API.Addr + "/api/v1/orders/validate")
	fmt.Println("  Content-Type: application/json")
	fmt.Println("  Body:")
	fmt.Println(string(body))
	fmt.Println()

	// Step 6: Sign a fee request so the operator picks the order up
	fee, err := cfg.Desk.FeeWei()
	if err != nil {
		fail("fee", err)
	}
	req := gasdesk.Request{
		Requester: signer.Address(),
		Orders:    []common.Hash{orderHash},
		Payment:   fee,
		Deadline:  uint64(time.Now().Add(10 * time.Minute).Unix()),
	}
	reqSig, err := req.Sign(es, signer)
	if err != nil {
		fail("sign request", err)
	}
	body, err = json.MarshalIndent(api.MatchFeeRequest{
		Requester: req.Requester,
		Orders:    req.Orders,
		Payment:   (*math.HexOrDecimal256)(req.Payment),
		Deadline:  req.Deadline,
		Signature: reqSig,
	}, "", "  ")
	if err != nil {
		fail("json", err)
	}
	fmt.Println("To pay the match fee (valid for 10 minutes):")
	fmt.Println("  POST http://localhost" + cfg.API.Addr + "/api/v1/requests")
	fmt.Println("  Body:")
	fmt.Println(string(body))
}

func fail(step string, err error) {
	fmt.Printf("Error (%s): %v\n", step, err)
	os.Exit(1)
}
