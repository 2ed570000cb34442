package gasdesk

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/luckyswap/pkg/crypto"
)

func TestAuthorizeRequest(t *testing.T) {
	domain, err := crypto.NewEIP712Signer(crypto.DefaultDomain())
	require.NoError(t, err)
	payer, err := crypto.GenerateKey()
	require.NoError(t, err)
	other, err := crypto.GenerateKey()
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	a := NewAuthorizer(domain)
	r := Request{
		Requester: payer.Address(),
		Orders:    []common.Hash{{1}, {2}},
		Payment:   big.NewInt(25),
		Deadline:  uint64(now.Unix()) + 60,
	}
	sig, err := r.Sign(domain, payer)
	require.NoError(t, err)

	// someone else's key cannot spend the payer's allowance
	forged, err := r.Sign(domain, other)
	require.NoError(t, err)
	_, err = a.Authorize(r, forged, now)
	assert.ErrorIs(t, err, ErrBadSignature)
	_, err = a.Authorize(r, []byte{1, 2, 3}, now)
	assert.ErrorIs(t, err, ErrBadSignature)

	// the signature covers every field
	tampered := r
	tampered.Payment = big.NewInt(2500)
	_, err = a.Authorize(tampered, sig, now)
	assert.ErrorIs(t, err, ErrBadSignature)

	h, err := a.Authorize(r, sig, now)
	require.NoError(t, err)
	_, err = a.Authorize(r, sig, now)
	assert.ErrorIs(t, err, ErrRequestReplayed)

	// a released request can be tried again
	a.Release(h)
	_, err = a.Authorize(r, sig, now)
	require.NoError(t, err)

	_, err = a.Authorize(r, sig, now.Add(2*time.Minute))
	assert.ErrorIs(t, err, ErrRequestExpired)

	far := r
	far.Deadline = uint64(now.Add(2 * MaxRequestLifetime).Unix())
	farSig, err := far.Sign(domain, payer)
	require.NoError(t, err)
	_, err = a.Authorize(far, farSig, now)
	assert.ErrorIs(t, err, ErrRequestExpired)
}

func TestRequestHashBindsDomain(t *testing.T) {
	r := Request{Requester: maker, Orders: []common.Hash{{7}}, Deadline: 5}
	h1, err := r.Hash()
	require.NoError(t, err)
	h2, err := r.Hash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	other := crypto.DefaultDomain()
	other.ChainID = big.NewInt(1)
	d1, err := crypto.NewEIP712Signer(crypto.DefaultDomain())
	require.NoError(t, err)
	d2, err := crypto.NewEIP712Signer(other)
	require.NoError(t, err)
	assert.NotEqual(t, d1.Digest(h1), d2.Digest(h1))

	r.Orders = append(r.Orders, common.Hash{8})
	h3, err := r.Hash()
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}
