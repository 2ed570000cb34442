package randomness

import (
	"bytes"
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var seed = bytes.Repeat([]byte{7}, 32)

func TestRequestFulfillLifecycle(t *testing.T) {
	ctx := context.Background()
	o, err := NewOracle(seed, nil)
	require.NoError(t, err)

	token, err := o.RequestRandom(ctx, 3)
	require.NoError(t, err)

	ok, err := o.IsFulfilled(ctx, token)
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = o.RandomWords(ctx, token)
	assert.ErrorIs(t, err, ErrNotFulfilled)
	assert.Equal(t, []common.Hash{token}, o.Pending())

	var seen Fulfillment
	o.OnFulfilled = func(f Fulfillment) { seen = f }
	f, err := o.Fulfill(token)
	require.NoError(t, err)
	assert.Len(t, f.Words, 3)
	assert.Equal(t, token, seen.Token)

	ok, err = o.IsFulfilled(ctx, token)
	require.NoError(t, err)
	assert.True(t, ok)
	words, err := o.RandomWords(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, f.Words, words)
	assert.Empty(t, o.Pending())

	_, err = o.Fulfill(token)
	assert.ErrorIs(t, err, ErrAlreadyFulfilled)

	_, err = o.IsFulfilled(ctx, common.HexToHash("0x1"))
	assert.ErrorIs(t, err, ErrUnknownRequest)
	_, err = o.RequestRandom(ctx, 0)
	assert.Error(t, err)
}

func TestFulfillmentIsVerifiable(t *testing.T) {
	ctx := context.Background()
	o, err := NewOracle(seed, nil)
	require.NoError(t, err)
	token, err := o.RequestRandom(ctx, 2)
	require.NoError(t, err)
	f, err := o.Fulfill(token)
	require.NoError(t, err)

	assert.True(t, VerifyFulfillment(o.PublicKey(), f))

	tampered := f
	tampered.Words = []*big.Int{big.NewInt(1), f.Words[1]}
	assert.False(t, VerifyFulfillment(o.PublicKey(), tampered))

	other, err := NewOracle(bytes.Repeat([]byte{9}, 32), nil)
	require.NoError(t, err)
	assert.False(t, VerifyFulfillment(other.PublicKey(), f))

	// the same key signing the same token yields the same words
	again, err := NewOracle(seed, nil)
	require.NoError(t, err)
	token2, err := again.RequestRandom(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, token, token2)
	f2, err := again.Fulfill(token2)
	require.NoError(t, err)
	assert.Equal(t, f.Words, f2.Words)
}

func TestTokensAreUnique(t *testing.T) {
	o, err := NewOracle(seed, nil)
	require.NoError(t, err)
	a, err := o.RequestRandom(context.Background(), 1)
	require.NoError(t, err)
	b, err := o.RequestRandom(context.Background(), 1)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestRunFulfillsPending(t *testing.T) {
	o, err := NewOracle(seed, nil)
	require.NoError(t, err)
	token, err := o.RequestRandom(context.Background(), 1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		ok, _ := o.IsFulfilled(context.Background(), token)
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestDrawAndDeriveResolvers(t *testing.T) {
	assert.True(t, Draw(big.NewInt(3), 1, 3))
	assert.False(t, Draw(big.NewInt(4), 1, 3))
	assert.False(t, Draw(big.NewInt(4), 1, 0))

	hi := new(big.Int).Lsh(big.NewInt(5), 128)
	words := []*big.Int{
		new(big.Int).Add(hi, big.NewInt(10)), // 10 % 10 == 0 -> lucky
		big.NewInt(19),                       // 19 % 10 == 9 -> unlucky
	}
	hashes := []common.Hash{common.HexToHash("0xa"), common.HexToHash("0xb")}
	rs, err := DeriveResolvers(words, hashes, Odds{Hit: 5, OutOf: 10, Precision: 4})
	require.NoError(t, err)
	require.Len(t, rs, 2)
	assert.Equal(t, hashes[0], rs[0].OrderHash)
	assert.Equal(t, uint64(2), rs[0].Numerator) // 5 % 4 + 1
	assert.Equal(t, uint64(4), rs[0].Denominator)
	assert.Zero(t, rs[1].Numerator)

	_, err = DeriveResolvers(words[:1], hashes, Odds{Hit: 1, OutOf: 2, Precision: 2})
	assert.Error(t, err)
	_, err = DeriveResolvers(words, hashes, Odds{Hit: 3, OutOf: 2, Precision: 2})
	assert.Error(t, err)
	_, err = DeriveResolvers(words, hashes, Odds{Hit: 1, OutOf: 2})
	assert.Error(t, err)
}
