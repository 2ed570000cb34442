// Package randomness is the verifiable-randomness collaborator. The engine
// only asks whether a token has been fulfilled; callers read the words and
// derive luck resolvers from them.
package randomness

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrUnknownRequest   = errors.New("unknown randomness request")
	ErrNotFulfilled     = errors.New("randomness request not fulfilled")
	ErrAlreadyFulfilled = errors.New("randomness request already fulfilled")
)

// Source issues randomness tokens and reports their fulfillment.
type Source interface {
	RequestRandom(ctx context.Context, numWords uint32) (common.Hash, error)
	IsFulfilled(ctx context.Context, token common.Hash) (bool, error)
	RandomWords(ctx context.Context, token common.Hash) ([]*big.Int, error)
}
