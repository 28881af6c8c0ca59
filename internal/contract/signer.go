package contract

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tribal-authentica/maskauth/pkg/utils"
)

// Signer holds the validator key used for contract writes
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
}

// NewSigner loads a hex encoded private key for the given chain
func NewSigner(hexKey string, chainID int64) (*Signer, error) {
	key, err := utils.ParsePrivateKey(hexKey)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeWallet, "Invalid validator private key", err.Error())
	}

	return &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: big.NewInt(chainID),
	}, nil
}

// Address returns the account the signer sends from
func (s *Signer) Address() common.Address {
	return s.address
}

// ChainID returns the chain the signer signs for
func (s *Signer) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

// SignTx signs tx for the configured chain
func (s *Signer) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
}
