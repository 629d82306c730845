package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// TxSigner signs transactions for the operator wallet on one chain.
type TxSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	signer     types.Signer
	chainID    *big.Int
}

// NewTxSigner parses a hex secp256k1 key (0x prefix optional) for chainID.
func NewTxSigner(privateKeyHex string, chainID *big.Int) (*TxSigner, error) {
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("crypto/signer: chain id must be positive")
	}
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &TxSigner{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		signer:     types.LatestSignerForChainID(chainID),
		chainID:    new(big.Int).Set(chainID),
	}, nil
}

// Address returns the operator address.
func (s *TxSigner) Address() common.Address {
	return s.address
}

// ChainID returns the chain the signer is bound to.
func (s *TxSigner) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

// SignTx signs tx with the operator key.
func (s *TxSigner) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, s.signer, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: sign tx: %w", err)
	}
	return signed, nil
}
