package ledger

import (
	"errors"
	"fmt"

	"github.com/cosmos/cosmos-sdk/crypto/hd"
	cryptotypes "github.com/cosmos/cosmos-sdk/crypto/types"
	sdk "github.com/cosmos/cosmos-sdk/types"
	bip39 "github.com/cosmos/go-bip39"
)

// Wallet is the process's single signing identity. Address derivation is
// deterministic: the same mnemonic and derivation path always produce the
// same account, which is what ties retirements executed here to a
// marketplace account a human can inspect.
type Wallet struct {
	priv    cryptotypes.PrivKey
	address string
}

// NewWallet derives a secp256k1 key from a BIP-39 mnemonic and a BIP-44
// derivation path and renders the account address with the given bech32
// prefix.
func NewWallet(mnemonic, derivationPath, bech32Prefix string) (*Wallet, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.New("wallet: invalid mnemonic")
	}
	derived, err := hd.Secp256k1.Derive()(mnemonic, "", derivationPath)
	if err != nil {
		return nil, fmt.Errorf("wallet: derive key: %w", err)
	}
	priv := hd.Secp256k1.Generate()(derived)
	addr, err := sdk.Bech32ifyAddressBytes(bech32Prefix, priv.PubKey().Address().Bytes())
	if err != nil {
		return nil, fmt.Errorf("wallet: encode address: %w", err)
	}
	return &Wallet{priv: priv, address: addr}, nil
}

// Address returns the bech32 account address.
func (w *Wallet) Address() string { return w.address }
