package wallet

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"
)

// The standard Ethereum account path, m/44'/60'/0'/0/0. Matches what
// MetaMask and Trust Wallet derive for the first account.
var derivationPath = []uint32{
	bip32.FirstHardenedChild + 44,
	bip32.FirstHardenedChild + 60,
	bip32.FirstHardenedChild + 0,
	0,
	0,
}

// Create generates a fresh 12-word mnemonic and derives its first account.
func Create() (Account, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return Account{}, fmt.Errorf("entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return Account{}, fmt.Errorf("mnemonic: %w", err)
	}
	return ImportMnemonic(mnemonic)
}

// ImportMnemonic derives the first account from an existing seed phrase.
func ImportMnemonic(mnemonic string) (Account, error) {
	mnemonic = strings.TrimSpace(mnemonic)
	if !bip39.IsMnemonicValid(mnemonic) {
		return Account{}, fmt.Errorf("invalid mnemonic")
	}
	key, err := deriveKey(mnemonic)
	if err != nil {
		return Account{}, err
	}
	return Account{
		Address:    crypto.PubkeyToAddress(key.PublicKey),
		PrivateKey: "0x" + hex.EncodeToString(crypto.FromECDSA(key)),
		Mnemonic:   mnemonic,
		LastActive: time.Now().UTC(),
	}, nil
}

// ImportKey builds an account from a bare hex private key.
func ImportKey(hexKey string) (Account, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return Account{}, fmt.Errorf("parse private key: %w", err)
	}
	return Account{
		Address:    crypto.PubkeyToAddress(key.PublicKey),
		PrivateKey: "0x" + hex.EncodeToString(crypto.FromECDSA(key)),
		LastActive: time.Now().UTC(),
	}, nil
}

func deriveKey(mnemonic string) (*ecdsa.PrivateKey, error) {
	seed := bip39.NewSeed(mnemonic, "")
	node, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("master key: %w", err)
	}
	for _, segment := range derivationPath {
		node, err = node.NewChildKey(segment)
		if err != nil {
			return nil, fmt.Errorf("derive child: %w", err)
		}
	}
	key, err := crypto.ToECDSA(node.Key)
	if err != nil {
		return nil, fmt.Errorf("derived key: %w", err)
	}
	return key, nil
}
