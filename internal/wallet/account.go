package wallet

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Account is one stored wallet. PrivateKey and Mnemonic are optional:
// watch-only accounts carry neither. Neither secret is ever logged in full;
// use MaskKey/MaskMnemonic for any display path.
type Account struct {
	Address    common.Address
	PrivateKey string
	Mnemonic   string
	BalanceBNB string
	LastActive time.Time
}

// CanSign reports whether the account carries a key.
func (a Account) CanSign() bool {
	return a.PrivateKey != ""
}

// MaskKey shortens a hex private key to its edges: 0x1234...abcd.
func MaskKey(key string) string {
	if key == "" {
		return ""
	}
	trimmed := strings.TrimPrefix(key, "0x")
	if len(trimmed) <= 8 {
		return "****"
	}
	return "0x" + trimmed[:4] + "..." + trimmed[len(trimmed)-4:]
}

// MaskMnemonic keeps the first and last word of a seed phrase.
func MaskMnemonic(mnemonic string) string {
	words := strings.Fields(mnemonic)
	if len(words) == 0 {
		return ""
	}
	if len(words) < 3 {
		return "****"
	}
	return words[0] + " ... " + words[len(words)-1]
}
