package token

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Descriptor is the stored shape of a token: enough to display it and to
// scale raw integer balances into human-readable amounts.
type Descriptor struct {
	Address  common.Address
	Symbol   string
	Name     string
	Decimals uint8
}

// StandardABI is the minimal ERC-20 interface as ABI JSON. It serves as the
// binding of last resort for contracts whose source the explorer cannot
// verify.
const StandardABI = `[
  {"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
  {"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"transferFrom","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

var (
	selectorBalanceOf    = mustSelector("0x70a08231")
	selectorDecimals     = mustSelector("0x313ce567")
	selectorSymbol       = mustSelector("0x95d89b41")
	selectorName         = mustSelector("0x06fdde03")
	selectorTransfer     = mustSelector("0xa9059cbb")
	selectorApprove      = mustSelector("0x095ea7b3")
	selectorAllowance    = mustSelector("0xdd62ed3e")
	selectorTransferFrom = mustSelector("0x23b872dd")
)

func BalanceOfCallData(owner common.Address) []byte {
	data := append([]byte{}, selectorBalanceOf...)
	return append(data, encodeAddress(owner)...)
}

func DecimalsCallData() []byte {
	return append([]byte{}, selectorDecimals...)
}

func SymbolCallData() []byte {
	return append([]byte{}, selectorSymbol...)
}

func NameCallData() []byte {
	return append([]byte{}, selectorName...)
}

func TransferCallData(to common.Address, amount *big.Int) ([]byte, error) {
	arg1, err := encodeUint256(amount)
	if err != nil {
		return nil, fmt.Errorf("amount: %w", err)
	}
	data := append([]byte{}, selectorTransfer...)
	data = append(data, encodeAddress(to)...)
	return append(data, arg1...), nil
}

func ApproveCallData(spender common.Address, amount *big.Int) ([]byte, error) {
	arg1, err := encodeUint256(amount)
	if err != nil {
		return nil, fmt.Errorf("amount: %w", err)
	}
	data := append([]byte{}, selectorApprove...)
	data = append(data, encodeAddress(spender)...)
	return append(data, arg1...), nil
}

func AllowanceCallData(owner, spender common.Address) []byte {
	data := append([]byte{}, selectorAllowance...)
	data = append(data, encodeAddress(owner)...)
	return append(data, encodeAddress(spender)...)
}

func TransferFromCallData(from, to common.Address, amount *big.Int) ([]byte, error) {
	arg2, err := encodeUint256(amount)
	if err != nil {
		return nil, fmt.Errorf("amount: %w", err)
	}
	data := append([]byte{}, selectorTransferFrom...)
	data = append(data, encodeAddress(from)...)
	data = append(data, encodeAddress(to)...)
	return append(data, arg2...), nil
}

// DecodeUint256 reads a single uint256 return value.
func DecodeUint256(data []byte) (*big.Int, error) {
	if len(data) < 32 {
		return nil, fmt.Errorf("return data too short: %d bytes", len(data))
	}
	return new(big.Int).SetBytes(data[:32]), nil
}

// DecodeString reads a single ABI-encoded dynamic string return value.
func DecodeString(data []byte) (string, error) {
	if len(data) < 64 {
		return "", fmt.Errorf("return data too short: %d bytes", len(data))
	}
	// Offset and length are attacker controlled 256-bit values. Compare by
	// subtracting from the known size instead of adding to them, so a value
	// near 2^64 cannot wrap around the bound check.
	offset := new(big.Int).SetBytes(data[:32])
	if !offset.IsUint64() || offset.Uint64() > uint64(len(data))-32 {
		return "", errors.New("invalid string offset")
	}
	start := offset.Uint64()
	length := new(big.Int).SetBytes(data[start : start+32])
	if !length.IsUint64() || length.Uint64() > uint64(len(data))-start-32 {
		return "", errors.New("invalid string length")
	}
	return string(data[start+32 : start+32+length.Uint64()]), nil
}

// ParseUnits converts a human-readable decimal amount into raw integer
// units, e.g. ("1.23", 6) -> 1230000.
func ParseUnits(amount string, decimals uint8) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, errors.New("amount is empty")
	}
	if strings.HasPrefix(amount, "-") {
		return nil, errors.New("amount must be non-negative")
	}
	parts := strings.SplitN(amount, ".", 2)
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if intPart == "" {
		intPart = "0"
	}
	if len(fracPart) > int(decimals) {
		return nil, fmt.Errorf("too many decimal places: %d > %d", len(fracPart), decimals)
	}
	fracPart = fracPart + strings.Repeat("0", int(decimals)-len(fracPart))
	combined := strings.TrimLeft(intPart+fracPart, "0")
	if combined == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(combined, 10)
	if !ok {
		return nil, errors.New("invalid number format")
	}
	return v, nil
}

// FormatUnits is the inverse of ParseUnits: raw integer units to a decimal
// string, with trailing fraction zeros trimmed.
func FormatUnits(raw *big.Int, decimals uint8) string {
	if raw == nil {
		return "0"
	}
	s := raw.String()
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	d := int(decimals)
	if len(s) <= d {
		s = strings.Repeat("0", d-len(s)+1) + s
	}
	intPart := s[:len(s)-d]
	fracPart := strings.TrimRight(s[len(s)-d:], "0")
	out := intPart
	if fracPart != "" {
		out += "." + fracPart
	}
	if neg {
		out = "-" + out
	}
	return out
}

func encodeUint256(v *big.Int) ([]byte, error) {
	if v == nil {
		return nil, errors.New("value is nil")
	}
	if v.Sign() < 0 {
		return nil, errors.New("value must be non-negative")
	}
	return common.LeftPadBytes(v.Bytes(), 32), nil
}

func encodeAddress(addr common.Address) []byte {
	return common.LeftPadBytes(addr.Bytes(), 32)
}

func mustSelector(hex string) []byte {
	b, err := hexutil.Decode(hex)
	if err != nil {
		panic(err)
	}
	if len(b) != 4 {
		panic("selector must be 4 bytes")
	}
	return b
}
