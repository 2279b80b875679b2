package token

import (
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestParseUnits(t *testing.T) {
	cases := []struct {
		amount   string
		decimals uint8
		want     string
	}{
		{"1", 18, "1000000000000000000"},
		{"1.5", 18, "1500000000000000000"},
		{"0.000000000000000001", 18, "1"},
		{"1.23", 6, "1230000"},
		{"0", 18, "0"},
		{".5", 6, "500000"},
		{"1000000", 0, "1000000"},
	}
	for _, tc := range cases {
		got, err := ParseUnits(tc.amount, tc.decimals)
		if err != nil {
			t.Errorf("ParseUnits(%q, %d): %v", tc.amount, tc.decimals, err)
			continue
		}
		if got.String() != tc.want {
			t.Errorf("ParseUnits(%q, %d) = %s, want %s", tc.amount, tc.decimals, got, tc.want)
		}
	}
}

func TestParseUnitsRejects(t *testing.T) {
	for _, amount := range []string{"", "-1", "1.2345678", "abc", "1.2.3"} {
		if _, err := ParseUnits(amount, 6); err == nil {
			t.Errorf("ParseUnits(%q) should fail", amount)
		}
	}
}

func TestFormatUnits(t *testing.T) {
	cases := []struct {
		raw      string
		decimals uint8
		want     string
	}{
		{"1000000000000000000", 18, "1"},
		{"1500000000000000000", 18, "1.5"},
		{"1", 18, "0.000000000000000001"},
		{"1230000", 6, "1.23"},
		{"0", 18, "0"},
		{"-1500000", 6, "-1.5"},
		{"42", 0, "42"},
	}
	for _, tc := range cases {
		raw, _ := new(big.Int).SetString(tc.raw, 10)
		if got := FormatUnits(raw, tc.decimals); got != tc.want {
			t.Errorf("FormatUnits(%s, %d) = %q, want %q", tc.raw, tc.decimals, got, tc.want)
		}
	}
	if got := FormatUnits(nil, 18); got != "0" {
		t.Errorf("FormatUnits(nil) = %q, want 0", got)
	}
}

func TestParseFormatRoundTrip(t *testing.T) {
	for _, amount := range []string{"1", "1.5", "0.001", "123456.789"} {
		raw, err := ParseUnits(amount, 18)
		if err != nil {
			t.Fatalf("ParseUnits(%q): %v", amount, err)
		}
		if got := FormatUnits(raw, 18); got != amount {
			t.Errorf("round trip %q -> %q", amount, got)
		}
	}
}

func TestBalanceOfCallData(t *testing.T) {
	owner := common.HexToAddress("0x1111111111111111111111111111111111111111")
	got := hex.EncodeToString(BalanceOfCallData(owner))
	want := "70a082310000000000000000000000001111111111111111111111111111111111111111"
	if got != want {
		t.Fatalf("balanceOf calldata = %s, want %s", got, want)
	}
}

func TestTransferCallData(t *testing.T) {
	to := common.HexToAddress("0x2222222222222222222222222222222222222222")
	data, err := TransferCallData(to, big.NewInt(1000))
	if err != nil {
		t.Fatalf("TransferCallData: %v", err)
	}
	got := hex.EncodeToString(data)
	want := "a9059cbb" +
		"0000000000000000000000002222222222222222222222222222222222222222" +
		"00000000000000000000000000000000000000000000000000000000000003e8"
	if got != want {
		t.Fatalf("transfer calldata = %s, want %s", got, want)
	}

	if _, err := TransferCallData(to, big.NewInt(-1)); err == nil {
		t.Fatalf("negative amount should fail")
	}
	if _, err := TransferCallData(to, nil); err == nil {
		t.Fatalf("nil amount should fail")
	}
}

func TestAllowanceCallData(t *testing.T) {
	owner := common.HexToAddress("0x3333333333333333333333333333333333333333")
	spender := common.HexToAddress("0x4444444444444444444444444444444444444444")
	got := hex.EncodeToString(AllowanceCallData(owner, spender))
	want := "dd62ed3e" +
		"0000000000000000000000003333333333333333333333333333333333333333" +
		"0000000000000000000000004444444444444444444444444444444444444444"
	if got != want {
		t.Fatalf("allowance calldata = %s, want %s", got, want)
	}
}

func TestDecodeUint256(t *testing.T) {
	data := common.LeftPadBytes(big.NewInt(77).Bytes(), 32)
	v, err := DecodeUint256(data)
	if err != nil {
		t.Fatalf("DecodeUint256: %v", err)
	}
	if v.Int64() != 77 {
		t.Fatalf("got %s, want 77", v)
	}
	if _, err := DecodeUint256([]byte{1, 2, 3}); err == nil {
		t.Fatalf("short data should fail")
	}
}

func TestDecodeString(t *testing.T) {
	// offset 32, length 4, "PEPE" padded to a word.
	data := make([]byte, 96)
	data[31] = 32
	data[63] = 4
	copy(data[64:], "PEPE")

	s, err := DecodeString(data)
	if err != nil {
		t.Fatalf("DecodeString: %v", err)
	}
	if s != "PEPE" {
		t.Fatalf("got %q, want PEPE", s)
	}

	if _, err := DecodeString(data[:40]); err == nil {
		t.Fatalf("short data should fail")
	}
	bad := make([]byte, 64)
	bad[31] = 200 // offset past the end
	if _, err := DecodeString(bad); err == nil {
		t.Fatalf("bad offset should fail")
	}
}

func TestDecodeStringHostileHeader(t *testing.T) {
	// An offset close to 2^64 must be rejected, not wrapped around into a
	// slice panic.
	wrap := make([]byte, 96)
	huge := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 64), big.NewInt(16))
	copy(wrap[:32], common.LeftPadBytes(huge.Bytes(), 32))
	if _, err := DecodeString(wrap); err == nil {
		t.Fatalf("near-max offset should fail")
	}

	// Same for the length word: valid offset, absurd length.
	long := make([]byte, 96)
	long[31] = 32
	copy(long[32:64], common.LeftPadBytes(huge.Bytes(), 32))
	if _, err := DecodeString(long); err == nil {
		t.Fatalf("near-max length should fail")
	}

	// A full 256-bit word fails the IsUint64 gate in both positions.
	over := make([]byte, 96)
	for i := 0; i < 32; i++ {
		over[i] = 0xff
	}
	if _, err := DecodeString(over); err == nil {
		t.Fatalf("oversized offset should fail")
	}
}
