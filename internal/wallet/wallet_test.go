package wallet

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

// Key 0x...01 and its well-known address.
const (
	testKeyHex  = "0000000000000000000000000000000000000000000000000000000000000001"
	testKeyAddr = "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf"
)

// The BIP-39 reference mnemonic and its m/44'/60'/0'/0/0 address.
const (
	vectorMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	vectorAddress  = "0x9858EfFD232B4033E47d90003D41EC34EcaEda94"
)

func TestSignerAddressAndSigning(t *testing.T) {
	s, err := NewSigner("0x"+testKeyHex, big.NewInt(97))
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress(testKeyAddr), s.Address())

	to := common.HexToAddress("0x1")
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    0,
		GasPrice: big.NewInt(1e9),
		Gas:      21000,
		To:       &to,
		Value:    big.NewInt(1),
	})
	signed, err := s.SignTx(tx)
	require.NoError(t, err)

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(97)), signed)
	require.NoError(t, err)
	require.Equal(t, s.Address(), sender)
}

func TestNewSignerRejectsGarbage(t *testing.T) {
	_, err := NewSigner("not-a-key", big.NewInt(97))
	require.Error(t, err)
	_, err = NewSigner(testKeyHex, nil)
	require.Error(t, err)
}

func TestImportMnemonicVector(t *testing.T) {
	acct, err := ImportMnemonic(vectorMnemonic)
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress(vectorAddress), acct.Address)
	require.NotEmpty(t, acct.PrivateKey)
	require.Equal(t, vectorMnemonic, acct.Mnemonic)
}

func TestImportMnemonicRejectsInvalid(t *testing.T) {
	_, err := ImportMnemonic("definitely not twelve valid words")
	require.Error(t, err)
}

func TestCreateRoundTrips(t *testing.T) {
	acct, err := Create()
	require.NoError(t, err)
	require.True(t, acct.CanSign())

	// The mnemonic must re-derive the same account.
	again, err := ImportMnemonic(acct.Mnemonic)
	require.NoError(t, err)
	require.Equal(t, acct.Address, again.Address)
	require.Equal(t, acct.PrivateKey, again.PrivateKey)
}

func TestImportKey(t *testing.T) {
	acct, err := ImportKey(testKeyHex)
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress(testKeyAddr), acct.Address)
	require.Empty(t, acct.Mnemonic)
}

func TestMasking(t *testing.T) {
	require.Equal(t, "0x1234...abcd", MaskKey("0x12345678deadbeefabcd"))
	require.Equal(t, "****", MaskKey("0xabcd"))
	require.Equal(t, "", MaskKey(""))
	require.Equal(t, "apple ... zebra", MaskMnemonic("apple banana zebra"))
	require.Equal(t, "****", MaskMnemonic("two words"))
}

func storePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "wallets.csv")
}

func TestStoreAppendListUpdate(t *testing.T) {
	s, err := NewStore(storePath(t))
	require.NoError(t, err)

	acct := Account{
		Address:    common.HexToAddress(testKeyAddr),
		PrivateKey: "0x" + testKeyHex,
		LastActive: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.Append(acct))
	require.Error(t, s.Append(acct), "duplicate append must fail")

	got, err := s.Find(acct.Address)
	require.NoError(t, err)
	require.Equal(t, acct.PrivateKey, got.PrivateKey)

	// A balance refresh with no key must not wipe the stored key.
	require.NoError(t, s.Update(Account{Address: acct.Address, BalanceBNB: "1.25"}))
	got, err = s.Find(acct.Address)
	require.NoError(t, err)
	require.Equal(t, "1.25", got.BalanceBNB)
	require.Equal(t, acct.PrivateKey, got.PrivateKey)
}

func TestStoreReconcilesOldSchema(t *testing.T) {
	path := storePath(t)
	// Old file: reordered columns, a stray extra column, no mnemonic.
	old := "address,extra,privatekey\n" +
		testKeyAddr + ",junk,0x" + testKeyHex + "\n"
	require.NoError(t, os.WriteFile(path, []byte(old), 0o644))

	s, err := NewStore(path)
	require.NoError(t, err)
	accounts, err := s.List()
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	require.Equal(t, common.HexToAddress(testKeyAddr), accounts[0].Address)
	require.Equal(t, "0x"+testKeyHex, accounts[0].PrivateKey)
	require.Empty(t, accounts[0].Mnemonic)
}

func TestStoreMergesDuplicateRows(t *testing.T) {
	path := storePath(t)
	content := "Address,PrivateKey,Mnemonic,BalanceBNB,LastActive\n" +
		testKeyAddr + ",,,0.5,\n" +
		testKeyAddr + ",0x" + testKeyHex + ",,,2024-01-02T00:00:00Z\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	s, err := NewStore(path)
	require.NoError(t, err)
	accounts, err := s.List()
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	require.Equal(t, "0x"+testKeyHex, accounts[0].PrivateKey)
	require.Equal(t, "0.5", accounts[0].BalanceBNB)
	require.Equal(t, 2024, accounts[0].LastActive.Year())
}

func TestStoreSkipsMalformedRows(t *testing.T) {
	path := storePath(t)
	content := "Address,PrivateKey,Mnemonic,BalanceBNB,LastActive\n" +
		"not-an-address,x,,,\n" +
		testKeyAddr + ",,,,\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	s, err := NewStore(path)
	require.NoError(t, err)
	accounts, err := s.List()
	require.NoError(t, err)
	require.Len(t, accounts, 1)
}
