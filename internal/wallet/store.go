package wallet

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var storeHeader = []string{"Address", "PrivateKey", "Mnemonic", "BalanceBNB", "LastActive"}

// Store persists accounts in a CSV file. Loading is tolerant of older
// files: missing columns come back empty, unknown columns are dropped, and
// rows sharing an address are merged (first row wins, later rows fill gaps).
// Every write rewrites the whole file atomically with the canonical header.
type Store struct {
	path string
}

func NewStore(path string) (*Store, error) {
	s := &Store{path: path}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := s.writeAll(nil); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) List() ([]Account, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	// Map whatever header the file has onto the canonical column set.
	colIdx := make(map[string]int)
	for i, name := range rows[0] {
		colIdx[strings.ToLower(strings.TrimSpace(name))] = i
	}
	field := func(row []string, name string) string {
		i, ok := colIdx[strings.ToLower(name)]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	byAddr := make(map[common.Address]int)
	var out []Account
	for _, row := range rows[1:] {
		addrStr := field(row, "Address")
		if !common.IsHexAddress(addrStr) {
			continue
		}
		acct := Account{
			Address:    common.HexToAddress(addrStr),
			PrivateKey: field(row, "PrivateKey"),
			Mnemonic:   field(row, "Mnemonic"),
			BalanceBNB: field(row, "BalanceBNB"),
		}
		if ts := field(row, "LastActive"); ts != "" {
			if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
				acct.LastActive = parsed
			}
		}
		if i, seen := byAddr[acct.Address]; seen {
			out[i] = merge(out[i], acct)
			continue
		}
		byAddr[acct.Address] = len(out)
		out = append(out, acct)
	}
	return out, nil
}

// merge keeps the first record and fills its empty fields from a duplicate.
func merge(first, dup Account) Account {
	if first.PrivateKey == "" {
		first.PrivateKey = dup.PrivateKey
	}
	if first.Mnemonic == "" {
		first.Mnemonic = dup.Mnemonic
	}
	if first.BalanceBNB == "" {
		first.BalanceBNB = dup.BalanceBNB
	}
	if dup.LastActive.After(first.LastActive) {
		first.LastActive = dup.LastActive
	}
	return first
}

// Find returns the stored account for an address.
func (s *Store) Find(addr common.Address) (Account, error) {
	accounts, err := s.List()
	if err != nil {
		return Account{}, err
	}
	for _, a := range accounts {
		if a.Address == addr {
			return a, nil
		}
	}
	return Account{}, fmt.Errorf("no wallet stored for %s", addr.Hex())
}

// Append stores a new account. Re-adding an existing address is an error;
// use Update for that.
func (s *Store) Append(acct Account) error {
	accounts, err := s.List()
	if err != nil {
		return err
	}
	for _, a := range accounts {
		if a.Address == acct.Address {
			return fmt.Errorf("wallet %s already stored", acct.Address.Hex())
		}
	}
	return s.writeAll(append(accounts, acct))
}

// Update replaces the stored record for the account's address. Empty fields
// in the update keep their stored values, so a balance refresh cannot wipe a
// key.
func (s *Store) Update(acct Account) error {
	accounts, err := s.List()
	if err != nil {
		return err
	}
	for i, a := range accounts {
		if a.Address == acct.Address {
			accounts[i] = merge(acct, a)
			return s.writeAll(accounts)
		}
	}
	return fmt.Errorf("no wallet stored for %s", acct.Address.Hex())
}

func (s *Store) writeAll(accounts []Account) error {
	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(storeHeader); err != nil {
		f.Close()
		return err
	}
	for _, a := range accounts {
		ts := ""
		if !a.LastActive.IsZero() {
			ts = a.LastActive.UTC().Format(time.RFC3339)
		}
		row := []string{a.Address.Hex(), a.PrivateKey, a.Mnemonic, a.BalanceBNB, ts}
		if err := w.Write(row); err != nil {
			f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
