package token

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

var storeHeader = []string{"Address", "Symbol", "Decimals", "Name"}

// Store keeps the network's token list in a flat CSV file.
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

func (s *Store) List() ([]Descriptor, error) {
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

	seen := make(map[common.Address]bool)
	out := make([]Descriptor, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if len(row) < 4 || !common.IsHexAddress(row[0]) {
			continue
		}
		addr := common.HexToAddress(row[0])
		if seen[addr] {
			continue
		}
		seen[addr] = true
		dec, err := strconv.ParseUint(row[2], 10, 8)
		if err != nil {
			continue
		}
		out = append(out, Descriptor{
			Address:  addr,
			Symbol:   row[1],
			Decimals: uint8(dec),
			Name:     row[3],
		})
	}
	return out, nil
}

func (s *Store) Append(desc Descriptor) error {
	existing, err := s.List()
	if err != nil {
		return err
	}
	for _, d := range existing {
		if d.Address == desc.Address {
			return fmt.Errorf("token %s already stored", desc.Address.Hex())
		}
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(recordOf(desc)); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func (s *Store) writeAll(descs []Descriptor) error {
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
	for _, d := range descs {
		if err := w.Write(recordOf(d)); err != nil {
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

func recordOf(d Descriptor) []string {
	return []string{d.Address.Hex(), d.Symbol, strconv.Itoa(int(d.Decimals)), d.Name}
}
