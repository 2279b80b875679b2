package balance

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ProblemAddressSet remembers token contracts whose balance reads failed or
// returned garbage, so later batches stop paying for them. Adding an address
// twice is a no-op.
type ProblemAddressSet struct {
	mu  sync.Mutex
	set map[common.Address]struct{}
}

func NewProblemAddressSet() *ProblemAddressSet {
	return &ProblemAddressSet{set: make(map[common.Address]struct{})}
}

func (p *ProblemAddressSet) Add(addr common.Address) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.set[addr] = struct{}{}
}

func (p *ProblemAddressSet) Contains(addr common.Address) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.set[addr]
	return ok
}

func (p *ProblemAddressSet) Remove(addr common.Address) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.set, addr)
}

func (p *ProblemAddressSet) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.set)
}
