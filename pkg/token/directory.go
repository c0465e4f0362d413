package token

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultDecimals is used whenever a token's decimals are unknown.
const DefaultDecimals = 18

// Metadata mirrors the external token directory collaborator's
// getMetadata(address) response.
type Metadata struct {
	Name        string
	Symbol      string
	Decimals    uint8
	TotalSupply *big.Int // nil when unknown
	Issuer      common.Address
}

// Directory is the consumed token-metadata collaborator interface. The
// core only reads it (MemoryDirectory below is the implementation in
// this module); the core never persists token metadata itself.
type Directory interface {
	Metadata(addr common.Address) (Metadata, bool)
}

// MemoryDirectory is a minimal in-memory Directory, used by cmd/dexd for
// local operation and by tests; it is not a production persistence
// layer.
type MemoryDirectory struct {
	mu   sync.RWMutex
	byID map[string]Metadata
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{byID: make(map[string]Metadata)}
}

func (d *MemoryDirectory) Register(addr common.Address, m Metadata) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byID[Key(addr)] = m
}

func (d *MemoryDirectory) Metadata(addr common.Address) (Metadata, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.byID[Key(addr)]
	return m, ok
}

// Decimals resolves a token's decimals via dir, defaulting to 18 when
// dir is nil or the token is unknown.
func Decimals(dir Directory, addr common.Address) uint8 {
	if dir == nil {
		return DefaultDecimals
	}
	m, ok := dir.Metadata(addr)
	if !ok {
		return DefaultDecimals
	}
	return m.Decimals
}
