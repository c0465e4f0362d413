// Package oracle implements a deterministic per-token unit-value
// function used to bootstrap synthetic prices, and a per-pair dynamic
// price state updated by registered trades.
package oracle

import (
	"crypto/sha256"
	"encoding/binary"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/openbookdex/engine/pkg/token"
)

const (
	uvMin = 1e-12
	uvMax = 1e12
)

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// UnitValues memoizes m(T) per token address so unit value is a pure,
// cheap lookup after the first call.
type UnitValues struct {
	mu  sync.Mutex
	m   map[string]float64
	dir token.Directory
}

func NewUnitValues(dir token.Directory) *UnitValues {
	return &UnitValues{m: make(map[string]float64), dir: dir}
}

func (u *UnitValues) Invalidate(addr common.Address) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.m, token.Key(addr))
}

func (u *UnitValues) Clear() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.m = make(map[string]float64)
}

// multiplier computes m(T) = (0.5+f) * (1 + (len(symbol) mod 5)*0.05),
// f = hi32(SHA-256(addr|SYMBOL|NAME)) / 2^32, memoized per address.
func (u *UnitValues) multiplier(addr common.Address, symbol, name string) float64 {
	key := token.Key(addr)

	u.mu.Lock()
	if v, ok := u.m[key]; ok {
		u.mu.Unlock()
		return v
	}
	u.mu.Unlock()

	h := sha256.New()
	h.Write(addr.Bytes())
	h.Write([]byte(symbol))
	h.Write([]byte(name))
	sum := h.Sum(nil)
	hi32 := binary.BigEndian.Uint32(sum[:4])
	f := float64(hi32) / float64(uint64(1)<<32)

	m := (0.5 + f) * (1 + float64(len(symbol)%5)*0.05)

	u.mu.Lock()
	u.m[key] = m
	u.mu.Unlock()
	return m
}

// Value computes uv(T) = clamp(m(T) * base(T), 1e-12, 1e12), where
// base(T) = 1/totalSupply(T) when totalSupply is known and positive,
// else 1.
func (u *UnitValues) Value(addr common.Address) float64 {
	symbol, name := addr.Hex(), addr.Hex()
	var base float64 = 1
	if u.dir != nil {
		if meta, ok := u.dir.Metadata(addr); ok {
			if meta.Symbol != "" {
				symbol = meta.Symbol
			}
			if meta.Name != "" {
				name = meta.Name
			}
			if meta.TotalSupply != nil && meta.TotalSupply.Sign() > 0 {
				ts, _ := new(big.Float).SetInt(meta.TotalSupply).Float64()
				if ts > 0 {
					base = 1 / ts
				}
			}
		}
	}
	m := u.multiplier(addr, symbol, name)
	return clamp(m*base, uvMin, uvMax)
}
