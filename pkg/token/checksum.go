package token

import (
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// Checksum returns the EIP-55 checksummed hex form of a token address,
// used for display; all internal equality and map-key comparisons stay
// case-insensitive (see Key).
func Checksum(addr common.Address) string {
	return checksum(addr.Bytes())
}

// Key returns the case-insensitive comparison key for a token address.
func Key(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

func checksum(addr20 []byte) string {
	lower := hex.EncodeToString(addr20)
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lower))
	hash := h.Sum(nil)

	out := make([]byte, 2+len(lower))
	copy(out, "0x")
	for i, c := range []byte(lower) {
		if c < '0' || c > '9' {
			var nibble byte
			if i%2 == 0 {
				nibble = (hash[i>>1] >> 4) & 0x0f
			} else {
				nibble = hash[i>>1] & 0x0f
			}
			if nibble >= 8 {
				c = c - 'a' + 'A'
			}
		}
		out[2+i] = c
	}
	return string(out)
}
