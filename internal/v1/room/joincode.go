package room

import (
	"crypto/rand"
	"fmt"

	"github.com/trackmania-bingo/bingoserver/internal/v1/types"
)

// unambiguousAlnum avoids characters commonly confused when read aloud or
// typed from a screen: 0/O, 1/I/L.
const unambiguousAlnum = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

const joinCodeLength = 6

// generateJoinCode draws a uniform random join code from the configured
// alphabet and length using a CSPRNG.
func generateJoinCode() (types.RoomIDType, error) {
	// Bytes at or above limit are redrawn so every symbol is equally likely.
	limit := 256 - 256%len(unambiguousAlnum)
	buf := make([]byte, joinCodeLength)
	out := make([]byte, 0, joinCodeLength)
	for len(out) < joinCodeLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generate join code: %w", err)
		}
		for _, b := range buf {
			if int(b) < limit && len(out) < joinCodeLength {
				out = append(out, unambiguousAlnum[int(b)%len(unambiguousAlnum)])
			}
		}
	}

	return types.RoomIDType(out), nil
}

// randIndex draws a uniform random index in [0, n) using a CSPRNG, used for
// team-palette draws that must not be predictable by a client racing the
// server.
func randIndex(n int) int {
	if n <= 0 {
		return 0
	}
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return 0
	}
	v := uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
	return int(v % uint32(n))
}
