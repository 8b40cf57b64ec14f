package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Match ids cross the boundary as bytes32: the 16-byte UUID right-padded
// with zeros. Fighter ids use the same encoding.

// ToBytes32 encodes a UUID as the contract's 32-byte id.
func ToBytes32(id uuid.UUID) [32]byte {
	var out [32]byte
	copy(out[:16], id[:])
	return out
}

// FromBytes32 recovers the UUID from a contract id. The padding must be
// zero; anything else is not one of ours.
func FromBytes32(b [32]byte) (uuid.UUID, error) {
	for _, c := range b[16:] {
		if c != 0 {
			return uuid.Nil, fmt.Errorf("ledger: id has non-zero padding: %x", b)
		}
	}
	var id uuid.UUID
	copy(id[:], b[:16])
	return id, nil
}

// HashFromUUID is the common.Hash form used in log topics.
func HashFromUUID(id uuid.UUID) common.Hash {
	return common.Hash(ToBytes32(id))
}

// MatchHex is the 0x-prefixed hex form used in odds keys.
func MatchHex(id uuid.UUID) string {
	return HashFromUUID(id).Hex()
}

// Winner side encoding: side A is 0, side B is 1.
const (
	SideA uint8 = 0
	SideB uint8 = 1
)

// WinnerCode converts the runner's "A"/"B" to the contract's small int.
func WinnerCode(side string) (uint8, error) {
	switch side {
	case "A":
		return SideA, nil
	case "B":
		return SideB, nil
	}
	return 0, fmt.Errorf("ledger: invalid winner side %q", side)
}

// SideLabel converts the contract's small int back to "A"/"B".
func SideLabel(code uint8) (string, error) {
	switch code {
	case SideA:
		return "A", nil
	case SideB:
		return "B", nil
	}
	return "", fmt.Errorf("ledger: invalid side code %d", code)
}
