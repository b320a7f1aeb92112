package ledger

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// Seed prefixes recognised by the escrow program.
var (
	seedState        = []byte("state")
	seedVault        = []byte("vault")
	seedAssociated   = []byte("associated")
	seedAdminList    = []byte("admin_list")
	seedVendorList   = []byte("vendor_list")
	seedEscrowConfig = []byte("escrow_config")
)

// maxSeedLength bounds one seed element; longer seeds must be hashed by the
// caller rather than silently truncated here.
const maxSeedLength = 32

// derivedMarker domain-separates derived addresses from key-backed ones.
var derivedMarker = []byte("orchestrator:derived")

// Derive computes the deterministic address for a seed sequence within the
// program namespace, together with its bump discriminator. The bump is
// searched downward from 255; candidates whose leading byte is zero are
// reserved by the ledger for native accounts and skipped. The same seed
// sequence always yields the same (address, bump) pair.
func Derive(program Address, seeds ...[]byte) (Address, uint8, error) {
	if len(seeds) == 0 {
		return Address{}, 0, fmt.Errorf("%w: empty seed sequence", ErrInvalidSeed)
	}
	for i, seed := range seeds {
		if len(seed) == 0 {
			return Address{}, 0, fmt.Errorf("%w: seed %d is empty", ErrInvalidSeed, i)
		}
		if len(seed) > maxSeedLength {
			return Address{}, 0, fmt.Errorf("%w: seed %d is %d bytes, max %d", ErrInvalidSeed, i, len(seed), maxSeedLength)
		}
	}

	for bump := 255; bump >= 0; bump-- {
		h := sha256.New()
		for _, seed := range seeds {
			h.Write(seed)
		}
		h.Write([]byte{byte(bump)})
		h.Write(program[:])
		h.Write(derivedMarker)

		var candidate Address
		copy(candidate[:], h.Sum(nil))
		if candidate[0] != 0 {
			return candidate, uint8(bump), nil
		}
	}
	return Address{}, 0, fmt.Errorf("%w: no valid bump for seed sequence", ErrInvalidSeed)
}

// EscrowStateSeeds returns the seed sequence for one escrow instance.
func EscrowStateSeeds(seed uint64) [][]byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, seed)
	return [][]byte{seedState, buf}
}

// EscrowVaultSeeds returns the seed sequence for an escrow's asset vault.
func EscrowVaultSeeds(seed uint64) [][]byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, seed)
	return [][]byte{seedVault, buf}
}

// AssociatedSeeds returns the seed sequence for the associated token account
// holding mint on behalf of owner.
func AssociatedSeeds(owner, mint Address) [][]byte {
	return [][]byte{seedAssociated, owner[:], mint[:]}
}

// AdminListSeeds returns the seed sequence for the singleton admin registry.
func AdminListSeeds() [][]byte {
	return [][]byte{seedAdminList}
}

// VendorListSeeds returns the seed sequence for the singleton vendor registry.
func VendorListSeeds() [][]byte {
	return [][]byte{seedVendorList}
}

// EscrowConfigSeeds returns the seed sequence for the singleton escrow config.
func EscrowConfigSeeds() [][]byte {
	return [][]byte{seedEscrowConfig}
}

// NewEscrowSeed returns a random 64-bit escrow seed. Wall-clock timestamps are
// not unique under concurrent listings from the same actor, so seeds are drawn
// from crypto/rand; callers reject the rare collision against an existing
// escrow account before use.
func NewEscrowSeed() (uint64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("draw escrow seed: %w", err)
	}
	seed := binary.LittleEndian.Uint64(buf[:])
	if seed == 0 {
		seed = 1
	}
	return seed, nil
}
