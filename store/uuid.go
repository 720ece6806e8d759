package store

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewV7 mints a UUIDv7: 48 bits of epoch milliseconds, the version nibble,
// 12 random bits, the RFC 4122 variant, then 62 random bits. Minted ids sort
// by creation time, which the resource store relies on for its default-store
// ordering.
func NewV7() string {
	var u uuid.UUID
	if _, err := rand.Read(u[:]); err != nil {
		panic(fmt.Sprintf("uuid entropy unavailable: %v", err))
	}

	ms := uint64(time.Now().UnixMilli())
	u[0] = byte(ms >> 40)
	u[1] = byte(ms >> 32)
	u[2] = byte(ms >> 24)
	u[3] = byte(ms >> 16)
	u[4] = byte(ms >> 8)
	u[5] = byte(ms)

	u[6] = 0x70 | u[6]&0x0f
	u[8] = 0x80 | u[8]&0x3f

	return u.String()
}

// ValidID reports whether s parses as a UUID. The asset and resource stores
// do not call it: they accept any id free of path separators and "..".
func ValidID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
