/*
Package randx generates random identifiers: chat invite codes, guest ids and document ids.
Everything is drawn from crypto/rand.
*/
package randx

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

const (
	// Base36Chars is the invite-code alphabet (digits and upper-case letters).
	Base36Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

	// InviteCodeLength is the fixed length of a chat invite code.
	InviteCodeLength = 6

	// GuestIDPrefix prefixes every guest account id.
	GuestIDPrefix = "guest_"

	// GuestIDRawLength is the number of random characters after GuestIDPrefix.
	GuestIDRawLength = 12
)

func randomString(alphabet string, n int) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	out := make([]byte, n)

	for i := range n {
		num, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("read random index: %w", err)
		}
		out[i] = alphabet[num.Int64()]
	}

	return string(out), nil
}

// InviteCode returns a new 6-character upper-case base-36 invite code.
func InviteCode() (string, error) {
	return randomString(Base36Chars, InviteCodeLength)
}

// NormalizeInviteCode trims and upper-cases user input before lookup.
func NormalizeInviteCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsValidInviteCode reports whether code (already normalized) has the invite-code shape.
func IsValidInviteCode(code string) bool {
	if len(code) != InviteCodeLength {
		return false
	}
	for _, c := range code {
		if !strings.ContainsRune(Base36Chars, c) {
			return false
		}
	}
	return true
}

// GuestID returns a new guest account id.
func GuestID() (string, error) {
	raw, err := randomString(strings.ToLower(Base36Chars), GuestIDRawLength)
	if err != nil {
		return "", err
	}
	return GuestIDPrefix + raw, nil
}

// IsGuestID reports whether id was produced by GuestID.
func IsGuestID(id string) bool {
	return strings.HasPrefix(id, GuestIDPrefix) && len(id) == len(GuestIDPrefix)+GuestIDRawLength
}

// DocumentID returns a new random document identifier.
func DocumentID() string {
	return uuid.New().String()
}
