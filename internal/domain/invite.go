package domain

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// inviteAlphabet leaves out characters that are easy to misread (0 O 1 I l i L o).
const (
	inviteAlphabet   = "ABCDEFGHJKMNPQRSTUVWXYZabcdefghjkmnpqrstuvwxyz23456789"
	InviteCodeLength = 6
)

func GenerateInviteCode() (string, error) {
	size := big.NewInt(int64(len(inviteAlphabet)))
	buf := make([]byte, InviteCodeLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", err
		}
		buf[i] = inviteAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// CheckInviteCode compares a supplied code against the stored one,
// case-insensitively and ignoring surrounding whitespace.
func CheckInviteCode(stored, supplied string) error {
	supplied = strings.TrimSpace(supplied)
	if supplied == "" {
		return ErrMissingInviteCode
	}
	if !strings.EqualFold(strings.TrimSpace(stored), supplied) {
		return ErrInvalidInviteCode
	}
	return nil
}
