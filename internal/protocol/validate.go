package protocol

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Room code format.
const (
	CodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	CodeLength   = 6
)

// Nickname length bounds, counted in runes after trimming.
const (
	MinNicknameLen = 2
	MaxNicknameLen = 15
)

var (
	// ErrInvalidNickname is returned for nicknames outside the length bounds.
	ErrInvalidNickname = errors.New("invalid nickname")
	// ErrInvalidRoomCode is returned for codes that are not 6 upper-case alphanumerics.
	ErrInvalidRoomCode = errors.New("invalid room code")
)

// ValidateNickname trims and NFC-normalises a nickname and checks its length.
//
// Postcondition: Returns the normalised nickname, or an error wrapping ErrInvalidNickname.
func ValidateNickname(raw string) (string, error) {
	nick := norm.NFC.String(strings.TrimSpace(raw))
	n := utf8.RuneCountInString(nick)
	if n < MinNicknameLen || n > MaxNicknameLen {
		return "", fmt.Errorf("%w: must be %d-%d characters, got %d", ErrInvalidNickname, MinNicknameLen, MaxNicknameLen, n)
	}
	for _, r := range nick {
		if r < 0x20 || r == 0x7f {
			return "", fmt.Errorf("%w: control characters are not allowed", ErrInvalidNickname)
		}
	}
	return nick, nil
}

// NormalizeRoomCode trims and upper-cases a room code and checks its format.
//
// Postcondition: Returns a CodeLength string over CodeAlphabet, or an error wrapping ErrInvalidRoomCode.
func NormalizeRoomCode(raw string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if !IsRoomCode(code) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRoomCode, raw)
	}
	return code, nil
}

// IsRoomCode reports whether code is exactly CodeLength characters from CodeAlphabet.
func IsRoomCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(CodeAlphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}
