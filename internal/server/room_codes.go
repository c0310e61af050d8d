package server

import (
	"errors"
	"math/rand"
	"strings"
)

// CodeAlphabet drops I, O, 0 and 1 so codes survive being read out loud or
// typed from a text message.
const CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const CodeLength = 3

// GenerateCode returns a fresh code not present in taken, regenerating on
// collision. Used for both room codes and session tokens.
func GenerateCode(taken func(string) bool) string {
	for {
		code := randomCode()
		if !taken(code) {
			return code
		}
	}
}

func randomCode() string {
	b := make([]byte, CodeLength)
	for i := range b {
		b[i] = CodeAlphabet[rand.Intn(len(CodeAlphabet))]
	}
	return string(b)
}

func ValidateRoomCode(code string) error {
	if len(code) != CodeLength {
		return errors.New("INVALID_ROOM_CODE: Room code must be exactly 3 characters")
	}
	for _, ch := range strings.ToUpper(code) {
		if !strings.ContainsRune(CodeAlphabet, ch) {
			return errors.New("INVALID_ROOM_CODE: Room code contains an invalid character")
		}
	}
	return nil
}

func NormalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
