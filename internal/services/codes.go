package services

import (
	"crypto/rand"
	"math/big"
)

const (
	codeChars        = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	eventCodeLength  = 6
	accessCodeLength = 8
	maxCodeAttempts  = 10
)

// generateCode generates a random code of n characters
func generateCode(n int) string {
	code := make([]byte, n)
	for i := range code {
		r, _ := rand.Int(rand.Reader, big.NewInt(int64(len(codeChars))))
		code[i] = codeChars[r.Int64()]
	}
	return string(code)
}
