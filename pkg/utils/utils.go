// Path: pkg/utils/utils.go
package utils

import (
	"crypto/rand"
	"math/big"
)

var accountPrefixes = map[string]string{
	"savings":  "SB",
	"checking": "CH",
	"wallet":   "WA",
	"loan":     "LN",
}

// AccountNumberPrefix returns the two-letter prefix for an account type,
// defaulting to "AC" for unknown types.
func AccountNumberPrefix(accountType string) string {
	if p, ok := accountPrefixes[accountType]; ok {
		return p
	}
	return "AC"
}

// GenerateAccountNumber builds a candidate account number: a two-letter
// type prefix followed by eight random digits. Uniqueness is enforced by
// the database, callers retry on collision.
func GenerateAccountNumber(accountType string) string {
	return AccountNumberPrefix(accountType) + RandomDigits(8)
}

// RandomDigits returns n random decimal digits.
func RandomDigits(n int) string {
	const digits = "0123456789"
	b := make([]byte, n)
	for i := range b {
		v, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			panic(err)
		}
		b[i] = digits[v.Int64()]
	}
	return string(b)
}
