package ledger

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	personalPrefix = "12"
	businessPrefix = "13"
	numberDigits   = 8
)

// NumberGenerator produces candidate account numbers for a type.
type NumberGenerator func(AccountType) (string, error)

var numberSpace = big.NewInt(100_000_000)

// RandomAccountNumber returns a two-digit type prefix followed by eight
// random digits.
func RandomAccountNumber(t AccountType) (string, error) {
	prefix := personalPrefix
	if t == AccountBusiness {
		prefix = businessPrefix
	}
	n, err := rand.Int(rand.Reader, numberSpace)
	if err != nil {
		return "", fmt.Errorf("generate account number: %w", err)
	}
	return fmt.Sprintf("%s%0*d", prefix, numberDigits, n.Int64()), nil
}
