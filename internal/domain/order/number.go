package order

import (
	"crypto/rand"
	"encoding/base64"
	"math/big"
	"strings"
)

const (
	numberPrefix  = "R"
	numberDigits  = 9
	guestTokenLen = 35
)

var numberSpace = big.NewInt(1_000_000_000)

// GenerateNumber returns a random order number such as R123456789.
func GenerateNumber() string {
	n, err := rand.Int(rand.Reader, numberSpace)
	if err != nil {
		panic(err)
	}
	s := n.String()
	return numberPrefix + strings.Repeat("0", numberDigits-len(s)) + s
}

// GenerateGuestToken returns a random URL-safe token identifying a guest's
// order.
func GenerateGuestToken() string {
	b := make([]byte, 27)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(b)[:guestTokenLen]
}
