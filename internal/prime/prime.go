// Package prime detects prime transaction identifiers.
package prime

import (
	"strconv"
	"strings"
)

// IsPrime reports whether id is the decimal representation of a prime number.
// Identifiers that do not convert to an int64 are never prime.
func IsPrime(id string) bool {
	n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil {
		return false
	}
	return isPrime(n)
}

func isPrime(n int64) bool {
	if n < 2 {
		return false
	}
	if n == 2 {
		return true
	}
	if n%2 == 0 {
		return false
	}
	for d := int64(3); d <= n/d; d += 2 {
		if n%d == 0 {
			return false
		}
	}
	return true
}
