package padron

import (
	"errors"
	"strings"
)

// ErrInvalidCUIT is returned for identifiers that are not 11 digits with a valid check digit.
var ErrInvalidCUIT = errors.New("invalid CUIT")

var cuitWeights = [10]int{5, 4, 3, 2, 7, 6, 5, 4, 3, 2}

// NormalizeCUIT strips separators ("20-31086883-4") and validates the result.
func NormalizeCUIT(s string) (string, error) {
	cuit := strings.Map(func(r rune) rune {
		if r == '-' || r == ' ' || r == '.' {
			return -1
		}
		return r
	}, strings.TrimSpace(s))

	if err := ValidateCUIT(cuit); err != nil {
		return "", err
	}
	return cuit, nil
}

// ValidateCUIT checks length, digits and the mod-11 check digit.
func ValidateCUIT(cuit string) error {
	if len(cuit) != 11 {
		return ErrInvalidCUIT
	}
	sum := 0
	for i := 0; i < 11; i++ {
		if cuit[i] < '0' || cuit[i] > '9' {
			return ErrInvalidCUIT
		}
		if i < 10 {
			sum += int(cuit[i]-'0') * cuitWeights[i]
		}
	}

	// A remainder of 1 has no check digit; those numbers are issued with a
	// different prefix instead.
	check := 11 - sum%11
	switch check {
	case 11:
		check = 0
	case 10:
		return ErrInvalidCUIT
	}
	if int(cuit[10]-'0') != check {
		return ErrInvalidCUIT
	}
	return nil
}
