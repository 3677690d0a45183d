package session

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/example/carpool-matching/internal/models"
)

// Reasons a user input was rejected. Each is wrapped together with
// models.ErrInvalidFormat.
var (
	ErrEmpty       = errors.New("empty input")
	ErrNotANumber  = errors.New("not a number")
	ErrOutOfRange  = errors.New("out of range")
	ErrBadLength   = errors.New("wrong length")
	ErrBadPrefix   = errors.New("wrong prefix")
	ErrNameTooLong = errors.New("name too long")
)

const (
	MinPassengers = 1
	MaxPassengers = 4
	maxNameRunes  = 50
)

func invalid(reason error, detail string) error {
	return fmt.Errorf("%w: %w: %s", models.ErrInvalidFormat, reason, detail)
}

// ParsePhone accepts exactly ten digits starting with "09".
func ParsePhone(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", invalid(ErrEmpty, "phone")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", invalid(ErrNotANumber, s)
		}
	}
	if len(s) != 10 {
		return "", invalid(ErrBadLength, s)
	}
	if !strings.HasPrefix(s, "09") {
		return "", invalid(ErrBadPrefix, s)
	}
	return s, nil
}

// ParsePassengers accepts an integer in [1,4].
func ParsePassengers(raw string) (int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, invalid(ErrEmpty, "passengers")
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, invalid(ErrNotANumber, s)
	}
	if n < MinPassengers || n > MaxPassengers {
		return 0, invalid(ErrOutOfRange, s)
	}
	return n, nil
}

// ParseName trims the display name a user typed during registration.
func ParseName(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", invalid(ErrEmpty, "name")
	}
	if len([]rune(s)) > maxNameRunes {
		return "", invalid(ErrNameTooLong, s)
	}
	return s, nil
}
