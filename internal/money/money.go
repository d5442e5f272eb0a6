// Package money converts user-supplied decimal amounts into exact integer
// minor units (cents). No floating point is used anywhere in this path.
package money

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidFormat is returned for any amount string that is not a plain,
// sign-free decimal with at most two fractional digits.
var ErrInvalidFormat = errors.New("invalid amount format")

var amountPattern = regexp.MustCompile(`^\d+(\.\d{1,2})?$`)

// ParseAmount parses a decimal string into minor units. Both "." and "," are
// accepted as the fractional separator; "," is normalized to "." before
// validation. "10", "10.5" and "10,50" parse to 1000, 1050 and 1050.
func ParseAmount(text string) (int64, error) {
	s := strings.Replace(strings.TrimSpace(text), ",", ".", 1)
	if !amountPattern.MatchString(s) {
		return 0, ErrInvalidFormat
	}

	whole, frac, _ := strings.Cut(s, ".")

	// The fractional part is right-padded to exactly two digits, so ".5"
	// means fifty cents, not five.
	frac = (frac + "00")[:2]

	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, ErrInvalidFormat
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, ErrInvalidFormat
	}

	// w*100+f must not wrap int64; a wrapped amount would parse to a small
	// positive value instead of failing.
	if w > (math.MaxInt64-f)/100 {
		return 0, ErrInvalidFormat
	}

	return w*100 + f, nil
}
