package validation

import (
	"errors"
	"strings"
	"unicode"
)

// City name length bounds in runes.
const (
	MinCityLength = 2
	MaxCityLength = 100
)

// ErrCityEmpty is returned when the city is empty or whitespace-only after trim.
var ErrCityEmpty = errors.New("city is required")

// ErrCityTooShort is returned when the city name is below the minimum length.
var ErrCityTooShort = errors.New("city name too short")

// ErrCityTooLong is returned when the city name exceeds the maximum length.
var ErrCityTooLong = errors.New("city name too long")

// ErrCityInvalidChars is returned when the city name contains disallowed characters.
var ErrCityInvalidChars = errors.New("city name contains invalid characters")

// ValidateCity trims the input, enforces length bounds, and restricts to
// allowed characters: letters (Unicode), space, comma, hyphen, apostrophe.
// Returns the trimmed string or an error suitable for 400 responses.
// Normalization (lowercase keys, title-cased display) is left to callers.
func ValidateCity(input string) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	n := len(r)
	if n == 0 {
		return "", ErrCityEmpty
	}
	if n < MinCityLength {
		return "", ErrCityTooShort
	}
	if n > MaxCityLength {
		return "", ErrCityTooLong
	}
	for _, c := range r {
		if !isAllowedCityRune(c) {
			return "", ErrCityInvalidChars
		}
	}
	return s, nil
}

// SanitizeCity collapses inner whitespace, validates, and title-cases
// each word ("  new   york " -> "New York"). Returns an error for
// invalid input.
func SanitizeCity(input string) (string, error) {
	collapsed := strings.Join(strings.Fields(input), " ")
	s, err := ValidateCity(collapsed)
	if err != nil {
		return "", err
	}
	return titleCase(s), nil
}

// titleCase upper-cases the first letter of every word and hyphenated
// segment, lower-casing the rest ("saint-petersburg" -> "Saint-Petersburg").
func titleCase(s string) string {
	var b strings.Builder
	startOfWord := true
	for _, r := range s {
		switch {
		case r == ' ' || r == '-':
			startOfWord = true
			b.WriteRune(r)
		case startOfWord:
			b.WriteRune(unicode.ToUpper(r))
			startOfWord = false
		default:
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// isAllowedCityRune returns true for letters (Unicode), space, comma,
// hyphen, apostrophe.
func isAllowedCityRune(r rune) bool {
	if unicode.IsLetter(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '\'':
		return true
	}
	return false
}
