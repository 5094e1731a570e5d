package participant

import "regexp"

var (
	// \s in RE2 is ASCII-only; \p{Z} and U+FEFF add the Unicode spaces.
	emailPattern = regexp.MustCompile(`^[^\s\v\p{Z}\x{FEFF}@]+@[^\s\v\p{Z}\x{FEFF}@]+\.[^\s\v\p{Z}\x{FEFF}@]+$`)
	// [0-9] rather than \d keeps the match ASCII-only.
	dobPattern = regexp.MustCompile(`^[0-9]{4}/[0-9]{2}/[0-9]{2}$`)
)

// IsValidEmail reports whether s looks like local@domain.tld with no
// whitespace. The domain is not resolved.
func IsValidEmail(s string) bool {
	return emailPattern.MatchString(s)
}

// IsValidDateOfBirth reports whether s has the YYYY/MM/DD shape. Month and
// day ranges are not checked, so 9999/99/99 passes.
func IsValidDateOfBirth(s string) bool {
	return dobPattern.MatchString(s)
}

func validateInput(in Input) error {
	if !IsValidEmail(in.Email) {
		return validationError("Invalid email format")
	}
	if !IsValidDateOfBirth(in.Dob) {
		return validationError("Invalid date of birth format. Use yyyy/MM/DD")
	}
	return nil
}
