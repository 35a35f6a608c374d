package verification

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const codePrefix = "CAU-CODE-"

var (
	codePattern   = regexp.MustCompile(`CAU-CODE-[A-Za-z0-9]{12}`)
	handlePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{2,19}$`)
)

// GenerateCode allocates a fresh opaque verification code. The format is the
// fixed prefix followed by twelve uppercase characters derived from a random
// UUID, short enough to paste into a profile bio.
func GenerateCode() (string, error) {
	value, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	compact := strings.ToUpper(strings.ReplaceAll(value.String(), "-", ""))
	return codePrefix + compact[:12], nil
}

// ExtractCode returns the first verification code found in a bio, or "".
func ExtractCode(bio string) string {
	if bio == "" {
		return ""
	}
	return codePattern.FindString(bio)
}

// ValidHandle reports whether the claimed solved.ac handle is syntactically
// acceptable: 3-20 characters, leading letter, letters/digits/underscores.
func ValidHandle(handle string) bool {
	return handlePattern.MatchString(handle)
}
