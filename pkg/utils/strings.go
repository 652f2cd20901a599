package utils

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Capitalize title-cases an issuer or account label for display.
func Capitalize(s string) string {
	return cases.Title(language.English).String(strings.ToLower(s))
}
