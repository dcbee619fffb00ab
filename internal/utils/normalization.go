package utils

import "strings"

// NormalizeText lowercases text and collapses runs of whitespace.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

func NormalizeIntent(intent string) string {
	return strings.ToLower(strings.TrimSpace(intent))
}
