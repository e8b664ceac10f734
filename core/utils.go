package core

import "strings"

// CleanString trims all leading and trailing whitespace in `s`. Case is
// preserved; search and school matching lower-case at query time instead.
func CleanString(s string) string {
	return strings.TrimSpace(s)
}
