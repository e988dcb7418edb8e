// Package flags implements the compact flags string shared with the mail
// server: one character per flag, concatenated.
package flags

import "strings"

// Flag codes
const (
	Unread        = 'u'
	Flagged       = 'f'
	Urgent        = '!'
	SentByMe      = 's'
	Draft         = 'd'
	Attachment    = 'a'
	HasAttachment = Attachment
	Replied       = 'r'
	Forwarded     = 'w'
	LowPriority   = '?'
)

// order is the sequence in which codes are written back
const order = "uf!sdarw?"

// Has reports whether code is present in s
func Has(s string, code rune) bool {
	return strings.ContainsRune(s, code)
}

// Add returns s with code present exactly once
func Add(s string, code rune) string {
	if Has(s, code) {
		return Normalize(s)
	}
	return Normalize(s + string(code))
}

// Remove returns s without code
func Remove(s string, code rune) string {
	return Normalize(strings.ReplaceAll(s, string(code), ""))
}

// Set adds or removes code depending on on
func Set(s string, code rune, on bool) string {
	if on {
		return Add(s, code)
	}
	return Remove(s, code)
}

// Normalize drops duplicate codes and writes known codes in canonical order.
// Unknown codes are kept, after the known ones, in first-seen order.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	for _, code := range order {
		if strings.ContainsRune(s, code) {
			b.WriteRune(code)
		}
	}
	for _, code := range s {
		if strings.ContainsRune(order, code) || strings.ContainsRune(b.String(), code) {
			continue
		}
		b.WriteRune(code)
	}
	return b.String()
}

// Equal reports whether a and b encode the same set of flags
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}
