package kv

import "strings"

// sep separates key segments. Identity fields never contain NUL.
const sep = "\x00"

// Key joins a prefix and segments into a Badger key.
func Key(prefix string, parts ...string) []byte {
	return []byte(prefix + sep + strings.Join(parts, sep))
}

// Prefix returns the iteration prefix for keys built from prefix and the
// leading parts.
func Prefix(prefix string, parts ...string) []byte {
	if len(parts) == 0 {
		return []byte(prefix + sep)
	}
	return []byte(prefix + sep + strings.Join(parts, sep) + sep)
}

// Split returns the segments of key after its prefix.
func Split(key []byte) []string {
	parts := strings.Split(string(key), sep)
	if len(parts) <= 1 {
		return nil
	}
	return parts[1:]
}
