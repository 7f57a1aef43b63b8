package fetch

import (
	"fmt"
	"strings"
)

// Name is a slash-separated hierarchical name, e.g. "/org/device-1".
// Producers, streams and forwarding hints are all names.
type Name string

// ParseName validates s and returns it as a Name.
// A name must start with "/" and must not contain empty components or whitespace.
func ParseName(s string) (Name, error) {
	if s == "" {
		return "", fmt.Errorf("name is empty")
	}
	if !strings.HasPrefix(s, "/") {
		return "", fmt.Errorf("name %q must start with /", s)
	}
	if strings.ContainsAny(s, " \t\r\n") {
		return "", fmt.Errorf("name %q contains whitespace", s)
	}
	for i, c := range strings.Split(s[1:], "/") {
		if c == "" {
			return "", fmt.Errorf("name %q has an empty component at position %d", s, i)
		}
	}
	return Name(s), nil
}

// String returns the name as a string
func (n Name) String() string {
	return string(n)
}

// IsEmpty reports whether the name is unset
func (n Name) IsEmpty() bool {
	return n == ""
}

// Components returns the name's components without separators.
func (n Name) Components() []string {
	if n.IsEmpty() {
		return nil
	}
	return strings.Split(string(n)[1:], "/")
}
