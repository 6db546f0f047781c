package model

import (
	"net/mail"
	"strings"
)

// Mailbox is one parsed address from a header.
type Mailbox struct {
	Name    string
	Address string
}

// CanonicalAddress lower-cases and trims an address for lookups.
func CanonicalAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// ParseMailbox parses a single address header value.
func ParseMailbox(s string) (Mailbox, bool) {
	if strings.TrimSpace(s) == "" {
		return Mailbox{}, false
	}
	a, err := mail.ParseAddress(s)
	if err != nil {
		return Mailbox{}, false
	}
	return Mailbox{Name: a.Name, Address: CanonicalAddress(a.Address)}, true
}

// ParseAddressList parses a comma separated header value. Entries that do
// not parse are skipped rather than failing the whole list.
func ParseAddressList(s string) []Mailbox {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	if list, err := mail.ParseAddressList(s); err == nil {
		out := make([]Mailbox, 0, len(list))
		for _, a := range list {
			out = append(out, Mailbox{Name: a.Name, Address: CanonicalAddress(a.Address)})
		}
		return out
	}
	var out []Mailbox
	for _, part := range strings.Split(s, ",") {
		if mb, ok := ParseMailbox(part); ok {
			out = append(out, mb)
		}
	}
	return out
}

// AddressedTo reports whether addr appears in the header value.
func AddressedTo(header, addr string) bool {
	want := CanonicalAddress(addr)
	if want == "" {
		return false
	}
	for _, mb := range ParseAddressList(header) {
		if mb.Address == want {
			return true
		}
	}
	return false
}
