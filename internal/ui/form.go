package ui

import (
	"strings"
	"unicode"
)

// maxAddressLen bounds the input; a host:port never needs more.
const maxAddressLen = 255

// AddressForm is the text buffer behind the address prompt.
type AddressForm struct {
	buf []rune
}

// Reset replaces the buffer, typically with the last used address.
func (f *AddressForm) Reset(prefill string) {
	f.buf = []rune(strings.TrimSpace(prefill))
}

// Insert appends printable runes, dropping control characters and spaces.
func (f *AddressForm) Insert(rs []rune) {
	for _, r := range rs {
		if len(f.buf) >= maxAddressLen {
			return
		}
		if !unicode.IsPrint(r) || unicode.IsSpace(r) {
			continue
		}
		f.buf = append(f.buf, r)
	}
}

func (f *AddressForm) Backspace() {
	if len(f.buf) > 0 {
		f.buf = f.buf[:len(f.buf)-1]
	}
}

func (f *AddressForm) Clear() {
	f.buf = f.buf[:0]
}

func (f *AddressForm) Text() string {
	return string(f.buf)
}

// Submit returns the trimmed address, or false when it is empty.
func (f *AddressForm) Submit() (string, bool) {
	s := strings.TrimSpace(string(f.buf))
	return s, s != ""
}
