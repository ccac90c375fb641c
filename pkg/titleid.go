package pkg

import (
	"encoding/binary"
	"fmt"
)

// TitleID is the 64 bit value used to uniquely identify titles. The upper
// half encodes the issuer/category, the lower half the unique instance
// (often printable ASCII on retail titles).
type TitleID uint64

// NewTitleID builds a TitleID from its two halves.
func NewTitleID(upper, lower uint32) TitleID {
	return TitleID(uint64(upper)<<32 | uint64(lower))
}

func (t TitleID) Upper() uint32 {
	return uint32(t >> 32)
}

func (t TitleID) Lower() uint32 {
	return uint32(t)
}

// WithUpper returns a copy of the ID with a replaced upper half.
func (t TitleID) WithUpper(upper uint32) TitleID {
	return NewTitleID(upper, t.Lower())
}

// WithLower returns a copy of the ID with a replaced lower half.
func (t TitleID) WithLower(lower uint32) TitleID {
	return NewTitleID(t.Upper(), lower)
}

// String renders the canonical lowercase hex-dash form, e.g.
// "00010001-48414741".
func (t TitleID) String() string {
	return fmt.Sprintf("%08x-%08x", t.Upper(), t.Lower())
}

// StringUpper is String with uppercase hex digits.
func (t TitleID) StringUpper() string {
	return fmt.Sprintf("%08X-%08X", t.Upper(), t.Lower())
}

// ASCII renders the lower half as ASCII characters ("00010001-HAGA") when
// every byte is alphanumeric, falling back to String otherwise.
func (t TitleID) ASCII() string {
	var lower [4]byte
	binary.BigEndian.PutUint32(lower[:], t.Lower())

	for _, c := range lower {
		if !isAlphanumeric(c) {
			return t.String()
		}
	}

	return fmt.Sprintf("%08x-%s", t.Upper(), lower)
}

func isAlphanumeric(c byte) bool {
	switch {
	case c >= '0' && c <= '9':
		return true
	case c >= 'a' && c <= 'z':
		return true
	case c >= 'A' && c <= 'Z':
		return true
	}
	return false
}

// PlatformName maps well-known reserved system IDs (bootloader, system
// IOS slots, boot-to-content titles) to human labels, falling back to the
// hex-dash form for everything else.
func (t TitleID) PlatformName() string {
	if t.Upper() != 0x00000001 {
		return t.String()
	}

	switch t.Lower() {
	case 0x00000001:
		return "BOOT2"
	case 0x00000002:
		return "System Menu"
	case 0x00000100:
		return "BC"
	case 0x00000101:
		return "MIOS"
	case 0x00000200:
		return "BC-NAND"
	case 0x00000201:
		return "BC-WFS"
	}

	return fmt.Sprintf("IOS%d (Wii)", t.Lower())
}

func (t TitleID) dump(p *pinWriter) error {
	return p.writeBE(uint64(t))
}
