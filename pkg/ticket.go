package pkg

import (
	"bytes"
	"fmt"
	"io"
)

// LimitEntry restricts how a title may be used. The kind discriminates the
// meaning of the value: 1 is a time limit in minutes, 2 a launch counter,
// and both 0 and 3 appear in the wild for "no limit". The raw kind is kept
// as parsed so a re-serialization is byte exact.
type LimitEntry struct {
	Kind  uint32
	Value uint32
}

// Ticket proves ownership of a title and carries the wrapped key protecting
// its contents. Only format versions 0 and 1 are handled; the Switch moved
// the version field and is not compatible.
type Ticket struct {
	Header SignedBlobHeader

	ECCPublicKey      [60]byte
	CACRLVersion      uint8
	SignerCRLVersion  uint8
	EncryptedTitleKey [16]byte
	TicketID          uint64

	// DeviceID is zero when the ticket is valid on any console.
	DeviceID uint32

	TitleID              TitleID
	SystemAppAccess      uint16
	TitleVersion         uint16
	PermittedTitleID     uint32
	PermittedTitleIDMask uint32
	License              LicenseKind
	CommonKeyIndex       uint8
	Audit                uint8
	ContentAccess        [64]byte
	Limits               [8]LimitEntry

	// V1 is nil for version 0 tickets.
	V1 *TicketV1

	// Two nominally unused bytes between the access flags and the limit
	// entries. Preserved verbatim for exact round trips; fake signing
	// mutates them.
	filler uint16
}

// ParseTicket reads a ticket from the current position of the stream.
func ParseTicket(rs io.ReadSeeker) (*Ticket, error) {
	p, err := newPinReader(rs)
	if err != nil {
		return nil, err
	}

	t := &Ticket{}
	if t.Header, err = parseSignedBlobHeader(p); err != nil {
		return nil, err
	}

	if err := readBE(p, &t.ECCPublicKey); err != nil {
		return nil, err
	}

	var formatVersion uint8
	if err := readBE(p, &formatVersion); err != nil {
		return nil, err
	}

	if err := readBE(p, &t.CACRLVersion); err != nil {
		return nil, err
	}
	if err := readBE(p, &t.SignerCRLVersion); err != nil {
		return nil, err
	}
	if err := readBE(p, &t.EncryptedTitleKey); err != nil {
		return nil, err
	}
	if err := p.skip(1); err != nil {
		return nil, err
	}
	if err := readBE(p, &t.TicketID); err != nil {
		return nil, err
	}
	if err := readBE(p, &t.DeviceID); err != nil {
		return nil, err
	}
	if err := readBE(p, (*uint64)(&t.TitleID)); err != nil {
		return nil, err
	}
	if err := readBE(p, &t.SystemAppAccess); err != nil {
		return nil, err
	}
	if err := readBE(p, &t.TitleVersion); err != nil {
		return nil, err
	}
	if err := readBE(p, &t.PermittedTitleID); err != nil {
		return nil, err
	}
	if err := readBE(p, &t.PermittedTitleIDMask); err != nil {
		return nil, err
	}

	var license uint8
	if err := readBE(p, &license); err != nil {
		return nil, err
	}
	if license > uint8(LicenseExportable) {
		return nil, fmt.Errorf("%w: license kind %d", ErrInvalidField, license)
	}
	t.License = LicenseKind(license)

	if err := readBE(p, &t.CommonKeyIndex); err != nil {
		return nil, err
	}
	if err := p.skip(47); err != nil {
		return nil, err
	}
	if err := readBE(p, &t.Audit); err != nil {
		return nil, err
	}
	if err := readBE(p, &t.ContentAccess); err != nil {
		return nil, err
	}
	if err := readBE(p, &t.filler); err != nil {
		return nil, err
	}

	for i := range t.Limits {
		if err := readBE(p, &t.Limits[i].Kind); err != nil {
			return nil, err
		}
		if err := readBE(p, &t.Limits[i].Value); err != nil {
			return nil, err
		}
		switch t.Limits[i].Kind {
		case LimitKindNone, LimitKindMinutes, LimitKindLaunches, LimitKindNoneAlt:
		default:
			return nil, fmt.Errorf("%w: limit entry kind %d", ErrInvalidField, t.Limits[i].Kind)
		}
	}

	switch formatVersion {
	case 0:
	case 1:
		if t.V1, err = parseTicketV1(p); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: ticket version %d", ErrUnsupportedVersion, formatVersion)
	}

	return t, nil
}

func (t *Ticket) formatVersion() uint8 {
	if t.V1 != nil {
		return 1
	}
	return 0
}

// Dump serializes the ticket at the current position of the stream. A V1
// extension is written in normalized layout, records before section
// headers, so a V1 parse and dump cycle is semantically but not byte
// identical.
func (t *Ticket) Dump(w io.Writer) error {
	return t.dump(newPinWriter(w))
}

func (t *Ticket) dump(p *pinWriter) error {
	if err := t.Header.dump(p); err != nil {
		return err
	}
	if err := p.writeBE(t.ECCPublicKey); err != nil {
		return err
	}
	if err := p.writeBE(t.formatVersion()); err != nil {
		return err
	}
	if err := p.writeBE(t.CACRLVersion); err != nil {
		return err
	}
	if err := p.writeBE(t.SignerCRLVersion); err != nil {
		return err
	}
	if err := p.writeBE(t.EncryptedTitleKey); err != nil {
		return err
	}
	if err := p.writeZeros(1); err != nil {
		return err
	}
	if err := p.writeBE(t.TicketID); err != nil {
		return err
	}
	if err := p.writeBE(t.DeviceID); err != nil {
		return err
	}
	if err := t.TitleID.dump(p); err != nil {
		return err
	}
	if err := p.writeBE(t.SystemAppAccess); err != nil {
		return err
	}
	if err := p.writeBE(t.TitleVersion); err != nil {
		return err
	}
	if err := p.writeBE(t.PermittedTitleID); err != nil {
		return err
	}
	if err := p.writeBE(t.PermittedTitleIDMask); err != nil {
		return err
	}
	if err := p.writeBE(uint8(t.License)); err != nil {
		return err
	}
	if err := p.writeBE(t.CommonKeyIndex); err != nil {
		return err
	}
	if err := p.writeZeros(47); err != nil {
		return err
	}
	if err := p.writeBE(t.Audit); err != nil {
		return err
	}
	if err := p.writeBE(t.ContentAccess); err != nil {
		return err
	}
	if err := p.writeBE(t.filler); err != nil {
		return err
	}

	for i := range t.Limits {
		if err := p.writeBE(t.Limits[i].Kind); err != nil {
			return err
		}
		if err := p.writeBE(t.Limits[i].Value); err != nil {
			return err
		}
	}

	if t.V1 != nil {
		return t.V1.dump(p)
	}
	return nil
}

// Size is the serialized size of the ticket in bytes.
func (t *Ticket) Size() (uint32, error) {
	headerSize, err := t.Header.Size()
	if err != nil {
		return 0, err
	}
	size := headerSize + 292
	if t.V1 != nil {
		size += t.V1.size()
	}
	return size, nil
}

// IsDeviceUnique reports whether the ticket is bound to one console.
func (t *Ticket) IsDeviceUnique() bool {
	return t.DeviceID != 0
}

// Fakesign zeroes the signature and brute forces the unused filler bytes
// until the body hash has a leading zero byte, the condition accepted by
// consoles with the flawed signature check. Fails if no filler value works
// for this body, which is possible but astronomically unlikely.
func (t *Ticket) Fakesign() error {
	t.Header.ZeroSignature()

	bodyStart, err := t.Header.Size()
	if err != nil {
		return err
	}

	for candidate := 0; candidate <= 0xFFFF; candidate++ {
		t.filler = uint16(candidate)

		var buf bytes.Buffer
		if err := t.Dump(&buf); err != nil {
			return err
		}

		// The hashed body starts at the issuer, 64 bytes before the
		// end of the signed blob header.
		if hashHasLeadingZero(buf.Bytes()[bodyStart-64:]) {
			return nil
		}
	}

	return fmt.Errorf("%w: no filler value yields a forgeable hash", ErrInvalidField)
}
