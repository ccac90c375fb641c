package pkg

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// TitleMetadata describes a title: its identity, hardware access rights and
// the list of content chunks it is made of. Versions 0 and 1 are handled;
// the Switch format moved its fields around and is not compatible.
type TitleMetadata struct {
	Header SignedBlobHeader

	CACRLVersion     uint8
	SignerCRLVersion uint8

	// SystemTitleID is the runtime this title depends on (the IOS slot
	// on the Wii). Zero when the title is itself a runtime or the
	// platform has no such concept.
	SystemTitleID TitleID

	TitleID      TitleID
	GroupID      uint16
	AccessRights uint32
	TitleVersion uint16
	BootIndex    uint16

	// PlatformData is one of DSiPlatform, WiiPlatform, N3DSPlatform or
	// WiiUPlatform and decides how the platform payload bytes are read.
	PlatformData PlatformData

	// V1 is nil for version 0 metadata. Its group hashes are not
	// recomputed on mutation; see Dump.
	V1 *TitleMetadataV1

	Entries []ContentEntry

	// Two nominally unused bytes after the boot index, once meant as a
	// minor version. Preserved for round trips and mutated by fake
	// signing.
	filler uint16
}

// PlatformData is the per-platform payload of a title metadata:
// DSiPlatform, WiiPlatform, N3DSPlatform or WiiUPlatform.
type PlatformData interface {
	Platform() Platform
	parsePayload(p *pinReader, vWiiFlag uint8) (PlatformData, error)
	dumpPayload(p *pinWriter) error
}

// DSiPlatform carries no payload; DSiWare runs on the bare hardware.
type DSiPlatform struct{}

func (DSiPlatform) Platform() Platform { return PlatformDSi }

func (DSiPlatform) parsePayload(p *pinReader, _ uint8) (PlatformData, error) {
	return DSiPlatform{}, p.skip(62)
}

func (DSiPlatform) dumpPayload(p *pinWriter) error {
	return p.writeZeros(62)
}

// WiiUPlatform carries no payload either.
type WiiUPlatform struct{}

func (WiiUPlatform) Platform() Platform { return PlatformWiiU }

func (WiiUPlatform) parsePayload(p *pinReader, _ uint8) (PlatformData, error) {
	return WiiUPlatform{}, p.skip(62)
}

func (WiiUPlatform) dumpPayload(p *pinWriter) error {
	return p.writeZeros(62)
}

// WiiPlatform is the payload of Wii titles.
type WiiPlatform struct {
	// VWiiOnly marks titles that only run inside the Wii U's virtual
	// Wii. Stored in the reserved byte before the system title ID.
	VWiiOnly bool

	Region  WiiRegion
	Ratings [16]byte
	IPCMask [12]byte
}

func (WiiPlatform) Platform() Platform { return PlatformWii }

func (WiiPlatform) parsePayload(p *pinReader, vWiiFlag uint8) (PlatformData, error) {
	d := WiiPlatform{VWiiOnly: vWiiFlag != 0}

	if err := p.skip(2); err != nil {
		return nil, err
	}

	var region uint16
	if err := readBE(p, &region); err != nil {
		return nil, err
	}
	d.Region = WiiRegion(region)
	if !d.Region.valid() {
		return nil, fmt.Errorf("%w: wii region %d", ErrInvalidField, region)
	}

	if err := readBE(p, &d.Ratings); err != nil {
		return nil, err
	}
	if err := p.skip(12); err != nil {
		return nil, err
	}
	if err := readBE(p, &d.IPCMask); err != nil {
		return nil, err
	}
	return d, p.skip(18)
}

func (d WiiPlatform) dumpPayload(p *pinWriter) error {
	if err := p.writeZeros(2); err != nil {
		return err
	}
	if err := p.writeBE(uint16(d.Region)); err != nil {
		return err
	}
	if err := p.writeBE(d.Ratings); err != nil {
		return err
	}
	if err := p.writeZeros(12); err != nil {
		return err
	}
	if err := p.writeBE(d.IPCMask); err != nil {
		return err
	}
	return p.writeZeros(18)
}

// N3DSPlatform is the payload of 3DS titles. The save sizes are stored
// little endian, unlike every other field of the format.
type N3DSPlatform struct {
	PublicSaveSize  uint32
	PrivateSaveSize uint32
	SRLFlag         uint8
}

func (N3DSPlatform) Platform() Platform { return Platform3DS }

func (N3DSPlatform) parsePayload(p *pinReader, _ uint8) (PlatformData, error) {
	var d N3DSPlatform

	if err := readLE(p, &d.PublicSaveSize); err != nil {
		return nil, err
	}
	if err := readLE(p, &d.PrivateSaveSize); err != nil {
		return nil, err
	}
	if err := p.skip(4); err != nil {
		return nil, err
	}
	if err := readBE(p, &d.SRLFlag); err != nil {
		return nil, err
	}
	return d, p.skip(49)
}

func (d N3DSPlatform) dumpPayload(p *pinWriter) error {
	if err := binary.Write(p, binary.LittleEndian, d.PublicSaveSize); err != nil {
		return err
	}
	if err := binary.Write(p, binary.LittleEndian, d.PrivateSaveSize); err != nil {
		return err
	}
	if err := p.writeZeros(4); err != nil {
		return err
	}
	if err := p.writeBE(d.SRLFlag); err != nil {
		return err
	}
	return p.writeZeros(49)
}

func platformDataFor(platform Platform) (PlatformData, error) {
	switch platform {
	case PlatformDSi:
		return DSiPlatform{}, nil
	case PlatformWii:
		return WiiPlatform{}, nil
	case Platform3DS:
		return N3DSPlatform{}, nil
	case PlatformWiiU:
		return WiiUPlatform{}, nil
	}
	return nil, fmt.Errorf("%w: platform %d", ErrBadMagic, uint32(platform))
}

// TitleMetadataV1 is the extra data of version 1 metadata: SHA-256 content
// hashes are grouped and hashed again.
type TitleMetadataV1 struct {
	GroupsHash [32]byte
	Groups     [64]ContentEntriesGroup
}

// ContentEntriesGroup covers a contiguous run of content entries.
type ContentEntriesGroup struct {
	FirstIndex uint16
	Count      uint16
	Hash       [32]byte
}

func parseTitleMetadataV1(p *pinReader) (*TitleMetadataV1, error) {
	v1 := &TitleMetadataV1{}
	if err := readBE(p, &v1.GroupsHash); err != nil {
		return nil, err
	}
	for i := range v1.Groups {
		if err := readBE(p, &v1.Groups[i].FirstIndex); err != nil {
			return nil, err
		}
		if err := readBE(p, &v1.Groups[i].Count); err != nil {
			return nil, err
		}
		if err := readBE(p, &v1.Groups[i].Hash); err != nil {
			return nil, err
		}
	}
	return v1, nil
}

func (v *TitleMetadataV1) dump(p *pinWriter) error {
	if err := p.writeBE(v.GroupsHash); err != nil {
		return err
	}
	for i := range v.Groups {
		if err := p.writeBE(v.Groups[i].FirstIndex); err != nil {
			return err
		}
		if err := p.writeBE(v.Groups[i].Count); err != nil {
			return err
		}
		if err := p.writeBE(v.Groups[i].Hash); err != nil {
			return err
		}
	}
	return nil
}

// ParseTitleMetadata reads a title metadata from the current position of
// the stream.
func ParseTitleMetadata(rs io.ReadSeeker) (*TitleMetadata, error) {
	p, err := newPinReader(rs)
	if err != nil {
		return nil, err
	}

	t := &TitleMetadata{}
	if t.Header, err = parseSignedBlobHeader(p); err != nil {
		return nil, err
	}

	var formatVersion uint8
	if err := readBE(p, &formatVersion); err != nil {
		return nil, err
	}
	if formatVersion > 1 {
		return nil, fmt.Errorf("%w: title metadata version %d", ErrUnsupportedVersion, formatVersion)
	}

	if err := readBE(p, &t.CACRLVersion); err != nil {
		return nil, err
	}
	if err := readBE(p, &t.SignerCRLVersion); err != nil {
		return nil, err
	}

	// Reserved byte everywhere except the Wii, where it flags vWii only
	// titles.
	var vWiiFlag uint8
	if err := readBE(p, &vWiiFlag); err != nil {
		return nil, err
	}

	if err := readBE(p, (*uint64)(&t.SystemTitleID)); err != nil {
		return nil, err
	}
	if err := readBE(p, (*uint64)(&t.TitleID)); err != nil {
		return nil, err
	}

	var platform uint32
	if err := readBE(p, &platform); err != nil {
		return nil, err
	}
	blank, err := platformDataFor(Platform(platform))
	if err != nil {
		return nil, err
	}

	if err := readBE(p, &t.GroupID); err != nil {
		return nil, err
	}

	if t.PlatformData, err = blank.parsePayload(p, vWiiFlag); err != nil {
		return nil, err
	}

	if err := readBE(p, &t.AccessRights); err != nil {
		return nil, err
	}
	if err := readBE(p, &t.TitleVersion); err != nil {
		return nil, err
	}

	var entryCount uint16
	if err := readBE(p, &entryCount); err != nil {
		return nil, err
	}
	if err := readBE(p, &t.BootIndex); err != nil {
		return nil, err
	}
	if err := readBE(p, &t.filler); err != nil {
		return nil, err
	}

	if formatVersion == 1 {
		if t.V1, err = parseTitleMetadataV1(p); err != nil {
			return nil, err
		}
	}

	if entryCount > 0 {
		t.Entries = make([]ContentEntry, entryCount)
		for i := range t.Entries {
			if t.Entries[i], err = parseContentEntry(p, formatVersion == 1); err != nil {
				return nil, fmt.Errorf("content entry %d: %w", i, err)
			}
		}
	}

	return t, nil
}

func (t *TitleMetadata) formatVersion() uint8 {
	if t.V1 != nil {
		return 1
	}
	return 0
}

func (t *TitleMetadata) vWiiFlag() uint8 {
	if wii, ok := t.PlatformData.(WiiPlatform); ok && wii.VWiiOnly {
		return 1
	}
	return 0
}

// Dump serializes the metadata at the current position of the stream. V1
// group hashes are written as held: after content mutations they are stale
// until recomputed by the caller, which matters only to verifiers that
// check them.
func (t *TitleMetadata) Dump(w io.Writer) error {
	return t.dump(newPinWriter(w))
}

func (t *TitleMetadata) dump(p *pinWriter) error {
	if t.PlatformData == nil {
		return fmt.Errorf("%w: title metadata has no platform data", ErrInvalidField)
	}

	if err := t.Header.dump(p); err != nil {
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
	if err := p.writeBE(t.vWiiFlag()); err != nil {
		return err
	}
	if err := t.SystemTitleID.dump(p); err != nil {
		return err
	}
	if err := t.TitleID.dump(p); err != nil {
		return err
	}
	if err := p.writeBE(uint32(t.PlatformData.Platform())); err != nil {
		return err
	}
	if err := p.writeBE(t.GroupID); err != nil {
		return err
	}
	if err := t.PlatformData.dumpPayload(p); err != nil {
		return err
	}
	if err := p.writeBE(t.AccessRights); err != nil {
		return err
	}
	if err := p.writeBE(t.TitleVersion); err != nil {
		return err
	}
	if err := p.writeBE(uint16(len(t.Entries))); err != nil {
		return err
	}
	if err := p.writeBE(t.BootIndex); err != nil {
		return err
	}
	if err := p.writeBE(t.filler); err != nil {
		return err
	}

	if t.V1 != nil {
		if err := t.V1.dump(p); err != nil {
			return err
		}
	}

	for i := range t.Entries {
		if err := t.Entries[i].dump(p, t.V1 != nil); err != nil {
			return fmt.Errorf("content entry %d: %w", i, err)
		}
	}

	return nil
}

// Size is the serialized size of the metadata in bytes.
func (t *TitleMetadata) Size() (uint32, error) {
	headerSize, err := t.Header.Size()
	if err != nil {
		return 0, err
	}

	entries := uint32(len(t.Entries))
	size := headerSize + 100
	if t.V1 != nil {
		size += 48*entries + 32 + (4+32)*64
	} else {
		size += 36 * entries
	}
	return size, nil
}

// ContentsSize is the total byte size of the content blob the metadata
// describes, each content padded to its 16 byte boundary.
func (t *TitleMetadata) ContentsSize() uint64 {
	var total uint64
	for i := range t.Entries {
		total += alignUp(t.Entries[i].Size, 16)
	}
	return total
}

// HasDVDAccess reports the optical drive access right. Only meaningful on
// the Wii.
func (t *TitleMetadata) HasDVDAccess() (bool, error) {
	if _, ok := t.PlatformData.(WiiPlatform); !ok {
		return false, fmt.Errorf("%w: DVD access is a wii access right", ErrInvalidField)
	}
	return t.AccessRights&0b10 != 0, nil
}

// HasFullPPCAccess reports whether the title may drive the hardware from
// the PPC without IOS mediation (AHBPROT lifted). Only meaningful on the
// Wii.
func (t *TitleMetadata) HasFullPPCAccess() (bool, error) {
	if _, ok := t.PlatformData.(WiiPlatform); !ok {
		return false, fmt.Errorf("%w: PPC access is a wii access right", ErrInvalidField)
	}
	return t.AccessRights&0b1 != 0, nil
}

// Fakesign zeroes the signature and brute forces the unused filler bytes
// until the body hash has a leading zero byte. See Ticket.Fakesign.
func (t *TitleMetadata) Fakesign() error {
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

		if hashHasLeadingZero(buf.Bytes()[bodyStart-64:]) {
			return nil
		}
	}

	return fmt.Errorf("%w: no filler value yields a forgeable hash", ErrInvalidField)
}
