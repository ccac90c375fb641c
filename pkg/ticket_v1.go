package pkg

import (
	"fmt"
)

// The V1 extension appends a table of typed record sections to a ticket.
// It has seen almost no retail use outside of DLC management, but parsing
// it is required to support the few titles that carry it.

const (
	ticketV1HeaderSize        = 20
	ticketV1SectionHeaderSize = 20
)

// Section kinds of a V1 ticket.
const (
	ticketV1KindPermanent          uint16 = 1
	ticketV1KindSubscription       uint16 = 2
	ticketV1KindContent            uint16 = 3
	ticketV1KindContentConsumption uint16 = 4
	ticketV1KindAccessTitle        uint16 = 5
)

// TicketV1 is the extra data of a version 1 ticket.
type TicketV1 struct {
	Sections []TicketV1Section

	// Flags of the extension header. Meaning unknown, preserved as is.
	Flags uint32
}

// TicketV1Section groups records of a single kind.
type TicketV1Section struct {
	Records TicketV1Records

	// Flags of the section header. Meaning unknown, preserved as is.
	Flags uint16
}

// TicketV1Records is one of the five typed record slices a section can
// hold: PermanentRecords, SubscriptionRecords, ContentRecords,
// ContentConsumptionRecords or AccessTitleRecords.
type TicketV1Records interface {
	kind() uint16
	count() uint32
	recordSize() uint32
	dumpRecords(p *pinWriter) error
}

// ReferenceID tags permanent and subscription records. Its meaning is
// unknown; it is carried opaquely.
type ReferenceID struct {
	ID         [16]byte
	Attributes uint32
}

type PermanentRecord struct {
	ReferenceID ReferenceID
}

type SubscriptionRecord struct {
	// ExpirationTime is in UNIX seconds.
	ExpirationTime uint32
	ReferenceID    ReferenceID
}

type ContentRecord struct {
	OffsetContentIndex uint32
	AccessMask         [128]byte
}

type ContentConsumptionRecord struct {
	ContentIndex uint16
	LimitCode    uint16
	LimitValue   uint32
}

type AccessTitleRecord struct {
	TitleID   TitleID
	TitleMask uint64
}

type PermanentRecords []PermanentRecord

func (r PermanentRecords) kind() uint16       { return ticketV1KindPermanent }
func (r PermanentRecords) count() uint32      { return uint32(len(r)) }
func (r PermanentRecords) recordSize() uint32 { return 16 + 4 }

func (r PermanentRecords) dumpRecords(p *pinWriter) error {
	for i := range r {
		if err := p.writeBE(r[i].ReferenceID.ID); err != nil {
			return err
		}
		if err := p.writeBE(r[i].ReferenceID.Attributes); err != nil {
			return err
		}
	}
	return nil
}

type SubscriptionRecords []SubscriptionRecord

func (r SubscriptionRecords) kind() uint16       { return ticketV1KindSubscription }
func (r SubscriptionRecords) count() uint32      { return uint32(len(r)) }
func (r SubscriptionRecords) recordSize() uint32 { return 4 + 16 + 4 }

func (r SubscriptionRecords) dumpRecords(p *pinWriter) error {
	for i := range r {
		if err := p.writeBE(r[i].ExpirationTime); err != nil {
			return err
		}
		if err := p.writeBE(r[i].ReferenceID.ID); err != nil {
			return err
		}
		if err := p.writeBE(r[i].ReferenceID.Attributes); err != nil {
			return err
		}
	}
	return nil
}

type ContentRecords []ContentRecord

func (r ContentRecords) kind() uint16       { return ticketV1KindContent }
func (r ContentRecords) count() uint32      { return uint32(len(r)) }
func (r ContentRecords) recordSize() uint32 { return 4 + 128 }

func (r ContentRecords) dumpRecords(p *pinWriter) error {
	for i := range r {
		if err := p.writeBE(r[i].OffsetContentIndex); err != nil {
			return err
		}
		if err := p.writeBE(r[i].AccessMask); err != nil {
			return err
		}
	}
	return nil
}

type ContentConsumptionRecords []ContentConsumptionRecord

func (r ContentConsumptionRecords) kind() uint16       { return ticketV1KindContentConsumption }
func (r ContentConsumptionRecords) count() uint32      { return uint32(len(r)) }
func (r ContentConsumptionRecords) recordSize() uint32 { return 2 + 2 + 4 }

func (r ContentConsumptionRecords) dumpRecords(p *pinWriter) error {
	for i := range r {
		if err := p.writeBE(r[i].ContentIndex); err != nil {
			return err
		}
		if err := p.writeBE(r[i].LimitCode); err != nil {
			return err
		}
		if err := p.writeBE(r[i].LimitValue); err != nil {
			return err
		}
	}
	return nil
}

type AccessTitleRecords []AccessTitleRecord

func (r AccessTitleRecords) kind() uint16       { return ticketV1KindAccessTitle }
func (r AccessTitleRecords) count() uint32      { return uint32(len(r)) }
func (r AccessTitleRecords) recordSize() uint32 { return 8 + 8 }

func (r AccessTitleRecords) dumpRecords(p *pinWriter) error {
	for i := range r {
		if err := p.writeBE(uint64(r[i].TitleID)); err != nil {
			return err
		}
		if err := p.writeBE(r[i].TitleMask); err != nil {
			return err
		}
	}
	return nil
}

// parseTicketV1 reads the extension with its own pin: every offset inside
// the extension is relative to its first byte.
func parseTicketV1(outer *pinReader) (*TicketV1, error) {
	p, err := newPinReader(outer.rs)
	if err != nil {
		return nil, err
	}

	var version uint16
	if err := readBE(p, &version); err != nil {
		return nil, err
	}
	if version != 1 {
		return nil, fmt.Errorf("%w: ticket v1 extension version %d", ErrUnsupportedVersion, version)
	}

	var headerSize uint16
	if err := readBE(p, &headerSize); err != nil {
		return nil, err
	}
	if headerSize != ticketV1HeaderSize {
		return nil, fmt.Errorf("%w: ticket v1 header size %d", ErrInvalidField, headerSize)
	}

	var dataSize uint32
	if err := readBE(p, &dataSize); err != nil {
		return nil, err
	}

	var firstSectionOffset uint32
	if err := readBE(p, &firstSectionOffset); err != nil {
		return nil, err
	}

	var sectionCount uint16
	if err := readBE(p, &sectionCount); err != nil {
		return nil, err
	}

	var sectionHeaderSize uint16
	if err := readBE(p, &sectionHeaderSize); err != nil {
		return nil, err
	}
	if sectionHeaderSize != ticketV1SectionHeaderSize {
		return nil, fmt.Errorf("%w: ticket v1 section header size %d", ErrInvalidField, sectionHeaderSize)
	}

	v1 := &TicketV1{}
	if err := readBE(p, &v1.Flags); err != nil {
		return nil, err
	}

	if err := p.seekTo(int64(firstSectionOffset)); err != nil {
		return nil, err
	}

	for i := uint16(0); i < sectionCount; i++ {
		section, err := parseTicketV1Section(p)
		if err != nil {
			return nil, fmt.Errorf("ticket v1 section %d: %w", i, err)
		}
		v1.Sections = append(v1.Sections, section)
	}

	if dataSize != v1.size() {
		return nil, fmt.Errorf("%w: ticket v1 data size %d does not match contents (%d)",
			ErrInvalidField, dataSize, v1.size())
	}

	// Leave the cursor at the end of the extension.
	if err := p.seekTo(int64(dataSize)); err != nil {
		return nil, err
	}

	return v1, nil
}

func parseTicketV1Section(p *pinReader) (TicketV1Section, error) {
	var section TicketV1Section

	var recordsOffset, recordCount uint32
	if err := readBE(p, &recordsOffset); err != nil {
		return section, err
	}
	if err := readBE(p, &recordCount); err != nil {
		return section, err
	}

	// Record size and section total size are redundant with the kind.
	if err := p.skip(8); err != nil {
		return section, err
	}

	var kind uint16
	if err := readBE(p, &kind); err != nil {
		return section, err
	}
	if err := readBE(p, &section.Flags); err != nil {
		return section, err
	}

	nextSection, err := p.pos()
	if err != nil {
		return section, err
	}

	if err := p.seekTo(int64(recordsOffset)); err != nil {
		return section, err
	}

	switch kind {
	case ticketV1KindPermanent:
		records := make(PermanentRecords, recordCount)
		for i := range records {
			if err := readBE(p, &records[i].ReferenceID.ID); err != nil {
				return section, err
			}
			if err := readBE(p, &records[i].ReferenceID.Attributes); err != nil {
				return section, err
			}
		}
		section.Records = records

	case ticketV1KindSubscription:
		records := make(SubscriptionRecords, recordCount)
		for i := range records {
			if err := readBE(p, &records[i].ExpirationTime); err != nil {
				return section, err
			}
			if err := readBE(p, &records[i].ReferenceID.ID); err != nil {
				return section, err
			}
			if err := readBE(p, &records[i].ReferenceID.Attributes); err != nil {
				return section, err
			}
		}
		section.Records = records

	case ticketV1KindContent:
		records := make(ContentRecords, recordCount)
		for i := range records {
			if err := readBE(p, &records[i].OffsetContentIndex); err != nil {
				return section, err
			}
			if err := readBE(p, &records[i].AccessMask); err != nil {
				return section, err
			}
		}
		section.Records = records

	case ticketV1KindContentConsumption:
		records := make(ContentConsumptionRecords, recordCount)
		for i := range records {
			if err := readBE(p, &records[i].ContentIndex); err != nil {
				return section, err
			}
			if err := readBE(p, &records[i].LimitCode); err != nil {
				return section, err
			}
			if err := readBE(p, &records[i].LimitValue); err != nil {
				return section, err
			}
		}
		section.Records = records

	case ticketV1KindAccessTitle:
		records := make(AccessTitleRecords, recordCount)
		for i := range records {
			if err := readBE(p, (*uint64)(&records[i].TitleID)); err != nil {
				return section, err
			}
			if err := readBE(p, &records[i].TitleMask); err != nil {
				return section, err
			}
		}
		section.Records = records

	default:
		return section, fmt.Errorf("%w: ticket v1 section kind %d", ErrBadMagic, kind)
	}

	if err := p.seekTo(nextSection); err != nil {
		return section, err
	}
	return section, nil
}

// dump writes a normalized layout: header, every section's records in
// order, then the section header table. Files in the wild may order these
// blocks differently, so a parse and dump cycle preserves meaning rather
// than bytes.
func (v *TicketV1) dump(outer *pinWriter) error {
	p := newPinWriter(outer)

	if err := p.writeBE(uint16(1)); err != nil {
		return err
	}
	if err := p.writeBE(uint16(ticketV1HeaderSize)); err != nil {
		return err
	}
	if err := p.writeBE(v.size()); err != nil {
		return err
	}

	recordOffsets := make([]uint32, len(v.Sections))
	offset := uint32(ticketV1HeaderSize)
	for i := range v.Sections {
		recordOffsets[i] = offset
		offset += v.Sections[i].Records.recordSize() * v.Sections[i].Records.count()
	}

	// The section header table follows the last record.
	if err := p.writeBE(offset); err != nil {
		return err
	}
	if err := p.writeBE(uint16(len(v.Sections))); err != nil {
		return err
	}
	if err := p.writeBE(uint16(ticketV1SectionHeaderSize)); err != nil {
		return err
	}
	if err := p.writeBE(v.Flags); err != nil {
		return err
	}

	for i := range v.Sections {
		if err := v.Sections[i].Records.dumpRecords(p); err != nil {
			return err
		}
	}

	for i := range v.Sections {
		records := v.Sections[i].Records
		if err := p.writeBE(recordOffsets[i]); err != nil {
			return err
		}
		if err := p.writeBE(records.count()); err != nil {
			return err
		}
		if err := p.writeBE(records.recordSize()); err != nil {
			return err
		}
		if err := p.writeBE(uint32(ticketV1SectionHeaderSize)); err != nil {
			return err
		}
		if err := p.writeBE(records.kind()); err != nil {
			return err
		}
		if err := p.writeBE(v.Sections[i].Flags); err != nil {
			return err
		}
	}

	return nil
}

func (v *TicketV1) size() uint32 {
	size := uint32(ticketV1HeaderSize) + uint32(ticketV1SectionHeaderSize)*uint32(len(v.Sections))
	for i := range v.Sections {
		size += v.Sections[i].Records.recordSize() * v.Sections[i].Records.count()
	}
	return size
}
