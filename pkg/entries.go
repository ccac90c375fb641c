package pkg

import "fmt"

// ContentEntry describes one content chunk of a title. The ID is unique per
// title, the index per bundle; both survive reordering, unlike the physical
// position.
type ContentEntry struct {
	ID    uint32
	Index uint16
	Kind  ContentKind
	Size  uint64

	// Hash is SHA-1 (20 bytes) on version 0 metadata and SHA-256 (32
	// bytes) on version 1. Wii U titles store a zero padded SHA-1 there.
	Hash []byte
}

func parseContentEntry(p *pinReader, v1 bool) (ContentEntry, error) {
	var e ContentEntry

	if err := readBE(p, &e.ID); err != nil {
		return e, err
	}
	if err := readBE(p, &e.Index); err != nil {
		return e, err
	}

	var kind uint16
	if err := readBE(p, &kind); err != nil {
		return e, err
	}
	e.Kind = ContentKind(kind)
	if !e.Kind.valid() {
		return e, fmt.Errorf("%w: content kind %#x", ErrInvalidField, kind)
	}

	if err := readBE(p, &e.Size); err != nil {
		return e, err
	}

	hashSize := 20
	if v1 {
		hashSize = 32
	}
	var err error
	e.Hash, err = readFull(p, hashSize)
	return e, err
}

func (e ContentEntry) dump(p *pinWriter, v1 bool) error {
	if !e.Kind.valid() {
		return fmt.Errorf("%w: content kind %#x", ErrInvalidField, uint16(e.Kind))
	}

	wantHash := 20
	if v1 {
		wantHash = 32
	}
	if len(e.Hash) != wantHash {
		return fmt.Errorf("%w: content hash of %d bytes, format wants %d",
			ErrInvalidField, len(e.Hash), wantHash)
	}

	if err := p.writeBE(e.ID); err != nil {
		return err
	}
	if err := p.writeBE(e.Index); err != nil {
		return err
	}
	if err := p.writeBE(uint16(e.Kind)); err != nil {
		return err
	}
	if err := p.writeBE(e.Size); err != nil {
		return err
	}
	_, err := p.Write(e.Hash)
	return err
}

type selectorMethod int

const (
	selectByPosition selectorMethod = iota
	selectByIndex
	selectByID
	selectLast
)

// ContentSelector is a lazy reference to one content of a title metadata.
// It resolves against the metadata each time it is used, so a selector made
// before a mutation stays meaningful afterwards (by ID and index selectors
// follow the entry; positional ones follow the slot).
type ContentSelector struct {
	method   selectorMethod
	position int
	index    uint16
	id       uint32
}

// SelectByPosition selects the content at a physical position, counted in
// storage order from zero.
func (t *TitleMetadata) SelectByPosition(position int) ContentSelector {
	return ContentSelector{method: selectByPosition, position: position}
}

// SelectByID selects the first content with the given ID.
func (t *TitleMetadata) SelectByID(id uint32) ContentSelector {
	return ContentSelector{method: selectByID, id: id}
}

// SelectByIndex selects the first content with the given index.
func (t *TitleMetadata) SelectByIndex(index uint16) ContentSelector {
	return ContentSelector{method: selectByIndex, index: index}
}

// SelectFirst selects the physically first content.
func (t *TitleMetadata) SelectFirst() ContentSelector {
	return t.SelectByPosition(0)
}

// SelectLast selects the physically last content at resolution time, not at
// selector creation time.
func (t *TitleMetadata) SelectLast() ContentSelector {
	return ContentSelector{method: selectLast}
}

// Position resolves the physical position of the selected content.
func (s ContentSelector) Position(t *TitleMetadata) (int, error) {
	switch s.method {
	case selectByPosition:
		if s.position < 0 || s.position >= len(t.Entries) {
			return 0, fmt.Errorf("%w: physical position %d of %d contents",
				ErrContentNotFound, s.position, len(t.Entries))
		}
		return s.position, nil

	case selectByIndex:
		for i := range t.Entries {
			if t.Entries[i].Index == s.index {
				return i, nil
			}
		}
		return 0, fmt.Errorf("%w: index %d", ErrContentNotFound, s.index)

	case selectByID:
		for i := range t.Entries {
			if t.Entries[i].ID == s.id {
				return i, nil
			}
		}
		return 0, fmt.Errorf("%w: id %#x", ErrContentNotFound, s.id)

	default: // selectLast
		if len(t.Entries) == 0 {
			return 0, fmt.Errorf("%w: title has no contents", ErrContentNotFound)
		}
		return len(t.Entries) - 1, nil
	}
}

// Entry resolves the selected content entry.
func (s ContentSelector) Entry(t *TitleMetadata) (ContentEntry, error) {
	position, err := s.Position(t)
	if err != nil {
		return ContentEntry{}, err
	}
	return t.Entries[position], nil
}

// ID resolves the ID of the selected content.
func (s ContentSelector) ID(t *TitleMetadata) (uint32, error) {
	if s.method == selectByID {
		return s.id, nil
	}
	entry, err := s.Entry(t)
	if err != nil {
		return 0, err
	}
	return entry.ID, nil
}

// Index resolves the index of the selected content.
func (s ContentSelector) Index(t *TitleMetadata) (uint16, error) {
	if s.method == selectByIndex {
		return s.index, nil
	}
	entry, err := s.Entry(t)
	if err != nil {
		return 0, err
	}
	return entry.Index, nil
}
