package pkg

import (
	"bytes"
	"crypto/sha1"
	"crypto/sha256"
	"fmt"
	"io"
)

// ContentBuilder stages one content mutation: an add, a replace or a
// removal. Configuration is chained, then exactly one terminal action runs;
// the builder refuses to be reused afterwards.
//
// Everything destructive happens in two phases: the terminal first reads
// and serializes all it needs in memory, and only then touches the stream.
// An error in the first phase leaves both the stream and the metadata as
// they were.
type ContentBuilder struct {
	wad *WAD
	rws io.ReadWriteSeeker

	ticket *Ticket
	method CryptographicMethod
	keyed  bool

	newID    *uint32
	newIndex *uint16
	newKind  *ContentKind

	safety WriteSafety
	done   bool
}

// ModifyContent starts a content mutation against the stream backing the
// container. The stream must be the same bytes the container was opened
// from.
func (w *WAD) ModifyContent(rws io.ReadWriteSeeker) *ContentBuilder {
	return &ContentBuilder{wad: w, rws: rws, safety: WriteSafe}
}

// Cryptography supplies the ticket and key schedule used to cipher content
// bytes. Required by Add and Replace.
func (b *ContentBuilder) Cryptography(ticket *Ticket, method CryptographicMethod) *ContentBuilder {
	b.ticket = ticket
	b.method = method
	b.keyed = true
	return b
}

// WriteSafety overrides the default WriteSafe behaviour of the terminal.
func (b *ContentBuilder) WriteSafety(safety WriteSafety) *ContentBuilder {
	b.safety = safety
	return b
}

// ID sets the content ID for Add, or overrides it for Replace.
func (b *ContentBuilder) ID(id uint32) *ContentBuilder {
	b.newID = &id
	return b
}

// Index sets the content index for Add, or overrides it for Replace.
func (b *ContentBuilder) Index(index uint16) *ContentBuilder {
	b.newIndex = &index
	return b
}

// Kind sets the content kind for Add, or overrides it for Replace.
func (b *ContentBuilder) Kind(kind ContentKind) *ContentBuilder {
	b.newKind = &kind
	return b
}

func (b *ContentBuilder) begin() error {
	if b.done {
		return ErrBuilderFinished
	}
	b.done = true
	return nil
}

func (b *ContentBuilder) titleKey() (TitleKey, error) {
	if !b.keyed {
		return TitleKey{}, fmt.Errorf("%w: builder has no cryptography configured", ErrKeyMaterial)
	}
	return b.ticket.DecryptTitleKey(b.method)
}

// checkDistinct enforces the table invariant: IDs and indexes stay pairwise
// distinct. The entry at skip is the one being replaced.
func checkDistinct(t *TitleMetadata, entry ContentEntry, skip int) error {
	for i := range t.Entries {
		if i == skip {
			continue
		}
		if t.Entries[i].ID == entry.ID {
			return fmt.Errorf("%w: content id %#x already in use", ErrInvalidField, entry.ID)
		}
		if t.Entries[i].Index == entry.Index {
			return fmt.Errorf("%w: content index %d already in use", ErrInvalidField, entry.Index)
		}
	}
	return nil
}

func contentHash(t *TitleMetadata, plaintext []byte) []byte {
	if t.V1 != nil {
		sum := sha256.Sum256(plaintext)
		return sum[:]
	}
	sum := sha1.Sum(plaintext)
	return sum[:]
}

// commit rewrites the metadata section and the content blob from the given
// physical position on, then the footer and header. The metadata slice
// must already hold the post-mutation entries, and staged must hold the
// ciphertext of entries[from:].
func (b *ContentBuilder) commit(t *TitleMetadata, trunc truncater, from int, staged *tailSnapshot) error {
	var metadataBuf bytes.Buffer
	if err := t.Dump(&metadataBuf); err != nil {
		return err
	}

	if err := writeSectionAt(b.rws, b.wad.titleMetadataOffset(), metadataBuf.Bytes()); err != nil {
		return err
	}
	b.wad.TitleMetadataSize = uint32(metadataBuf.Len())
	b.wad.syncContentSize(t)

	if err := b.wad.restoreTail(b.rws, t, from, staged); err != nil {
		return err
	}
	if err := b.wad.finishWrite(b.rws, trunc); err != nil {
		return err
	}
	b.wad.metadata = t
	return nil
}

// Add appends a new content. The plaintext is read whole, hashed, encrypted
// and stored after the current last content. ID defaults to the highest
// existing ID plus one, the index to the entry count, the kind to
// ContentNormal.
func (b *ContentBuilder) Add(plaintext io.Reader, t *TitleMetadata) error {
	if err := b.begin(); err != nil {
		return err
	}
	trunc, err := requireTruncate(b.rws, b.safety)
	if err != nil {
		return err
	}

	key, err := b.titleKey()
	if err != nil {
		return err
	}

	data, err := io.ReadAll(plaintext)
	if err != nil {
		return err
	}

	entry := ContentEntry{
		ID:    0,
		Index: uint16(len(t.Entries)),
		Kind:  ContentNormal,
		Size:  uint64(len(data)),
		Hash:  contentHash(t, data),
	}
	for i := range t.Entries {
		if t.Entries[i].ID >= entry.ID {
			entry.ID = t.Entries[i].ID + 1
		}
	}
	if b.newID != nil {
		entry.ID = *b.newID
	}
	if b.newIndex != nil {
		entry.Index = *b.newIndex
	}
	if b.newKind != nil {
		entry.Kind = *b.newKind
	}
	if !entry.Kind.valid() {
		return fmt.Errorf("%w: content kind %#x", ErrInvalidField, uint16(entry.Kind))
	}
	if err := checkDistinct(t, entry, -1); err != nil {
		return err
	}

	ciphertext, err := encryptContent(key, entry.Index, data)
	if err != nil {
		return err
	}

	// A grown metadata section can move the whole content blob, so safe
	// modes stage every content, not just the new one.
	position := len(t.Entries)
	from := position
	staged := &tailSnapshot{contents: [][]byte{ciphertext}}
	if b.safety != WriteRaw {
		snap, err := b.wad.snapshotTail(t, 0)
		if err != nil {
			return err
		}
		staged.contents = append(snap.contents, ciphertext)
		staged.footer = snap.footer
		from = 0
	}

	t.Entries = append(t.Entries, entry)

	if err := b.commit(t, trunc, from, staged); err != nil {
		t.Entries = t.Entries[:position]
		return err
	}
	return nil
}

// Replace overwrites one content with new plaintext, updating its size and
// hash, and its ID, index or kind where the builder overrides them. Every
// content after it moves when the padded size changes, so those are staged
// and rewritten too (except under WriteRaw).
func (b *ContentBuilder) Replace(plaintext io.Reader, selector ContentSelector, t *TitleMetadata) error {
	if err := b.begin(); err != nil {
		return err
	}
	trunc, err := requireTruncate(b.rws, b.safety)
	if err != nil {
		return err
	}

	position, err := selector.Position(t)
	if err != nil {
		return err
	}

	key, err := b.titleKey()
	if err != nil {
		return err
	}

	data, err := io.ReadAll(plaintext)
	if err != nil {
		return err
	}

	entry := t.Entries[position]
	entry.Size = uint64(len(data))
	entry.Hash = contentHash(t, data)
	if b.newID != nil {
		entry.ID = *b.newID
	}
	if b.newIndex != nil {
		entry.Index = *b.newIndex
	}
	if b.newKind != nil {
		entry.Kind = *b.newKind
	}
	if err := checkDistinct(t, entry, position); err != nil {
		return err
	}

	ciphertext, err := encryptContent(key, entry.Index, data)
	if err != nil {
		return err
	}

	from := position
	staged := &tailSnapshot{contents: [][]byte{ciphertext}}
	if b.safety != WriteRaw {
		snap, err := b.wad.snapshotTail(t, 0)
		if err != nil {
			return err
		}
		snap.contents[position] = ciphertext
		staged = snap
		from = 0
	}

	previous := t.Entries[position]
	t.Entries[position] = entry

	if err := b.commit(t, trunc, from, staged); err != nil {
		t.Entries[position] = previous
		return err
	}
	return nil
}

// Remove deletes one content. Everything after it slides down (except under
// WriteRaw, which leaves the trailing bytes in place as garbage).
func (b *ContentBuilder) Remove(selector ContentSelector, t *TitleMetadata) error {
	if err := b.begin(); err != nil {
		return err
	}
	trunc, err := requireTruncate(b.rws, b.safety)
	if err != nil {
		return err
	}

	position, err := selector.Position(t)
	if err != nil {
		return err
	}

	from := position
	staged := &tailSnapshot{}
	if b.safety != WriteRaw {
		snap, err := b.wad.snapshotTail(t, 0)
		if err != nil {
			return err
		}
		snap.contents = append(snap.contents[:position], snap.contents[position+1:]...)
		staged = snap
		from = 0
	}

	removed := t.Entries[position]
	t.Entries = append(t.Entries[:position:position], t.Entries[position+1:]...)

	if err := b.commit(t, trunc, from, staged); err != nil {
		restored := make([]ContentEntry, 0, len(t.Entries)+1)
		restored = append(restored, t.Entries[:position]...)
		restored = append(restored, removed)
		restored = append(restored, t.Entries[position:]...)
		t.Entries = restored
		return err
	}
	return nil
}
