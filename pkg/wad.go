package pkg

import (
	"crypto/aes"
	"fmt"
	"io"

	"github.com/connesc/cipherio"
)

// Kind is the installation behaviour a container declares.
type Kind int

const (
	// KindNormal installs the title as usual.
	KindNormal Kind = iota

	// KindBoot2 carries a version of the boot2 bootloader.
	KindBoot2

	// KindBackup is the flavour used to move channels and DLC to SD
	// cards. Same section layout, different system handling.
	KindBackup
)

func kindFromTag(tag [2]byte) (Kind, error) {
	switch string(tag[:]) {
	case "Is":
		return KindNormal, nil
	case "ib":
		return KindBoot2, nil
	case "Bk":
		return KindBackup, nil
	}
	return 0, fmt.Errorf("%w: container kind %q", ErrBadMagic, tag[:])
}

func (k Kind) tag() string {
	switch k {
	case KindBoot2:
		return "ib"
	case KindBackup:
		return "Bk"
	default:
		return "Is"
	}
}

const (
	// The header declares 32 bytes but occupies 64 on disk like every
	// other section.
	wadHeaderDeclaredSize = 32
	wadHeaderSize         = 64

	sectionBoundary = 64
	contentBoundary = 16
)

// WAD is an open container. It holds the section sizes from the header and
// the backing stream; sections are parsed on demand.
//
// The struct tracks a layout generation. Content mutations bump it, which
// invalidates any SectionView created before the mutation.
type WAD struct {
	Kind Kind

	CertificateChainSize uint32
	TicketSize           uint32
	TitleMetadataSize    uint32
	ContentSize          uint32
	FooterSize           uint32

	chain    CertificateChain
	ticket   *Ticket
	metadata *TitleMetadata

	rs  io.ReadSeeker
	gen uint64
}

// Open reads the container from the start of the stream: the header, then
// the certificate chain, ticket and title metadata sections. Contents stay
// on the stream and are only reached through views. The stream is retained.
func Open(rs io.ReadSeeker) (*WAD, error) {
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	w := &WAD{rs: rs}

	var headerSize uint32
	if err := readBE(rs, &headerSize); err != nil {
		return nil, err
	}
	if headerSize != wadHeaderDeclaredSize {
		return nil, fmt.Errorf("%w: header size %d", ErrBadMagic, headerSize)
	}

	var tag [2]byte
	if err := readBE(rs, &tag); err != nil {
		return nil, err
	}
	kind, err := kindFromTag(tag)
	if err != nil {
		return nil, err
	}
	w.Kind = kind

	var formatVersion uint16
	if err := readBE(rs, &formatVersion); err != nil {
		return nil, err
	}
	if formatVersion != 0 {
		return nil, fmt.Errorf("%w: container format version %d", ErrUnsupportedVersion, formatVersion)
	}

	if err := readBE(rs, &w.CertificateChainSize); err != nil {
		return nil, err
	}
	if _, err := rs.Seek(4, io.SeekCurrent); err != nil {
		return nil, err
	}
	if err := readBE(rs, &w.TicketSize); err != nil {
		return nil, err
	}
	if err := readBE(rs, &w.TitleMetadataSize); err != nil {
		return nil, err
	}
	if err := readBE(rs, &w.ContentSize); err != nil {
		return nil, err
	}
	if err := readBE(rs, &w.FooterSize); err != nil {
		return nil, err
	}

	// The declared sections must fit the stream before anything trusts
	// their offsets.
	length, err := rs.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}
	if end := w.footerOffset() + int64(w.FooterSize); end > length {
		return nil, fmt.Errorf("%w: sections end at %d, stream has %d bytes",
			ErrTruncated, end, length)
	}

	if _, err := rs.Seek(w.certificateChainOffset(), io.SeekStart); err != nil {
		return nil, err
	}
	if w.chain, err = ParseCertificateChainSized(rs, w.CertificateChainSize); err != nil {
		return nil, fmt.Errorf("certificate chain: %w", err)
	}

	if _, err := rs.Seek(w.ticketOffset(), io.SeekStart); err != nil {
		return nil, err
	}
	if w.ticket, err = ParseTicket(rs); err != nil {
		return nil, fmt.Errorf("ticket: %w", err)
	}

	if _, err := rs.Seek(w.titleMetadataOffset(), io.SeekStart); err != nil {
		return nil, err
	}
	if w.metadata, err = ParseTitleMetadata(rs); err != nil {
		return nil, fmt.Errorf("title metadata: %w", err)
	}

	return w, nil
}

// DumpHeader serializes the 64 byte header block.
func (w *WAD) DumpHeader(out io.Writer) error {
	p := newPinWriter(out)

	if err := p.writeBE(uint32(wadHeaderDeclaredSize)); err != nil {
		return err
	}
	if _, err := io.WriteString(p, w.Kind.tag()); err != nil {
		return err
	}
	if err := p.writeBE(uint16(0)); err != nil {
		return err
	}
	if err := p.writeBE(w.CertificateChainSize); err != nil {
		return err
	}
	if err := p.writeZeros(4); err != nil {
		return err
	}
	if err := p.writeBE(w.TicketSize); err != nil {
		return err
	}
	if err := p.writeBE(w.TitleMetadataSize); err != nil {
		return err
	}
	if err := p.writeBE(w.ContentSize); err != nil {
		return err
	}
	if err := p.writeBE(w.FooterSize); err != nil {
		return err
	}
	return p.alignZeros(sectionBoundary)
}

// Section offsets. The header occupies a full boundary, and every section
// before the content blob is padded to the boundary.

func (w *WAD) certificateChainOffset() int64 {
	return wadHeaderSize
}

func (w *WAD) ticketOffset() int64 {
	return w.certificateChainOffset() + int64(alignUp(uint64(w.CertificateChainSize), sectionBoundary))
}

func (w *WAD) titleMetadataOffset() int64 {
	return w.ticketOffset() + int64(alignUp(uint64(w.TicketSize), sectionBoundary))
}

func (w *WAD) contentOffset() int64 {
	return w.titleMetadataOffset() + int64(alignUp(uint64(w.TitleMetadataSize), sectionBoundary))
}

func (w *WAD) footerOffset() int64 {
	return w.contentOffset() + int64(w.ContentSize)
}

// contentEntryOffset is the absolute offset of the content at a physical
// position. Contents are stored in entry order, each padded to a 16 byte
// boundary.
func (w *WAD) contentEntryOffset(t *TitleMetadata, position int) (int64, error) {
	if position < 0 || position >= len(t.Entries) {
		return 0, fmt.Errorf("%w: physical position %d of %d contents",
			ErrContentNotFound, position, len(t.Entries))
	}

	offset := w.contentOffset()
	for i := 0; i < position; i++ {
		offset += int64(alignUp(t.Entries[i].Size, contentBoundary))
	}
	return offset, nil
}

// view builds a window tied to the current layout generation.
func (w *WAD) view(base, size int64) *SectionView {
	gen := w.gen
	return &SectionView{
		rs:   w.rs,
		base: base,
		size: size,
		check: func() error {
			if w.gen != gen {
				return fmt.Errorf("%w: view predates a content mutation", ErrInvalidField)
			}
			return nil
		},
	}
}

// CertificateChainView is a raw window over the certificate chain section.
func (w *WAD) CertificateChainView() *SectionView {
	return w.view(w.certificateChainOffset(), int64(w.CertificateChainSize))
}

// TicketView is a raw window over the ticket section.
func (w *WAD) TicketView() *SectionView {
	return w.view(w.ticketOffset(), int64(w.TicketSize))
}

// TitleMetadataView is a raw window over the title metadata section.
func (w *WAD) TitleMetadataView() *SectionView {
	return w.view(w.titleMetadataOffset(), int64(w.TitleMetadataSize))
}

// FooterView is a raw window over the footer. Footers usually carry build
// timestamps and are optional; the view is empty when absent.
func (w *WAD) FooterView() *SectionView {
	return w.view(w.footerOffset(), int64(w.FooterSize))
}

// CertificateChain is the chain parsed at open time, or the one last written
// through WriteCertificateChain.
func (w *WAD) CertificateChain() CertificateChain {
	return w.chain
}

// Ticket is the ticket parsed at open time, or the one last written through
// WriteTicket.
func (w *WAD) Ticket() *Ticket {
	return w.ticket
}

// TitleMetadata is the metadata parsed at open time, updated by metadata and
// content writes.
func (w *WAD) TitleMetadata() *TitleMetadata {
	return w.metadata
}

// EncryptedContentView is a window over the stored bytes of one content,
// ciphertext included padding excluded.
func (w *WAD) EncryptedContentView(t *TitleMetadata, selector ContentSelector) (*SectionView, error) {
	position, err := selector.Position(t)
	if err != nil {
		return nil, err
	}
	offset, err := w.contentEntryOffset(t, position)
	if err != nil {
		return nil, err
	}
	return w.view(offset, int64(t.Entries[position].Size)), nil
}

// DecryptedContentView is a streaming plaintext reader over one content.
// Decryption is not cached; wrap the reader in a bufio.Reader when doing
// many small reads.
func (w *WAD) DecryptedContentView(ticket *Ticket, t *TitleMetadata, method CryptographicMethod, selector ContentSelector) (io.Reader, error) {
	position, err := selector.Position(t)
	if err != nil {
		return nil, err
	}
	offset, err := w.contentEntryOffset(t, position)
	if err != nil {
		return nil, err
	}
	entry := t.Entries[position]

	key, err := ticket.DecryptTitleKey(method)
	if err != nil {
		return nil, err
	}
	mode, err := contentDecrypter(key, entry.Index)
	if err != nil {
		return nil, err
	}

	// The cipher needs whole blocks, the caller wants the exact size.
	padded := w.view(offset, int64(alignUp(entry.Size, uint64(aes.BlockSize))))
	return io.LimitReader(cipherio.NewBlockReader(padded, mode), int64(entry.Size)), nil
}

// syncContentSize recomputes the header content size from the metadata:
// the sum of the stored (padded) size of every content.
func (w *WAD) syncContentSize(t *TitleMetadata) {
	w.ContentSize = uint32(t.ContentsSize())
}
