package pkg

import (
	"bytes"
	"fmt"
	"io"
)

type truncater interface {
	Truncate(size int64) error
}

// requireTruncate resolves the truncation capability before anything is
// written, so an unsupported stream fails with the container untouched.
func requireTruncate(w io.Writer, safety WriteSafety) (truncater, error) {
	if safety != WriteSafeTruncate {
		return nil, nil
	}
	t, ok := w.(truncater)
	if !ok {
		return nil, ErrTruncateUnsupported
	}
	return t, nil
}

// tailSnapshot is the in-memory copy of everything stored after a section
// being rewritten: the raw bytes of each content and the footer.
type tailSnapshot struct {
	contents [][]byte
	footer   []byte
}

// snapshotTail buffers the stored bytes of every content from the given
// physical position on, plus the footer, using the current layout. Contents
// are captured to their padded extent: the bytes past Size belong to the
// final cipher block, not the padding.
func (w *WAD) snapshotTail(t *TitleMetadata, from int) (*tailSnapshot, error) {
	snap := &tailSnapshot{}

	for i := from; i < len(t.Entries); i++ {
		offset, err := w.contentEntryOffset(t, i)
		if err != nil {
			return nil, err
		}
		if _, err := w.rs.Seek(offset, io.SeekStart); err != nil {
			return nil, err
		}
		data, err := readFull(w.rs, int(alignUp(t.Entries[i].Size, contentBoundary)))
		if err != nil {
			return nil, fmt.Errorf("content %d: %w", i, err)
		}
		snap.contents = append(snap.contents, data)
	}

	if w.FooterSize > 0 {
		if _, err := w.rs.Seek(w.footerOffset(), io.SeekStart); err != nil {
			return nil, err
		}
		footer, err := readFull(w.rs, int(w.FooterSize))
		if err != nil {
			return nil, fmt.Errorf("footer: %w", err)
		}
		snap.footer = footer
	}

	return snap, nil
}

// restoreTail writes the snapshot back under the current (possibly moved)
// layout, padding each content to its boundary.
func (w *WAD) restoreTail(rws io.ReadWriteSeeker, t *TitleMetadata, from int, snap *tailSnapshot) error {
	for i, data := range snap.contents {
		offset, err := w.contentEntryOffset(t, from+i)
		if err != nil {
			return err
		}
		if _, err := rws.Seek(offset, io.SeekStart); err != nil {
			return err
		}
		p := newPinWriter(rws)
		if _, err := p.Write(data); err != nil {
			return err
		}
		if err := p.alignZeros(contentBoundary); err != nil {
			return err
		}
	}

	if len(snap.footer) > 0 {
		if _, err := rws.Seek(w.footerOffset(), io.SeekStart); err != nil {
			return err
		}
		p := newPinWriter(rws)
		if _, err := p.Write(snap.footer); err != nil {
			return err
		}
		if err := p.alignZeros(sectionBoundary); err != nil {
			return err
		}
	}

	return nil
}

// writeSectionAt writes a serialized section at an absolute offset, zero
// padded to the section boundary.
func writeSectionAt(rws io.WriteSeeker, offset int64, data []byte) error {
	if _, err := rws.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	p := newPinWriter(rws)
	if _, err := p.Write(data); err != nil {
		return err
	}
	return p.alignZeros(sectionBoundary)
}

// containerEnd is the first byte past the footer under the current layout.
func (w *WAD) containerEnd() int64 {
	return w.footerOffset() + int64(alignUp(uint64(w.FooterSize), sectionBoundary))
}

func (w *WAD) finishWrite(rws io.ReadWriteSeeker, trunc truncater) error {
	if _, err := rws.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if err := w.DumpHeader(rws); err != nil {
		return err
	}

	if trunc != nil {
		if err := trunc.Truncate(w.containerEnd()); err != nil {
			return err
		}
	}

	w.gen++
	return nil
}

// WriteTicket replaces the ticket section. The title metadata is needed
// because a ticket size change moves every section after it: with WriteSafe
// or WriteSafeTruncate the metadata, contents and footer are rewritten at
// their new offsets; with WriteRaw only the ticket bytes and the header are
// touched and the caller owns the consequences.
func (w *WAD) WriteTicket(rws io.ReadWriteSeeker, ticket *Ticket, t *TitleMetadata, safety WriteSafety) error {
	trunc, err := requireTruncate(rws, safety)
	if err != nil {
		return err
	}

	var ticketBuf bytes.Buffer
	if err := ticket.Dump(&ticketBuf); err != nil {
		return err
	}

	if safety == WriteRaw {
		if err := writeSectionAt(rws, w.ticketOffset(), ticketBuf.Bytes()); err != nil {
			return err
		}
		w.TicketSize = uint32(ticketBuf.Len())
		if err := w.finishWrite(rws, trunc); err != nil {
			return err
		}
		w.ticket = ticket
		return nil
	}

	var metadataBuf bytes.Buffer
	if err := t.Dump(&metadataBuf); err != nil {
		return err
	}

	snap, err := w.snapshotTail(t, 0)
	if err != nil {
		return err
	}

	if err := writeSectionAt(rws, w.ticketOffset(), ticketBuf.Bytes()); err != nil {
		return err
	}
	w.TicketSize = uint32(ticketBuf.Len())

	if err := writeSectionAt(rws, w.titleMetadataOffset(), metadataBuf.Bytes()); err != nil {
		return err
	}
	w.TitleMetadataSize = uint32(metadataBuf.Len())

	if err := w.restoreTail(rws, t, 0, snap); err != nil {
		return err
	}
	if err := w.finishWrite(rws, trunc); err != nil {
		return err
	}
	w.ticket = ticket
	w.metadata = t
	return nil
}

// WriteTitleMetadata replaces the title metadata section, rewriting the
// contents and footer at their moved offsets unless WriteRaw is chosen.
func (w *WAD) WriteTitleMetadata(rws io.ReadWriteSeeker, t *TitleMetadata, safety WriteSafety) error {
	trunc, err := requireTruncate(rws, safety)
	if err != nil {
		return err
	}

	var metadataBuf bytes.Buffer
	if err := t.Dump(&metadataBuf); err != nil {
		return err
	}

	var snap *tailSnapshot
	if safety != WriteRaw {
		if snap, err = w.snapshotTail(t, 0); err != nil {
			return err
		}
	}

	if err := writeSectionAt(rws, w.titleMetadataOffset(), metadataBuf.Bytes()); err != nil {
		return err
	}
	w.TitleMetadataSize = uint32(metadataBuf.Len())
	w.syncContentSize(t)

	if snap != nil {
		if err := w.restoreTail(rws, t, 0, snap); err != nil {
			return err
		}
	}
	if err := w.finishWrite(rws, trunc); err != nil {
		return err
	}
	w.metadata = t
	return nil
}

// WriteCertificateChain replaces the certificate chain, the first section,
// so a size change moves everything: the ticket and metadata are
// re-serialized and the contents and footer rewritten unless WriteRaw.
func (w *WAD) WriteCertificateChain(rws io.ReadWriteSeeker, chain CertificateChain, ticket *Ticket, t *TitleMetadata, safety WriteSafety) error {
	trunc, err := requireTruncate(rws, safety)
	if err != nil {
		return err
	}

	var chainBuf bytes.Buffer
	if err := chain.Dump(&chainBuf); err != nil {
		return err
	}

	if safety == WriteRaw {
		if err := writeSectionAt(rws, w.certificateChainOffset(), chainBuf.Bytes()); err != nil {
			return err
		}
		w.CertificateChainSize = uint32(chainBuf.Len())
		if err := w.finishWrite(rws, trunc); err != nil {
			return err
		}
		w.chain = chain
		return nil
	}

	var ticketBuf, metadataBuf bytes.Buffer
	if err := ticket.Dump(&ticketBuf); err != nil {
		return err
	}
	if err := t.Dump(&metadataBuf); err != nil {
		return err
	}

	snap, err := w.snapshotTail(t, 0)
	if err != nil {
		return err
	}

	if err := writeSectionAt(rws, w.certificateChainOffset(), chainBuf.Bytes()); err != nil {
		return err
	}
	w.CertificateChainSize = uint32(chainBuf.Len())

	if err := writeSectionAt(rws, w.ticketOffset(), ticketBuf.Bytes()); err != nil {
		return err
	}
	w.TicketSize = uint32(ticketBuf.Len())

	if err := writeSectionAt(rws, w.titleMetadataOffset(), metadataBuf.Bytes()); err != nil {
		return err
	}
	w.TitleMetadataSize = uint32(metadataBuf.Len())

	if err := w.restoreTail(rws, t, 0, snap); err != nil {
		return err
	}
	if err := w.finishWrite(rws, trunc); err != nil {
		return err
	}
	w.chain = chain
	w.ticket = ticket
	w.metadata = t
	return nil
}

// WriteFooter replaces the footer. Nothing is stored after it, so every
// safety level writes the same bytes; WriteSafeTruncate additionally trims
// the stream to the new end.
func (w *WAD) WriteFooter(rws io.ReadWriteSeeker, footer []byte, safety WriteSafety) error {
	trunc, err := requireTruncate(rws, safety)
	if err != nil {
		return err
	}

	if err := writeSectionAt(rws, w.footerOffset(), footer); err != nil {
		return err
	}
	w.FooterSize = uint32(len(footer))
	return w.finishWrite(rws, trunc)
}
