package pkg

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteTicket(t *testing.T) {
	w, file, ticket, metadata, plaintexts, footer := openTestContainer(t)

	require.NoError(t, ticket.Fakesign())
	require.NoError(t, w.WriteTicket(file, ticket, metadata, WriteSafe))

	w2, ticket2, metadata2 := reopen(t, file)
	require.Equal(t, ticket, ticket2)

	for i, want := range plaintexts {
		requireContent(t, w2, ticket2, metadata2, i, want)
	}

	got, err := io.ReadAll(w2.FooterView())
	require.NoError(t, err)
	require.Equal(t, footer, got)
}

func TestWriteTicketGrows(t *testing.T) {
	w, file, ticket, metadata, plaintexts, _ := openTestContainer(t)

	// A v1 extension grows the ticket, moving every later section.
	ticket.V1 = &TicketV1{
		Sections: []TicketV1Section{{Records: PermanentRecords{{}}}},
	}
	require.NoError(t, w.WriteTicket(file, ticket, metadata, WriteSafe))

	w2, ticket2, metadata2 := reopen(t, file)
	require.Equal(t, ticket, ticket2)
	require.Equal(t, metadata.Entries, metadata2.Entries)

	for i, want := range plaintexts {
		requireContent(t, w2, ticket2, metadata2, i, want)
	}
}

func TestWriteTicketKeepsFinalCipherBlock(t *testing.T) {
	w, file, ticket, metadata, plaintexts, _ := openTestContainer(t)

	// Content 0 is not a block multiple, so the bytes between its size and
	// the 16 byte boundary hold the tail of its last cipher block. A safe
	// rewrite must carry them, not re-pad with zeros.
	require.NotZero(t, len(plaintexts[0])%16)

	offset, err := w.contentEntryOffset(metadata, 0)
	require.NoError(t, err)
	extent := int(alignUp(metadata.Entries[0].Size, contentBoundary))

	before := make([]byte, extent)
	_, err = file.ReadAt(before, offset)
	require.NoError(t, err)

	require.NoError(t, w.WriteTicket(file, ticket, metadata, WriteSafe))

	after := make([]byte, extent)
	_, err = file.ReadAt(after, offset)
	require.NoError(t, err)
	require.Equal(t, before, after)

	w2, ticket2, metadata2 := reopen(t, file)
	requireContent(t, w2, ticket2, metadata2, 0, plaintexts[0])
}

func TestWriteTitleMetadata(t *testing.T) {
	w, file, _, metadata, plaintexts, footer := openTestContainer(t)

	metadata.TitleVersion = 0x21
	require.NoError(t, metadata.Fakesign())
	require.NoError(t, w.WriteTitleMetadata(file, metadata, WriteSafe))

	w2, ticket2, metadata2 := reopen(t, file)
	require.Equal(t, metadata, metadata2)

	for i, want := range plaintexts {
		requireContent(t, w2, ticket2, metadata2, i, want)
	}

	got, err := io.ReadAll(w2.FooterView())
	require.NoError(t, err)
	require.Equal(t, footer, got)
}

func TestWriteCertificateChain(t *testing.T) {
	w, file, _, metadata, plaintexts, _ := openTestContainer(t)

	// An extra certificate grows the first section, moving all others.
	chain := newTestCertChain()
	chain.Certificates = append(chain.Certificates, newTestCertificate("XS00000006"))

	ticket := w.Ticket()
	require.NoError(t, w.WriteCertificateChain(file, chain, ticket, metadata, WriteSafe))

	w2, ticket2, metadata2 := reopen(t, file)
	require.Equal(t, chain, w2.CertificateChain())
	require.Equal(t, ticket, ticket2)

	for i, want := range plaintexts {
		requireContent(t, w2, ticket2, metadata2, i, want)
	}
}

func TestWriteFooter(t *testing.T) {
	w, file, _, _, plaintexts, _ := openTestContainer(t)

	footer := []byte("a much longer footer than the container originally had")
	require.NoError(t, w.WriteFooter(file, footer, WriteSafeTruncate))

	w2, ticket2, metadata2 := reopen(t, file)
	require.Equal(t, uint32(len(footer)), w2.FooterSize)

	got, err := io.ReadAll(w2.FooterView())
	require.NoError(t, err)
	require.Equal(t, footer, got)

	for i, want := range plaintexts {
		requireContent(t, w2, ticket2, metadata2, i, want)
	}

	end, err := file.Seek(0, io.SeekEnd)
	require.NoError(t, err)
	require.Equal(t, w2.containerEnd(), end)
}

func TestWriteTicketTruncateUnsupported(t *testing.T) {
	w, file, ticket, metadata, _, _ := openTestContainer(t)

	err := w.WriteTicket(noTruncate{file}, ticket, metadata, WriteSafeTruncate)
	require.ErrorIs(t, err, ErrTruncateUnsupported)

	// Nothing was written; the container still parses as before.
	_, ticket2, _ := reopen(t, file)
	require.Equal(t, ticket, ticket2)
}
