package pkg

import (
	"bytes"
	"io"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

var testTitleKey = TitleKey{
	0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77,
	0x88, 0x99, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff,
}

func newTestTicket(t *testing.T, titleID TitleID) *Ticket {
	t.Helper()

	ticket := &Ticket{
		Header: SignedBlobHeader{
			Kind:      SignatureRsa2048Sha1,
			Signature: make([]byte, 256),
			Issuer:    "Root-CA00000001-XS00000003",
		},
		TicketID:       0x100000000,
		TitleID:        titleID,
		TitleVersion:   0x11,
		CommonKeyIndex: 0,
	}
	require.NoError(t, ticket.SetTitleKey(MethodWii, testTitleKey))
	return ticket
}

func newTestMetadata(t *testing.T, titleID TitleID, plaintexts [][]byte) *TitleMetadata {
	t.Helper()

	metadata := &TitleMetadata{
		Header: SignedBlobHeader{
			Kind:      SignatureRsa2048Sha1,
			Signature: make([]byte, 256),
			Issuer:    "Root-CA00000001-CP00000004",
		},
		SystemTitleID: NewTitleID(0x00000001, 58),
		TitleID:       titleID,
		TitleVersion:  0x11,
		PlatformData:  WiiPlatform{Region: RegionFree},
	}

	for i, data := range plaintexts {
		metadata.Entries = append(metadata.Entries, ContentEntry{
			ID:    uint32(i),
			Index: uint16(i),
			Kind:  ContentNormal,
			Size:  uint64(len(data)),
			Hash:  contentHash(metadata, data),
		})
	}
	return metadata
}

func newTestCertificate(identity string) Certificate {
	return Certificate{
		Header: SignedBlobHeader{
			Kind:      SignatureRsa2048Sha1,
			Signature: make([]byte, 256),
			Issuer:    "Root-CA00000001",
		},
		Identity: identity,
		KeyKind:  CertificateKeyRsa2048,
		KeyID:    7,
		Key:      make([]byte, 256+4),
	}
}

func newTestCertChain() CertificateChain {
	return CertificateChain{Certificates: []Certificate{
		newTestCertificate("CA00000001"),
		newTestCertificate("XS00000003"),
		newTestCertificate("CP00000004"),
	}}
}

// buildContainer serializes a full synthetic container with encrypted
// contents and returns its bytes.
func buildContainer(t *testing.T, ticket *Ticket, metadata *TitleMetadata, chain CertificateChain, plaintexts [][]byte, footer []byte) []byte {
	t.Helper()

	require.Equal(t, len(metadata.Entries), len(plaintexts))

	key, err := ticket.DecryptTitleKey(MethodWii)
	require.NoError(t, err)

	chainSize, err := chain.Size()
	require.NoError(t, err)
	ticketSize, err := ticket.Size()
	require.NoError(t, err)
	metadataSize, err := metadata.Size()
	require.NoError(t, err)

	w := &WAD{
		Kind:                 KindNormal,
		CertificateChainSize: chainSize,
		TicketSize:           ticketSize,
		TitleMetadataSize:    metadataSize,
		ContentSize:          uint32(metadata.ContentsSize()),
		FooterSize:           uint32(len(footer)),
	}

	var buf bytes.Buffer
	require.NoError(t, w.DumpHeader(&buf))

	writeAligned := func(dump func(io.Writer) error, boundary int64) {
		p := newPinWriter(&buf)
		require.NoError(t, dump(p))
		require.NoError(t, p.alignZeros(boundary))
	}

	writeAligned(chain.Dump, sectionBoundary)
	writeAligned(ticket.Dump, sectionBoundary)
	writeAligned(metadata.Dump, sectionBoundary)

	for i, data := range plaintexts {
		ciphertext, err := encryptContent(key, metadata.Entries[i].Index, data)
		require.NoError(t, err)
		writeAligned(func(out io.Writer) error {
			_, err := out.Write(ciphertext)
			return err
		}, contentBoundary)
	}

	if len(footer) > 0 {
		writeAligned(func(out io.Writer) error {
			_, err := out.Write(footer)
			return err
		}, sectionBoundary)
	}

	return buf.Bytes()
}

// memContainer copies container bytes into an in-memory file that supports
// reads, writes, seeks and truncation.
func memContainer(t *testing.T, data []byte) afero.File {
	t.Helper()

	fs := afero.NewMemMapFs()
	file, err := fs.Create("title.wad")
	require.NoError(t, err)

	_, err = file.Write(data)
	require.NoError(t, err)
	_, err = file.Seek(0, io.SeekStart)
	require.NoError(t, err)
	return file
}
