package pkg

import (
	"bytes"
	"crypto/sha1"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTitleMetadataRoundTrip(t *testing.T) {
	metadata := newTestMetadata(t, NewTitleID(0x00010001, 0x48414741), [][]byte{
		[]byte("boot content"),
		bytes.Repeat([]byte{0x5a}, 100),
	})
	metadata.GroupID = 0x3031
	metadata.AccessRights = 0b11
	metadata.BootIndex = 1
	metadata.filler = 0x1234
	metadata.PlatformData = WiiPlatform{
		VWiiOnly: true,
		Region:   RegionEurope,
		IPCMask:  [12]byte{0x80},
	}

	var buf bytes.Buffer
	require.NoError(t, metadata.Dump(&buf))

	size, err := metadata.Size()
	require.NoError(t, err)
	require.Equal(t, int(size), buf.Len())

	parsed, err := ParseTitleMetadata(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Equal(t, metadata, parsed)

	var again bytes.Buffer
	require.NoError(t, parsed.Dump(&again))
	require.Equal(t, buf.Bytes(), again.Bytes())
}

func TestTitleMetadata3DSRoundTrip(t *testing.T) {
	metadata := newTestMetadata(t, NewTitleID(0x00040000, 0x000a0100), nil)
	metadata.SystemTitleID = 0
	metadata.PlatformData = N3DSPlatform{
		PublicSaveSize:  512 * 1024,
		PrivateSaveSize: 64 * 1024,
		SRLFlag:         2,
	}

	var buf bytes.Buffer
	require.NoError(t, metadata.Dump(&buf))

	parsed, err := ParseTitleMetadata(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Equal(t, metadata, parsed)

	// The save sizes are the only little endian fields of the format.
	headerSize, err := metadata.Header.Size()
	require.NoError(t, err)
	payload := buf.Bytes()[int(headerSize)+26:]
	require.Equal(t, []byte{0x00, 0x00, 0x08, 0x00}, payload[:4])
	require.Equal(t, []byte{0x00, 0x00, 0x01, 0x00}, payload[4:8])
}

func TestTitleMetadataV1RoundTrip(t *testing.T) {
	metadata := newTestMetadata(t, NewTitleID(0x00050000, 0x10140200), nil)
	metadata.PlatformData = WiiUPlatform{}
	metadata.V1 = &TitleMetadataV1{}
	metadata.V1.GroupsHash[0] = 0xaa
	metadata.V1.Groups[0] = ContentEntriesGroup{FirstIndex: 0, Count: 1}

	payload := []byte("wiiu content")
	metadata.Entries = []ContentEntry{{
		ID:   1,
		Kind: ContentNormal,
		Size: uint64(len(payload)),
		Hash: contentHash(metadata, payload),
	}}
	require.Len(t, metadata.Entries[0].Hash, 32)

	var buf bytes.Buffer
	require.NoError(t, metadata.Dump(&buf))

	size, err := metadata.Size()
	require.NoError(t, err)
	require.Equal(t, int(size), buf.Len())

	parsed, err := ParseTitleMetadata(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Equal(t, metadata, parsed)
}

func TestTitleMetadataSizeMatchesDump(t *testing.T) {
	for _, count := range []int{0, 1, 5} {
		plaintexts := make([][]byte, count)
		for i := range plaintexts {
			plaintexts[i] = bytes.Repeat([]byte{byte(i)}, 10+i)
		}
		metadata := newTestMetadata(t, NewTitleID(0x00010001, 0x48414741), plaintexts)

		var buf bytes.Buffer
		require.NoError(t, metadata.Dump(&buf))

		size, err := metadata.Size()
		require.NoError(t, err)
		require.Equal(t, int(size), buf.Len())
	}
}

func TestTitleMetadataBadRegion(t *testing.T) {
	metadata := newTestMetadata(t, NewTitleID(0x00010001, 0x48414741), nil)
	metadata.PlatformData = WiiPlatform{Region: WiiRegion(9)}

	var buf bytes.Buffer
	require.NoError(t, metadata.Dump(&buf))

	_, err := ParseTitleMetadata(bytes.NewReader(buf.Bytes()))
	require.ErrorIs(t, err, ErrInvalidField)
}

func TestTitleMetadataBadContentKind(t *testing.T) {
	metadata := newTestMetadata(t, NewTitleID(0x00010001, 0x48414741), [][]byte{[]byte("data")})
	metadata.Entries[0].Kind = ContentKind(0x1234)

	var buf bytes.Buffer
	require.ErrorIs(t, metadata.Dump(&buf), ErrInvalidField)
}

func TestTitleMetadataContentsSize(t *testing.T) {
	metadata := newTestMetadata(t, NewTitleID(0x00010001, 0x48414741), [][]byte{
		make([]byte, 16),
		make([]byte, 17),
		make([]byte, 1),
	})

	// Each content is padded to 16 bytes inside the blob.
	require.Equal(t, uint64(16+32+16), metadata.ContentsSize())
}

func TestTitleMetadataAccessRights(t *testing.T) {
	metadata := newTestMetadata(t, NewTitleID(0x00010001, 0x48414741), nil)
	metadata.AccessRights = 0b10

	dvd, err := metadata.HasDVDAccess()
	require.NoError(t, err)
	require.True(t, dvd)

	ppc, err := metadata.HasFullPPCAccess()
	require.NoError(t, err)
	require.False(t, ppc)

	metadata.PlatformData = DSiPlatform{}
	_, err = metadata.HasDVDAccess()
	require.ErrorIs(t, err, ErrInvalidField)
	_, err = metadata.HasFullPPCAccess()
	require.ErrorIs(t, err, ErrInvalidField)
}

func TestTitleMetadataFakesign(t *testing.T) {
	metadata := newTestMetadata(t, NewTitleID(0x00010001, 0x48414741), [][]byte{[]byte("data")})
	require.NoError(t, metadata.Fakesign())

	var buf bytes.Buffer
	require.NoError(t, metadata.Dump(&buf))

	headerSize, err := metadata.Header.Size()
	require.NoError(t, err)

	sum := sha1.Sum(buf.Bytes()[headerSize-64:])
	require.Zero(t, sum[0])
}

func TestContentSelectors(t *testing.T) {
	metadata := newTestMetadata(t, NewTitleID(0x00010001, 0x48414741), [][]byte{
		[]byte("first"),
		[]byte("second"),
		[]byte("third"),
	})
	metadata.Entries[0].ID = 10
	metadata.Entries[1].ID = 20
	metadata.Entries[2].ID = 30

	selectors := []ContentSelector{
		metadata.SelectByPosition(1),
		metadata.SelectByIndex(1),
		metadata.SelectByID(20),
	}
	for _, s := range selectors {
		position, err := s.Position(metadata)
		require.NoError(t, err)
		require.Equal(t, 1, position)

		entry, err := s.Entry(metadata)
		require.NoError(t, err)
		require.Equal(t, metadata.Entries[1], entry)

		id, err := s.ID(metadata)
		require.NoError(t, err)
		require.Equal(t, uint32(20), id)

		index, err := s.Index(metadata)
		require.NoError(t, err)
		require.Equal(t, uint16(1), index)
	}

	first, err := metadata.SelectFirst().Position(metadata)
	require.NoError(t, err)
	require.Equal(t, 0, first)
}

func TestContentSelectorLazy(t *testing.T) {
	metadata := newTestMetadata(t, NewTitleID(0x00010001, 0x48414741), [][]byte{
		[]byte("first"),
		[]byte("second"),
	})

	last := metadata.SelectLast()
	position, err := last.Position(metadata)
	require.NoError(t, err)
	require.Equal(t, 1, position)

	// The selector resolves against the metadata as it is now, not as it
	// was when the selector was made.
	metadata.Entries = metadata.Entries[:1]
	position, err = last.Position(metadata)
	require.NoError(t, err)
	require.Equal(t, 0, position)
}

func TestContentSelectorNotFound(t *testing.T) {
	metadata := newTestMetadata(t, NewTitleID(0x00010001, 0x48414741), [][]byte{[]byte("only")})

	_, err := metadata.SelectByPosition(5).Position(metadata)
	require.ErrorIs(t, err, ErrContentNotFound)

	_, err = metadata.SelectByIndex(9).Position(metadata)
	require.ErrorIs(t, err, ErrContentNotFound)

	_, err = metadata.SelectByID(0xdead).Position(metadata)
	require.ErrorIs(t, err, ErrContentNotFound)

	metadata.Entries = nil
	_, err = metadata.SelectLast().Position(metadata)
	require.ErrorIs(t, err, ErrContentNotFound)
}
