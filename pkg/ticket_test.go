package pkg

import (
	"bytes"
	"crypto/sha1"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTicketRoundTrip(t *testing.T) {
	ticket := newTestTicket(t, NewTitleID(0x00010001, 0x48414741))
	ticket.DeviceID = 0x1234
	ticket.Audit = 1
	ticket.License = LicenseExportable
	ticket.Limits[0] = LimitEntry{Kind: LimitKindMinutes, Value: 120}
	ticket.Limits[1] = LimitEntry{Kind: LimitKindNoneAlt}
	ticket.filler = 0xbeef

	var buf bytes.Buffer
	require.NoError(t, ticket.Dump(&buf))

	size, err := ticket.Size()
	require.NoError(t, err)
	require.Equal(t, int(size), buf.Len())

	parsed, err := ParseTicket(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Equal(t, ticket, parsed)

	// Byte exact round trip for version 0 tickets.
	var again bytes.Buffer
	require.NoError(t, parsed.Dump(&again))
	require.Equal(t, buf.Bytes(), again.Bytes())
}

func TestTicketUnknownVersion(t *testing.T) {
	ticket := newTestTicket(t, NewTitleID(0x00010001, 0x48414741))

	var buf bytes.Buffer
	require.NoError(t, ticket.Dump(&buf))

	// The format version byte sits right after the ECC public key.
	headerSize, err := ticket.Header.Size()
	require.NoError(t, err)
	data := buf.Bytes()
	data[int(headerSize)+60] = 7

	_, err = ParseTicket(bytes.NewReader(data))
	require.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestTicketBadLimitKind(t *testing.T) {
	ticket := newTestTicket(t, NewTitleID(0x00010001, 0x48414741))
	ticket.Limits[3] = LimitEntry{Kind: 9, Value: 1}

	var buf bytes.Buffer
	require.NoError(t, ticket.Dump(&buf))

	_, err := ParseTicket(bytes.NewReader(buf.Bytes()))
	require.ErrorIs(t, err, ErrInvalidField)
}

func TestTicketTruncated(t *testing.T) {
	ticket := newTestTicket(t, NewTitleID(0x00010001, 0x48414741))

	var buf bytes.Buffer
	require.NoError(t, ticket.Dump(&buf))

	_, err := ParseTicket(bytes.NewReader(buf.Bytes()[:buf.Len()-40]))
	require.ErrorIs(t, err, ErrTruncated)
}

func TestTicketTitleKeyRoundTrip(t *testing.T) {
	ticket := newTestTicket(t, NewTitleID(0x00010001, 0x48414741))

	key, err := ticket.DecryptTitleKey(MethodWii)
	require.NoError(t, err)
	require.Equal(t, testTitleKey, key)
}

func TestTicketTitleKeyDeviceUnique(t *testing.T) {
	ticket := newTestTicket(t, NewTitleID(0x00010001, 0x48414741))

	// Binding the ticket to a device changes the wrap IV, so the stored
	// ciphertext no longer unwraps to the same key.
	bound := *ticket
	bound.DeviceID = 0xcafe
	key, err := bound.DecryptTitleKey(MethodWii)
	require.NoError(t, err)
	require.NotEqual(t, testTitleKey, key)

	require.NoError(t, bound.SetTitleKey(MethodWii, testTitleKey))
	key, err = bound.DecryptTitleKey(MethodWii)
	require.NoError(t, err)
	require.Equal(t, testTitleKey, key)
}

func TestTicketUnknownCommonKeyIndex(t *testing.T) {
	ticket := newTestTicket(t, NewTitleID(0x00010001, 0x48414741))
	ticket.CommonKeyIndex = 9

	_, err := ticket.DecryptTitleKey(MethodWii)
	require.ErrorIs(t, err, ErrKeyMaterial)
}

func TestTicketFakesign(t *testing.T) {
	ticket := newTestTicket(t, NewTitleID(0x00010001, 0x48414741))
	require.NoError(t, ticket.Fakesign())

	require.Equal(t, make([]byte, 256), ticket.Header.Signature)

	var buf bytes.Buffer
	require.NoError(t, ticket.Dump(&buf))

	headerSize, err := ticket.Header.Size()
	require.NoError(t, err)

	sum := sha1.Sum(buf.Bytes()[headerSize-64:])
	require.Zero(t, sum[0])
}

func TestTicketV1RoundTrip(t *testing.T) {
	ticket := newTestTicket(t, NewTitleID(0x00010001, 0x48414741))
	ticket.V1 = &TicketV1{
		Flags: 3,
		Sections: []TicketV1Section{
			{
				Flags: 1,
				Records: SubscriptionRecords{
					{ExpirationTime: 0x5f000000, ReferenceID: ReferenceID{Attributes: 2}},
				},
			},
			{
				Flags: 0,
				Records: ContentConsumptionRecords{
					{ContentIndex: 1, LimitCode: 2, LimitValue: 30},
					{ContentIndex: 2, LimitCode: 2, LimitValue: 60},
				},
			},
			{
				Flags: 0,
				Records: AccessTitleRecords{
					{TitleID: NewTitleID(0x00010001, 0x48414241), TitleMask: ^uint64(0)},
				},
			},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, ticket.Dump(&buf))

	size, err := ticket.Size()
	require.NoError(t, err)
	require.Equal(t, int(size), buf.Len())

	parsed, err := ParseTicket(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Equal(t, ticket, parsed)

	// The v1 layout is normalized on write, so a second cycle is byte
	// stable even when the input ordering was not.
	var again bytes.Buffer
	require.NoError(t, parsed.Dump(&again))
	require.Equal(t, buf.Bytes(), again.Bytes())
}

func TestTicketV1BadSectionKind(t *testing.T) {
	ticket := newTestTicket(t, NewTitleID(0x00010001, 0x48414741))
	ticket.V1 = &TicketV1{
		Sections: []TicketV1Section{{Records: PermanentRecords{{}}}},
	}

	var buf bytes.Buffer
	require.NoError(t, ticket.Dump(&buf))

	// Corrupt the section kind field. The header entry ends with the kind
	// and flags words, so the kind sits four bytes from the end.
	data := buf.Bytes()
	data[len(data)-4] = 0
	data[len(data)-3] = 9

	_, err := ParseTicket(bytes.NewReader(data))
	require.ErrorIs(t, err, ErrBadMagic)
}
