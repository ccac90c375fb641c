package pkg

import "fmt"

// SignatureKind identifies the algorithm of a signed blob signature.
type SignatureKind uint32

const (
	SignatureRsa4096Sha1   SignatureKind = 0x010000
	SignatureRsa2048Sha1   SignatureKind = 0x010001
	SignatureEcdsaSha1     SignatureKind = 0x010002
	SignatureRsa4096Sha256 SignatureKind = 0x010003
	SignatureRsa2048Sha256 SignatureKind = 0x010004
	SignatureEcdsaSha256   SignatureKind = 0x010005
	SignatureHmacSha1      SignatureKind = 0x010006
)

func (k SignatureKind) payloadSize() (int, error) {
	switch k {
	case SignatureRsa4096Sha1, SignatureRsa4096Sha256:
		return 512, nil
	case SignatureRsa2048Sha1, SignatureRsa2048Sha256:
		return 256, nil
	case SignatureEcdsaSha1, SignatureEcdsaSha256:
		return 60, nil
	case SignatureHmacSha1:
		return 20, nil
	}
	return 0, fmt.Errorf("%w: signature kind %#x", ErrBadMagic, uint32(k))
}

// CertificateKeyKind identifies the public key layout inside a certificate.
type CertificateKeyKind uint32

const (
	CertificateKeyRsa4096 CertificateKeyKind = 0
	CertificateKeyRsa2048 CertificateKeyKind = 1
	CertificateKeyEccB233 CertificateKeyKind = 2
)

func (k CertificateKeyKind) payloadSize() (int, error) {
	switch k {
	case CertificateKeyRsa4096:
		return 512 + 4, nil
	case CertificateKeyRsa2048:
		return 256 + 4, nil
	case CertificateKeyEccB233:
		return 60, nil
	}
	return 0, fmt.Errorf("%w: certificate key kind %#x", ErrBadMagic, uint32(k))
}

// ContentKind is the behaviour of a content inside the system. Only the
// known safe subset of the content-type flags is accepted.
type ContentKind uint16

const (
	ContentNormal      ContentKind = 0x0001
	ContentNormalWiiU1 ContentKind = 0x2001
	ContentNormalWiiU2 ContentKind = 0x2003
	ContentNormalWiiU3 ContentKind = 0x6003
	ContentDLC         ContentKind = 0x4001
	ContentShared      ContentKind = 0x8001
)

func (k ContentKind) valid() bool {
	switch k {
	case ContentNormal, ContentNormalWiiU1, ContentNormalWiiU2,
		ContentNormalWiiU3, ContentDLC, ContentShared:
		return true
	}
	return false
}

// LicenseKind is the license policy of a ticket.
type LicenseKind uint8

const (
	LicenseNormal     LicenseKind = 0
	LicenseExportable LicenseKind = 1
)

// Ticket limit entry kinds. NoLimit has been observed stored both as 0 and
// as 3; the parsed value is preserved to keep re-serialization exact.
const (
	LimitKindNone     uint32 = 0
	LimitKindMinutes  uint32 = 1
	LimitKindLaunches uint32 = 2
	LimitKindNoneAlt  uint32 = 3
)

// Platform discriminates the per-platform payload of a title metadata.
type Platform uint32

const (
	PlatformDSi  Platform = 0
	PlatformWii  Platform = 1
	Platform3DS  Platform = 64
	PlatformWiiU Platform = 256
)

// WiiRegion is the region lock of a Wii title.
type WiiRegion uint16

const (
	RegionJapan  WiiRegion = 0
	RegionUSA    WiiRegion = 1
	RegionEurope WiiRegion = 2
	RegionFree   WiiRegion = 3
	RegionKorea  WiiRegion = 4
)

func (r WiiRegion) valid() bool {
	return r <= RegionKorea
}

// WriteSafety selects how a variable-length rewrite treats the bytes that
// physically follow the affected region.
type WriteSafety int

const (
	// WriteRaw overwrites only the target bytes. If the new size differs
	// from the old, everything after the region is left in place and
	// becomes garbage. Only useful when the caller controls the whole
	// remaining layout.
	WriteRaw WriteSafety = iota

	// WriteSafe buffers every byte after the affected region in memory
	// and rewrites it at its new offset. Always correct, bounded by
	// available memory.
	WriteSafe

	// WriteSafeTruncate is WriteSafe plus shrinking the backing stream
	// to the new container size. Requires the stream to support
	// truncation.
	WriteSafeTruncate
)
