package pkg

import (
	"crypto/sha1"
	"fmt"
	"io"
)

// SignedBlobHeader prefixes tickets, title metadata and certificates with a
// signature and the name of the entity that issued it.
type SignedBlobHeader struct {
	Kind      SignatureKind
	Signature []byte
	Issuer    string
}

func parseSignedBlobHeader(p *pinReader) (SignedBlobHeader, error) {
	var h SignedBlobHeader

	var kind uint32
	if err := readBE(p, &kind); err != nil {
		return h, err
	}
	h.Kind = SignatureKind(kind)

	size, err := h.Kind.payloadSize()
	if err != nil {
		return h, err
	}

	if h.Signature, err = readFull(p, size); err != nil {
		return h, err
	}

	if err := p.alignPos(64); err != nil {
		return h, err
	}

	issuer, err := readFull(p, 64)
	if err != nil {
		return h, err
	}
	h.Issuer = trimNul(issuer)

	return h, nil
}

// ParseSignedBlobHeader reads a signed blob header from the current position
// of the stream. Alignment inside the blob is relative to that position.
func ParseSignedBlobHeader(rs io.ReadSeeker) (SignedBlobHeader, error) {
	p, err := newPinReader(rs)
	if err != nil {
		return SignedBlobHeader{}, err
	}
	return parseSignedBlobHeader(p)
}

func (h SignedBlobHeader) dump(p *pinWriter) error {
	size, err := h.Kind.payloadSize()
	if err != nil {
		return err
	}
	if len(h.Signature) != size {
		return fmt.Errorf("%w: signature of %d bytes, kind wants %d",
			ErrInvalidField, len(h.Signature), size)
	}

	if err := p.writeBE(uint32(h.Kind)); err != nil {
		return err
	}
	if _, err := p.Write(h.Signature); err != nil {
		return err
	}
	if err := p.alignZeros(64); err != nil {
		return err
	}
	return p.writePadded([]byte(h.Issuer), 64)
}

// Dump serializes the header at the current position of the stream.
func (h SignedBlobHeader) Dump(w io.Writer) error {
	return h.dump(newPinWriter(w))
}

// Size is the serialized size of the header in bytes, padding included.
func (h SignedBlobHeader) Size() (uint32, error) {
	payload, err := h.Kind.payloadSize()
	if err != nil {
		return 0, err
	}
	return uint32(alignUp(uint64(4+payload), 64)) + 64, nil
}

// ZeroSignature replaces the signature payload with zeros, keeping its kind.
// Combined with a brute forced filler field this produces a blob accepted by
// consoles with the well known signature verification flaw.
func (h *SignedBlobHeader) ZeroSignature() {
	h.Signature = make([]byte, len(h.Signature))
}

// hashHasLeadingZero reports whether the SHA-1 of b begins with a zero byte,
// which is the condition exploited by fake signing.
func hashHasLeadingZero(b []byte) bool {
	sum := sha1.Sum(b)
	return sum[0] == 0
}
