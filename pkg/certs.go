package pkg

import (
	"fmt"
	"io"
)

// Certificate is one link of the chain that vouches for a ticket or title
// metadata signature.
type Certificate struct {
	Header   SignedBlobHeader
	Identity string
	KeyKind  CertificateKeyKind
	KeyID    uint32
	Key      []byte
}

// CertificateChain is an ordered set of certificates as stored in a
// container, each padded to a 64 byte boundary.
type CertificateChain struct {
	Certificates []Certificate
}

func parseCertificate(p *pinReader) (Certificate, error) {
	var c Certificate

	header, err := parseSignedBlobHeader(p)
	if err != nil {
		return c, err
	}
	c.Header = header

	var keyKind uint32
	if err := readBE(p, &keyKind); err != nil {
		return c, err
	}
	c.KeyKind = CertificateKeyKind(keyKind)

	keySize, err := c.KeyKind.payloadSize()
	if err != nil {
		return c, err
	}

	identity, err := readFull(p, 64)
	if err != nil {
		return c, err
	}
	c.Identity = trimNul(identity)

	if err := readBE(p, &c.KeyID); err != nil {
		return c, err
	}

	if c.Key, err = readFull(p, keySize); err != nil {
		return c, err
	}

	return c, nil
}

// ParseCertificateChain reads count certificates from the current position
// of the stream.
func ParseCertificateChain(rs io.ReadSeeker, count int) (CertificateChain, error) {
	p, err := newPinReader(rs)
	if err != nil {
		return CertificateChain{}, err
	}

	chain := CertificateChain{Certificates: make([]Certificate, 0, count)}
	for i := 0; i < count; i++ {
		cert, err := parseCertificate(p)
		if err != nil {
			return CertificateChain{}, fmt.Errorf("certificate %d: %w", i, err)
		}
		if err := p.alignPos(64); err != nil {
			return CertificateChain{}, err
		}
		chain.Certificates = append(chain.Certificates, cert)
	}

	return chain, nil
}

// ParseCertificateChainSized reads certificates from the current position of
// the stream until size bytes are consumed. Containers declare the chain by
// byte length, not count.
func ParseCertificateChainSized(rs io.ReadSeeker, size uint32) (CertificateChain, error) {
	p, err := newPinReader(rs)
	if err != nil {
		return CertificateChain{}, err
	}

	var chain CertificateChain
	for {
		pos, err := p.pos()
		if err != nil {
			return CertificateChain{}, err
		}
		if pos >= int64(size) {
			break
		}

		cert, err := parseCertificate(p)
		if err != nil {
			return CertificateChain{}, fmt.Errorf("certificate %d: %w", len(chain.Certificates), err)
		}
		if err := p.alignPos(64); err != nil {
			return CertificateChain{}, err
		}
		chain.Certificates = append(chain.Certificates, cert)
	}

	return chain, nil
}

func (c Certificate) dump(p *pinWriter) error {
	if _, err := c.KeyKind.payloadSize(); err != nil {
		return err
	}

	if err := c.Header.dump(p); err != nil {
		return err
	}
	if err := p.writeBE(uint32(c.KeyKind)); err != nil {
		return err
	}
	if err := p.writePadded([]byte(c.Identity), 64); err != nil {
		return err
	}
	if err := p.writeBE(c.KeyID); err != nil {
		return err
	}
	_, err := p.Write(c.Key)
	return err
}

// Size is the serialized size of the certificate in bytes, padding included.
func (c Certificate) Size() (uint32, error) {
	keySize, err := c.KeyKind.payloadSize()
	if err != nil {
		return 0, err
	}
	headerSize, err := c.Header.Size()
	if err != nil {
		return 0, err
	}
	return uint32(alignUp(uint64(headerSize)+4+64+4+uint64(keySize), 64)), nil
}

// Dump serializes the chain at the current position of the stream, padding
// each certificate to 64 bytes.
func (c CertificateChain) Dump(w io.Writer) error {
	p := newPinWriter(w)
	for i := range c.Certificates {
		if err := c.Certificates[i].dump(p); err != nil {
			return fmt.Errorf("certificate %d: %w", i, err)
		}
		if err := p.alignZeros(64); err != nil {
			return err
		}
	}
	return nil
}

// Size is the serialized size of the whole chain in bytes.
func (c CertificateChain) Size() (uint32, error) {
	var total uint32
	for i := range c.Certificates {
		size, err := c.Certificates[i].Size()
		if err != nil {
			return 0, err
		}
		total += size
	}
	return total, nil
}
