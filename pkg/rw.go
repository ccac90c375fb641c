package pkg

import (
	"encoding/binary"
	"fmt"
	"io"
)

func alignUp(value, boundary uint64) uint64 {
	if rem := value % boundary; rem != 0 {
		return value + boundary - rem
	}
	return value
}

// readFull reads exactly n bytes, mapping short reads to ErrTruncated.
func readFull(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%w: wanted %d more bytes", ErrTruncated, n)
		}
		return nil, err
	}
	return buf, nil
}

// readBE decodes a fixed-size big-endian value, mapping short reads to
// ErrTruncated.
func readBE(r io.Reader, v interface{}) error {
	if err := binary.Read(r, binary.BigEndian, v); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return fmt.Errorf("%w: %T field", ErrTruncated, v)
		}
		return err
	}
	return nil
}

// readLE is readBE for the few little-endian fields of the 3DS payload.
func readLE(r io.Reader, v interface{}) error {
	if err := binary.Read(r, binary.LittleEndian, v); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return fmt.Errorf("%w: %T field", ErrTruncated, v)
		}
		return err
	}
	return nil
}

func trimNul(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// pinReader wraps a seekable stream and remembers the position it was
// created at, so structures can skip and align relative to their own start.
type pinReader struct {
	rs   io.ReadSeeker
	base int64
}

func newPinReader(rs io.ReadSeeker) (*pinReader, error) {
	base, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}
	return &pinReader{rs: rs, base: base}, nil
}

func (p *pinReader) Read(b []byte) (int, error) {
	return p.rs.Read(b)
}

func (p *pinReader) pos() (int64, error) {
	cur, err := p.rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	return cur - p.base, nil
}

func (p *pinReader) skip(n int64) error {
	_, err := p.rs.Seek(n, io.SeekCurrent)
	return err
}

func (p *pinReader) seekTo(offset int64) error {
	_, err := p.rs.Seek(p.base+offset, io.SeekStart)
	return err
}

// alignPos advances the cursor to the next boundary relative to the pin.
func (p *pinReader) alignPos(boundary int64) error {
	pos, err := p.pos()
	if err != nil {
		return err
	}
	return p.seekTo(int64(alignUp(uint64(pos), uint64(boundary))))
}

// pinWriter counts the bytes written since its creation so serializers can
// emit alignment padding relative to the structure start without seeking.
type pinWriter struct {
	w io.Writer
	n int64
}

func newPinWriter(w io.Writer) *pinWriter {
	return &pinWriter{w: w}
}

func (p *pinWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.n += int64(n)
	return n, err
}

func (p *pinWriter) writeBE(v interface{}) error {
	return binary.Write(p, binary.BigEndian, v)
}

func (p *pinWriter) writeZeros(n int64) error {
	if n <= 0 {
		return nil
	}
	_, err := p.Write(make([]byte, n))
	return err
}

func (p *pinWriter) alignZeros(boundary int64) error {
	return p.writeZeros(int64(alignUp(uint64(p.n), uint64(boundary))) - p.n)
}

// writePadded writes b NUL-padded to a fixed width.
func (p *pinWriter) writePadded(b []byte, width int) error {
	if len(b) > width {
		return fmt.Errorf("%w: value of %d bytes exceeds field width %d", ErrInvalidField, len(b), width)
	}
	buf := make([]byte, width)
	copy(buf, b)
	_, err := p.Write(buf)
	return err
}
