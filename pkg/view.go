package pkg

import (
	"fmt"
	"io"
)

// SectionView is a read-only window over a region of the backing stream. It
// has its own cursor, so several views over one stream stay independent as
// long as their reads are not interleaved concurrently.
//
// A view borrows the container layout it was created under. After a content
// mutation commits, stale views fail with ErrInvalidField instead of
// returning bytes from the wrong region.
type SectionView struct {
	rs    io.ReadSeeker
	base  int64
	size  int64
	off   int64
	check func() error
}

func (v *SectionView) stale() error {
	if v.check == nil {
		return nil
	}
	return v.check()
}

// Size is the byte length of the window.
func (v *SectionView) Size() int64 {
	return v.size
}

func (v *SectionView) Read(b []byte) (int, error) {
	if err := v.stale(); err != nil {
		return 0, err
	}
	if v.off >= v.size {
		return 0, io.EOF
	}

	if max := v.size - v.off; int64(len(b)) > max {
		b = b[:max]
	}

	if _, err := v.rs.Seek(v.base+v.off, io.SeekStart); err != nil {
		return 0, err
	}

	n, err := v.rs.Read(b)
	v.off += int64(n)
	if err == io.EOF && v.off < v.size {
		err = fmt.Errorf("%w: backing stream ends inside the section", ErrTruncated)
	}
	return n, err
}

func (v *SectionView) Seek(offset int64, whence int) (int64, error) {
	if err := v.stale(); err != nil {
		return 0, err
	}

	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = v.off + offset
	case io.SeekEnd:
		next = v.size + offset
	default:
		return 0, fmt.Errorf("%w: seek whence %d", ErrInvalidField, whence)
	}

	if next < 0 {
		return 0, fmt.Errorf("%w: seek before section start", ErrInvalidField)
	}
	v.off = next
	return next, nil
}

func (v *SectionView) ReadAt(b []byte, off int64) (int, error) {
	if err := v.stale(); err != nil {
		return 0, err
	}
	if off < 0 {
		return 0, fmt.Errorf("%w: negative read offset", ErrInvalidField)
	}
	if off >= v.size {
		return 0, io.EOF
	}

	short := false
	if max := v.size - off; int64(len(b)) > max {
		b = b[:max]
		short = true
	}

	if _, err := v.rs.Seek(v.base+off, io.SeekStart); err != nil {
		return 0, err
	}

	n, err := io.ReadFull(v.rs, b)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		err = fmt.Errorf("%w: backing stream ends inside the section", ErrTruncated)
	}
	if err == nil && short {
		err = io.EOF
	}
	return n, err
}
