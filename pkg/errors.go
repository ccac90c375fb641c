package pkg

import "errors"

// Parse failures. All of them leave the input stream untouched besides its
// read position; callers can discriminate with errors.Is.
var (
	// ErrTruncated is returned when the stream ends before a declared
	// section or field.
	ErrTruncated = errors.New("wad: truncated input")

	// ErrBadMagic is returned when a format discriminator is not
	// recognized at all.
	ErrBadMagic = errors.New("wad: bad magic")

	// ErrUnsupportedVersion is returned when a format version is known
	// but not handled.
	ErrUnsupportedVersion = errors.New("wad: unsupported version")

	// ErrInvalidField is returned for self-contradictory or out-of-range
	// field values.
	ErrInvalidField = errors.New("wad: invalid field")
)

// ErrContentNotFound is returned when a content selector does not resolve
// against the current title metadata.
var ErrContentNotFound = errors.New("wad: content not found")

// ErrKeyMaterial signals an unrecoverable key unwrap failure: corrupt ticket
// key data or an unsupported cryptographic scheme. No default key is ever
// substituted.
var ErrKeyMaterial = errors.New("wad: bad key material")

// Write failures.
var (
	// ErrTruncateUnsupported is returned by SafeTruncate mutations when
	// the backing stream has no Truncate method. It is raised before any
	// byte of the stream is overwritten.
	ErrTruncateUnsupported = errors.New("wad: stream does not support truncation")

	// ErrBuilderFinished is returned when a terminal action is invoked on
	// an already finalized content builder.
	ErrBuilderFinished = errors.New("wad: content builder already finalized")
)
