package pkgerr

import (
	"errors"
	"fmt"
)

var (
	// ErrIO marks filesystem read, write, open and permission failures.
	ErrIO = errors.New("i/o error")
	// ErrInvalidFilePath marks an entry without a representable name or outside the expected root.
	ErrInvalidFilePath = errors.New("invalid file path")
	// ErrClock marks an implausible or unrepresentable timestamp.
	ErrClock = errors.New("invalid timestamp")
	// ErrMetadataSerialization marks a failure to encode or decode package metadata.
	ErrMetadataSerialization = errors.New("metadata serialization failed")
	// ErrExternalCommand marks a subprocess that could not be spawned or exited non-zero.
	ErrExternalCommand = errors.New("external command failed")
	// ErrVerificationMismatch marks a downloaded source whose digest differs from the declared one.
	ErrVerificationMismatch = errors.New("source verification mismatch")
)

// IO wraps err as an ErrIO with a short description of the failed operation.
func IO(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrIO, op, err)
}

// InvalidPath returns an ErrInvalidFilePath describing path.
func InvalidPath(path, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidFilePath, path, reason)
}

// Metadata wraps err as an ErrMetadataSerialization for the named document.
func Metadata(document string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrMetadataSerialization, document, err)
}

// Command wraps err as an ErrExternalCommand for the named program and exit status.
// A negative status means the process never produced one.
func Command(program string, status int, err error) error {
	if status < 0 {
		return fmt.Errorf("%w: %s: %w", ErrExternalCommand, program, err)
	}

	return fmt.Errorf("%w: %s exited with status %d: %w", ErrExternalCommand, program, status, err)
}
