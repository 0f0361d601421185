package render

import (
	"errors"
	"fmt"
)

// Kind classifies why an export stopped.
type Kind string

const (
	KindInvalidSourceMedia      Kind = "invalid_source_media"
	KindSeekTimeout             Kind = "seek_timeout"
	KindCompositingFailure      Kind = "compositing_failure"
	KindEncodingFailure         Kind = "encoding_failure"
	KindEncryptionFailure       Kind = "encryption_failure"
	KindPersistenceFailure      Kind = "persistence_failure"
	KindQuotaExceeded           Kind = "quota_exceeded"
	KindExportAlreadyInProgress Kind = "export_already_in_progress"
	KindCancelled               Kind = "cancelled"
)

// Error carries a Kind and the underlying cause.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind. QuotaExceeded also matches
// PersistenceFailure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Kind == t.Kind {
		return true
	}
	return e.Kind == KindQuotaExceeded && t.Kind == KindPersistenceFailure
}

// Sentinels for errors.Is.
var (
	ErrInvalidSourceMedia      = &Error{Kind: KindInvalidSourceMedia}
	ErrSeekTimeout             = &Error{Kind: KindSeekTimeout}
	ErrCompositingFailure      = &Error{Kind: KindCompositingFailure}
	ErrEncodingFailure         = &Error{Kind: KindEncodingFailure}
	ErrEncryptionFailure       = &Error{Kind: KindEncryptionFailure}
	ErrPersistenceFailure      = &Error{Kind: KindPersistenceFailure}
	ErrQuotaExceeded           = &Error{Kind: KindQuotaExceeded}
	ErrExportAlreadyInProgress = &Error{Kind: KindExportAlreadyInProgress}
	ErrCancelled               = &Error{Kind: KindCancelled}
)

// Wrap attaches kind to err.
func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Errorf is Wrap with a formatted cause.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
