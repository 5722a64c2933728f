package errors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrEncryption    = errors.New("encryption error")
	ErrAuditInternal = errors.New("audit trail internal error")
)

// Error is a classified failure carrying the dotted path or parameter name it concerns.
// errors.Is matches both the Kind sentinel and anything wrapped in Err.
type Error struct {
	Kind error
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Path != "" {
		b.WriteString(": ")
		b.WriteString(e.Path)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newf(kind error, path, format string, args ...any) error {
	return &Error{Kind: kind, Path: path, Err: fmt.Errorf(format, args...)}
}

// Validationf reports a malformed or missing call-site parameter.
func Validationf(path, format string, args ...any) error {
	return newf(ErrValidation, path, format, args...)
}

// Configurationf reports an unusable configuration document or file.
func Configurationf(path, format string, args ...any) error {
	return newf(ErrConfiguration, path, format, args...)
}

// WrapConfiguration classifies err as a configuration failure at path.
func WrapConfiguration(path string, err error) error {
	return &Error{Kind: ErrConfiguration, Path: path, Err: err}
}

// Encryptionf reports a key, envelope or authentication failure.
func Encryptionf(op, format string, args ...any) error {
	return &Error{Kind: ErrEncryption, Op: op, Err: fmt.Errorf(format, args...)}
}

// WrapEncryption classifies err as an encryption failure during op.
func WrapEncryption(op string, err error) error {
	return &Error{Kind: ErrEncryption, Op: op, Err: err}
}

// AuditInternalf reports misuse of the audit trail by its caller.
func AuditInternalf(format string, args ...any) error {
	return &Error{Kind: ErrAuditInternal, Err: fmt.Errorf(format, args...)}
}

// PathOf returns the dotted path of the first classified error in err's chain.
func PathOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Path
	}
	return ""
}
