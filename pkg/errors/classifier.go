package errors

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

type ErrorClass int

const (
	ClassInternal ErrorClass = iota
	ClassValidation
	ClassConfiguration
	ClassEncryption
	ClassAudit
)

func (c ErrorClass) String() string {
	switch c {
	case ClassValidation:
		return "validation"
	case ClassConfiguration:
		return "configuration"
	case ClassEncryption:
		return "encryption"
	case ClassAudit:
		return "audit"
	default:
		return "internal"
	}
}

type ClassifiedError struct {
	Class         ErrorClass
	InternalError error
	ClientMessage string
	OperationName string
	Path          string
}

var errorPool = sync.Pool{
	New: func() interface{} {
		return &ClassifiedError{}
	},
}

func (ce *ClassifiedError) release() {
	ce.Class = ClassInternal
	ce.InternalError = nil
	ce.ClientMessage = ""
	ce.OperationName = ""
	ce.Path = ""
	errorPool.Put(ce)
}

type ErrorClassifier struct {
	logger *slog.Logger
}

func NewErrorClassifier(logger *slog.Logger) *ErrorClassifier {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ErrorClassifier{logger: logger}
}

func (ec *ErrorClassifier) Classify(err error, operation string) *ClassifiedError {
	classified := errorPool.Get().(*ClassifiedError)
	classified.InternalError = err
	classified.OperationName = operation
	classified.Path = PathOf(err)

	switch {
	case errors.Is(err, ErrValidation):
		classified.Class = ClassValidation
		classified.ClientMessage = "The operation parameters are invalid or incomplete."
	case errors.Is(err, ErrConfiguration):
		classified.Class = ClassConfiguration
		classified.ClientMessage = "The configuration document is unusable."
	case errors.Is(err, ErrEncryption):
		classified.Class = ClassEncryption
		classified.ClientMessage = "A configuration value could not be encrypted or decrypted."
	case errors.Is(err, ErrAuditInternal):
		classified.Class = ClassAudit
		classified.ClientMessage = "The audit trail was used incorrectly."
	default:
		classified.Class = ClassInternal
		classified.ClientMessage = "The operation failed."
	}

	return classified
}

// LogAndRelease writes the classified failure to the structured log and returns its class.
// The ClassifiedError must not be used afterwards.
func (ec *ErrorClassifier) LogAndRelease(ctx context.Context, classified *ClassifiedError) ErrorClass {
	defer classified.release()

	level := slog.LevelError
	if classified.Class == ClassValidation {
		level = slog.LevelWarn
	}
	ec.logger.Log(ctx, level, "operation failed",
		"operation", classified.OperationName,
		"error_class", classified.Class.String(),
		"path", classified.Path,
		"message", classified.ClientMessage,
		"internal_error", classified.InternalError.Error(),
	)

	return classified.Class
}
