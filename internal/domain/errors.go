package domain

import (
	"errors"
	"fmt"
)

// Error types for domain-specific errors
type ErrorType string

const (
	ErrorTypeValidation     ErrorType = "validation"
	ErrorTypeConversion     ErrorType = "conversion"
	ErrorTypeClassification ErrorType = "classification"
	ErrorTypeExtraction     ErrorType = "extraction"
	ErrorTypeAPI            ErrorType = "api"
	ErrorTypeConfig         ErrorType = "config"
	ErrorTypeIO             ErrorType = "io"
)

// Error kinds that decide how the pipeline reacts. Match them with errors.Is.
var (
	// ErrFatalDocument means the document cannot be opened or rasterized at all.
	ErrFatalDocument = errors.New("document cannot be processed")

	// ErrClassificationUnavailable means the classifier or its reference
	// features are unusable. The pipeline falls back to diagram OCR.
	ErrClassificationUnavailable = errors.New("classification unavailable")

	// ErrPageExtraction marks a single page whose extraction call failed.
	ErrPageExtraction = errors.New("page extraction failed")

	// ErrZeroYield means every page of a document failed extraction.
	ErrZeroYield = errors.New("no page produced text")
)

// DomainError represents a domain-specific error with context
type DomainError struct {
	Type    ErrorType
	Kind    error
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the error kind attached to e.
func (e *DomainError) Is(target error) bool {
	return e.Kind != nil && e.Kind == target
}

// NewError creates a new domain error
func NewError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

// Common error constructors
func ValidationError(message string, err error) *DomainError {
	return NewError(ErrorTypeValidation, message, err)
}

func ConversionError(message string, err error) *DomainError {
	return NewError(ErrorTypeConversion, message, err)
}

func ExtractionError(message string, err error) *DomainError {
	return NewError(ErrorTypeExtraction, message, err)
}

func APIError(message string, err error) *DomainError {
	return NewError(ErrorTypeAPI, message, err)
}

func ConfigError(message string, err error) *DomainError {
	return NewError(ErrorTypeConfig, message, err)
}

func IOError(message string, err error) *DomainError {
	return NewError(ErrorTypeIO, message, err)
}

// FatalDocumentError wraps err as a document-level failure that aborts the job.
func FatalDocumentError(message string, err error) *DomainError {
	e := ConversionError(message, err)
	e.Kind = ErrFatalDocument
	return e
}

// ClassificationUnavailableError wraps err as a classifier outage.
func ClassificationUnavailableError(message string, err error) *DomainError {
	e := NewError(ErrorTypeClassification, message, err)
	e.Kind = ErrClassificationUnavailable
	return e
}

// PageExtractionError wraps err as a failure confined to one page.
func PageExtractionError(page int, err error) *DomainError {
	e := ExtractionError(fmt.Sprintf("page %d", page), err)
	e.Kind = ErrPageExtraction
	return e
}

// ZeroYieldError reports that none of the attempted pages produced text.
func ZeroYieldError(message string) *DomainError {
	e := ExtractionError(message, nil)
	e.Kind = ErrZeroYield
	return e
}
