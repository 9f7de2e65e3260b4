package models

import (
	"context"
	"errors"
)

var (
	ErrDecode                   = errors.New("audio decode failed")
	ErrFingerprintStoreConflict = errors.New("fingerprint store conflict")
	ErrNoOccurrenceFound        = errors.New("no occurrence found")
	ErrExtractionBoundary       = errors.New("extraction boundary out of range")
	ErrGraphConsistency         = errors.New("graph consistency violation")
	ErrTransient                = errors.New("transient failure")
	ErrNotFound                 = errors.New("not found")
	ErrInvalidInput             = errors.New("invalid input")
)

// ErrorKind is the bucket a failure is counted under in run reports.
type ErrorKind string

const (
	KindDecode                   ErrorKind = "decode"
	KindFingerprintStoreConflict ErrorKind = "fingerprint_store_conflict"
	KindNoOccurrenceFound        ErrorKind = "no_occurrence_found"
	KindExtractionBoundary       ErrorKind = "extraction_boundary"
	KindGraphConsistency         ErrorKind = "graph_consistency"
	KindTransient                ErrorKind = "transient"
	KindTimeout                  ErrorKind = "timeout"
	KindCanceled                 ErrorKind = "canceled"
	KindInvalidInput             ErrorKind = "invalid_input"
	KindOther                    ErrorKind = "other"
)

var kindTable = []struct {
	err  error
	kind ErrorKind
}{
	{ErrDecode, KindDecode},
	{ErrFingerprintStoreConflict, KindFingerprintStoreConflict},
	{ErrNoOccurrenceFound, KindNoOccurrenceFound},
	{ErrExtractionBoundary, KindExtractionBoundary},
	{ErrGraphConsistency, KindGraphConsistency},
	{ErrInvalidInput, KindInvalidInput},
	{ErrTransient, KindTransient},
	{context.DeadlineExceeded, KindTimeout},
	{context.Canceled, KindCanceled},
}

// KindOf classifies err. It returns "" for a nil error.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	for _, k := range kindTable {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindOther
}

// Retryable reports whether a unit failing with err may be run again.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded)
}
