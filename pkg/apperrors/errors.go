package apperrors

import "errors"

var (
	ErrNotFound               = errors.New("not found")
	ErrConflict               = errors.New("conflict")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrForbidden              = errors.New("forbidden")
	ErrNoActiveDraft          = errors.New("no active report draft")
	ErrDraftAlreadyExists     = errors.New("a report draft is already in progress")
	ErrSectionIndexOutOfRange = errors.New("section index out of range")
	ErrUnknownTable           = errors.New("unknown table")
	ErrUnknownField           = errors.New("unknown field")
	ErrRestrictedField        = errors.New("field is not available")
	ErrInvalidPeriod          = errors.New("invalid period")
)
