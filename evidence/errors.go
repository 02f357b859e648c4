package evidence

import "errors"

var (
	ErrNotFound        = errors.New("evidence: not found")
	ErrInvalidInput    = errors.New("evidence: invalid input")
	ErrAlreadyReviewed = errors.New("evidence: already reviewed")
	ErrStorageFailure  = errors.New("evidence: storage failure")
)
