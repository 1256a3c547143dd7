package domain

import "errors"

var (
	ErrTaskNotFound        = errors.New("training task not found")
	ErrDatasetNotFound     = errors.New("dataset not found")
	ErrCollectionNotFound  = errors.New("collection not found")
	ErrDataNotFound        = errors.New("dataset data not found")
	ErrModelNotFound       = errors.New("model not found")
	ErrSourceMissing       = errors.New("collection source is missing")
	ErrUnsupportedSource   = errors.New("unsupported collection type")
	ErrTeamIndexLimit      = errors.New("team vector index limit exceeded")
	ErrCollectionLimit     = errors.New("dataset collection limit exceeded")
	ErrCircularDataset     = errors.New("circular reference detected in dataset hierarchy")
	ErrMaxDepthExceeded    = errors.New("maximum dataset hierarchy depth exceeded")
	ErrInvalidTrainingType = errors.New("invalid training type")
	ErrEmptyRawText        = errors.New("failed to read raw text from source")
	ErrMissingParams       = errors.New("missing required parameters")
)
