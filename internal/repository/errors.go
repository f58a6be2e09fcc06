package repository

import "errors"

// ErrInvalidInput is returned for filters the repository cannot run
var ErrInvalidInput = errors.New("invalid input")
