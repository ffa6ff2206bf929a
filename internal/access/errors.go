package access

import "errors"

var (
	ErrNotFound           = errors.New("access: not found")
	ErrInvalidInput       = errors.New("access: invalid input")
	ErrConflict           = errors.New("access: resource conflict")
	ErrUnauthorized       = errors.New("access: unauthorized")
	ErrStorageUnavailable = errors.New("access: storage unavailable")
)
