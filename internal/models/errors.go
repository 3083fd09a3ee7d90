package models

import "github.com/pkg/errors"

// Таксономия ошибок ядра. Проверяется через errors.Is, оборачивается pkg/errors.Wrap.
var (
	ErrValidation              = errors.New("validation error")
	ErrInvalidTransition       = errors.New("invalid transition")
	ErrPrescriptionNotVerified = errors.New("prescription not verified")
	ErrInsufficientInventory   = errors.New("insufficient inventory")
	ErrNoMappingAvailable      = errors.New("no mapping available")
	ErrConcurrencyConflict     = errors.New("concurrency conflict")
	ErrExternalProvider        = errors.New("external provider error")
	ErrNotFound                = errors.New("not found")
)
