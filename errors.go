package lensing

import "errors"

// Configuration errors. They are returned wrapped with context, test with errors.Is.
var (
	ErrInvalidScale         = errors.New("lensing: meters per unit must be positive and finite")
	ErrInvalidMass          = errors.New("lensing: mass must be positive and finite")
	ErrInvalidHorizonBounds = errors.New("lensing: invalid horizon render bounds")
	ErrRayAtCenter          = errors.New("lensing: ray origin coincides with the body center")
	ErrZeroDirection        = errors.New("lensing: ray direction has zero length")
	ErrInvalidStep          = errors.New("lensing: step size must be positive and finite")
	ErrInvalidBounds        = errors.New("lensing: simulation bounds are empty")
	ErrNoBody               = errors.New("lensing: no gravitating body configured")
	ErrUnknownPreset        = errors.New("lensing: unknown body preset")
	ErrConflictingMass      = errors.New("lensing: body mass given more than once")
)
