package wordcloud

import "errors"

var (
	// ErrDecode indicates a mask file exists but isn't a readable image
	ErrDecode = errors.New("unable to decode mask image")

	// ErrInvalidTenant indicates a tenant ID that can't be used in a file name
	ErrInvalidTenant = errors.New("invalid tenant id")

	// ErrEmptyInput is returned when there are no words left to render
	ErrEmptyInput = errors.New("no words to render")

	// ErrNoRoom is returned when not a single word fits on the canvas
	ErrNoRoom = errors.New("unable to fit any words on the canvas")
)
