package gemini

import "errors"

// Error types for the image generator
var (
	// ErrInvalidConfig indicates that the generator configuration is invalid.
	ErrInvalidConfig = errors.New("invalid generator configuration")

	// ErrContentBlocked indicates that the model refused the request on
	// safety grounds. Permanent; never retried.
	ErrContentBlocked = errors.New("content blocked by safety filters")

	// ErrInvalidResponse indicates that the model returned a response with
	// no usable image data. Permanent; never retried.
	ErrInvalidResponse = errors.New("invalid response from generation model")

	// ErrTransientFailure indicates that repeated API calls failed with
	// errors that looked retryable.
	ErrTransientFailure = errors.New("transient generation failure")
)
