package servertiming

import "errors"

var (
	// ErrAlreadyInstalled is returned by Install when the request already carries
	// a Timing. It means the middleware was applied twice to the same handler
	// chain and is treated as fatal.
	ErrAlreadyInstalled = errors.New("servertiming: timing already installed on this response")

	// ErrInvalidName reports a metric name that is not a valid header token.
	ErrInvalidName = errors.New("servertiming: metric name is not a valid token")

	// ErrInvalidDuration reports a duration that is NaN or infinite.
	ErrInvalidDuration = errors.New("servertiming: metric duration is not a number")

	// ErrFinalized reports a mutation after the value was already serialized.
	ErrFinalized = errors.New("servertiming: timing already finalized")
)

// usageReason maps a usage error to the short label used in logs and telemetry.
func usageReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidName):
		return "invalid_name"
	case errors.Is(err, ErrInvalidDuration):
		return "invalid_duration"
	case errors.Is(err, ErrFinalized):
		return "finalized"
	default:
		return "unknown"
	}
}
