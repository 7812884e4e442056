package froeling

import "errors"

var (
	// ErrAuth is returned when logging in to Froeling Connect fails.
	ErrAuth = errors.New("froeling authentication failed")

	// ErrMapping is returned when the facility overview cannot be fetched or interpreted.
	ErrMapping = errors.New("froeling overview mapping failed")

	ErrNotConnected = errors.New("session not connected")
)
