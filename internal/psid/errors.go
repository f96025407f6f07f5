package psid

import "github.com/pkg/errors"

var (
	// ErrNoSecret means the authority answered but has no PSID for the serial.
	ErrNoSecret = errors.New("no psid registered")

	// ErrAuthorityUnreachable means the lookup could not be completed.
	ErrAuthorityUnreachable = errors.New("psid authority unreachable")

	// ErrConfig is returned for an unusable client configuration.
	ErrConfig = errors.New("psid client configuration error")
)
