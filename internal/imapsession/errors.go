package imapsession

import (
	"errors"
	"fmt"
)

// AuthError indicates the IMAP server rejected the account credentials.
type AuthError struct {
	Account string
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for %s: %s", e.Account, e.Message)
}

// IsAuthError reports whether err is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
