// Package idgen generates identifiers used for ReltProxy call cookies.
package idgen

import "github.com/google/uuid"

// New returns a fresh random identifier, formatted as a UUID string.
func New() string {
	return uuid.NewString()
}
