// CLAUDE:SUMMARY Sentinel errors for the adwatch service: invalid input, not found, quota exceeded.
package adwatch

import "errors"

// ErrInvalidInput is returned when search input fails validation.
var ErrInvalidInput = errors.New("adwatch: invalid input")

// ErrNotFound is returned when a search does not exist or belongs to another
// owner.
var ErrNotFound = errors.New("adwatch: search not found")

// ErrQuotaExceeded is returned when an owner has too many searches.
var ErrQuotaExceeded = errors.New("adwatch: quota exceeded")
