// CLAUDE:SUMMARY Input validation for searches: owner, allow-listed URL, keyword expression, max price.
package adwatch

import (
	"fmt"
	"strings"

	"github.com/hazyhaar/adwatch/adwatch/internal/match"
	"github.com/hazyhaar/adwatch/horosafe"
)

const (
	maxOwnerLen   = 64
	maxURLLen     = 4096
	maxKeywordLen = 256
)

// validateSearchInput checks a new search and returns its canonical source
// URL.
func validateSearchInput(allow *horosafe.AllowList, owner, rawURL, keyword string, maxPrice int) (string, error) {
	if strings.TrimSpace(owner) == "" {
		return "", fmt.Errorf("%w: owner is required", ErrInvalidInput)
	}
	if len(owner) > maxOwnerLen {
		return "", fmt.Errorf("%w: owner exceeds %d characters", ErrInvalidInput, maxOwnerLen)
	}

	if rawURL == "" {
		return "", fmt.Errorf("%w: url is required", ErrInvalidInput)
	}
	if len(rawURL) > maxURLLen {
		return "", fmt.Errorf("%w: url exceeds %d characters", ErrInvalidInput, maxURLLen)
	}
	canonical, err := allow.Canonical(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	if keyword == "" {
		return "", fmt.Errorf("%w: keyword is required", ErrInvalidInput)
	}
	if len(keyword) > maxKeywordLen {
		return "", fmt.Errorf("%w: keyword exceeds %d characters", ErrInvalidInput, maxKeywordLen)
	}
	if err := match.Validate(keyword); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	if maxPrice < 0 {
		return "", fmt.Errorf("%w: max_price must be >= 0", ErrInvalidInput)
	}
	return canonical, nil
}
