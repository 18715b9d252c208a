// Package match evaluates a search's keyword expression and price ceiling
// against a listing.
//
// Expression grammar: "a-b-c" requires every token (AND), "a.b.c" requires
// any token (OR), anything else is one required substring. Matching is
// case-insensitive substring search. "-" and "." never appear together.
package match

import (
	"errors"
	"strings"
)

// Separators.
const (
	And = "-"
	Or  = "."
)

// ErrMixedOperators is returned for expressions using both "-" and ".".
var ErrMixedOperators = errors.New("match: do not use both AND (-) and OR (.) in one expression")

// ErrEmptyExpression is returned for empty expressions or empty tokens.
var ErrEmptyExpression = errors.New("match: expression has an empty keyword")

// Validate checks an expression before it is stored.
func Validate(expression string) error {
	if strings.Contains(expression, And) && strings.Contains(expression, Or) {
		return ErrMixedOperators
	}
	for _, tok := range tokens(expression) {
		if strings.TrimSpace(tok) == "" {
			return ErrEmptyExpression
		}
	}
	return nil
}

// Evaluate reports whether content matches expression and price passes the
// ceiling.
func Evaluate(expression string, price, maxPrice int, content string) bool {
	return PriceOK(price, maxPrice) && Keywords(expression, content)
}

// PriceOK is the price gate: maxPrice 0 means unbounded.
func PriceOK(price, maxPrice int) bool {
	return maxPrice == 0 || price <= maxPrice
}

// Keywords evaluates the keyword part of an expression.
func Keywords(expression, content string) bool {
	content = strings.ToLower(content)
	has := func(tok string) bool { return strings.Contains(content, strings.ToLower(tok)) }

	switch {
	case strings.Contains(expression, And):
		for _, tok := range strings.Split(expression, And) {
			if !has(tok) {
				return false
			}
		}
		return true
	case strings.Contains(expression, Or):
		for _, tok := range strings.Split(expression, Or) {
			if has(tok) {
				return true
			}
		}
		return false
	default:
		return has(expression)
	}
}

func tokens(expression string) []string {
	switch {
	case strings.Contains(expression, And):
		return strings.Split(expression, And)
	case strings.Contains(expression, Or):
		return strings.Split(expression, Or)
	default:
		return []string{expression}
	}
}
