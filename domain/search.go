package domain

import (
	"chat-app/errors"
	"fmt"
	"strings"
)

// SearchCondition combines the tags of a tag search.
type SearchCondition string

const (
	ConditionAnd SearchCondition = "and"
	ConditionOr  SearchCondition = "or"
)

// ParseCondition accepts "and" or "or", case-insensitive.
func ParseCondition(raw string) (SearchCondition, error) {
	condition := SearchCondition(strings.ToLower(strings.TrimSpace(raw)))
	if !condition.Valid() {
		return "", fmt.Errorf("%w: %q", errors.ErrInvalidCondition, raw)
	}
	return condition, nil
}

func (c SearchCondition) Valid() bool {
	return c == ConditionAnd || c == ConditionOr
}
