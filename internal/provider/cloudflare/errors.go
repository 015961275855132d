package cloudflare

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/evanofslack/cf-edge-sync/internal/provider"
)

var (
	duplicateCodes = []int{81053, 81057, 81058}
	notFoundCodes  = []int{81044}
)

type apiError interface {
	ErrorCodes() []int
	ErrorMessages() []string
}

// classify wraps err with provider.ErrDuplicate or provider.ErrNotFound when
// the API reported one of those conditions.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var codes []int
	var messages []string
	var ae apiError
	if errors.As(err, &ae) {
		codes = ae.ErrorCodes()
		messages = ae.ErrorMessages()
	}
	messages = append(messages, err.Error())

	switch {
	case hasCode(codes, duplicateCodes) || hasMessage(messages, "already exists"):
		return fmt.Errorf("%w: %w", provider.ErrDuplicate, err)
	case hasCode(codes, notFoundCodes) || hasMessage(messages, "not found", "does not exist"):
		return fmt.Errorf("%w: %w", provider.ErrNotFound, err)
	}
	return err
}

func hasCode(codes []int, want []int) bool {
	for _, c := range codes {
		if slices.Contains(want, c) {
			return true
		}
	}
	return false
}

func hasMessage(messages []string, fragments ...string) bool {
	for _, m := range messages {
		m = strings.ToLower(m)
		for _, f := range fragments {
			if strings.Contains(m, f) {
				return true
			}
		}
	}
	return false
}
