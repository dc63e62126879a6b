package middleware

import (
	"errors"
	"strings"
	"unicode/utf8"
)

const (
	maxContentLength = 10000
	maxIDLength      = 128
	maxRecipients    = 500
)

// ValidateMessageContent validates the text of an outgoing message.
func ValidateMessageContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return errors.New("content cannot be empty")
	}
	if len(content) > maxContentLength {
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

// ValidateOptionalContent validates text accompanying an attachment or offer.
func ValidateOptionalContent(content string) error {
	if content == "" {
		return nil
	}
	return ValidateMessageContent(content)
}

// ValidateID validates a beneficiary, list, attachment or offer id. Ids end up
// in store subjects, so separators and wildcards are refused.
func ValidateID(id string) error {
	if id == "" {
		return errors.New("id cannot be empty")
	}
	if len(id) > maxIDLength {
		return errors.New("id exceeds maximum length")
	}
	if strings.ContainsAny(id, ".*> \t\r\n/") {
		return errors.New("id contains invalid characters")
	}
	return nil
}

// ValidateIDs validates a recipient list.
func ValidateIDs(ids []string) error {
	if len(ids) == 0 {
		return errors.New("at least one id is required")
	}
	if len(ids) > maxRecipients {
		return errors.New("too many ids")
	}
	for _, id := range ids {
		if err := ValidateID(id); err != nil {
			return err
		}
	}
	return nil
}
