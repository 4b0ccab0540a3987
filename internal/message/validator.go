package message

import (
	"fmt"
	"unicode/utf8"
)

const (
	MaxContentBytes = 4096 // 4KB max frame size
	MaxContentChars = 2000 // max character count
)

// ValidateContent checks size and encoding limits on already-trimmed
// content. Emptiness is checked separately by the pipeline so that the
// EmptyContent reject is distinguishable.
func ValidateContent(content string) error {
	if len(content) > MaxContentBytes {
		return fmt.Errorf("message: content exceeds %d byte limit: %w", MaxContentBytes, ErrInvalidContent)
	}
	if utf8.RuneCountInString(content) > MaxContentChars {
		return fmt.Errorf("message: content exceeds %d character limit: %w", MaxContentChars, ErrInvalidContent)
	}
	if !utf8.ValidString(content) {
		return fmt.Errorf("message: content contains invalid UTF-8: %w", ErrInvalidContent)
	}
	return nil
}
