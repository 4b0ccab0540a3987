package message

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{"simple", "hello", false},
		{"unicode", "привет 👋", false},
		{"char limit ok", strings.Repeat("a", MaxContentChars), false},
		{"over char limit", strings.Repeat("a", MaxContentChars+1), true},
		{"over byte limit", strings.Repeat("ы", MaxContentBytes/2+1), true},
		{"invalid utf8", string([]byte{0xff, 0xfe}), true},
	}

	for _, tt := range tests {
		err := ValidateContent(tt.content)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: ValidateContent() = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrInvalidContent) {
			t.Errorf("%s: error must wrap ErrInvalidContent, got %v", tt.name, err)
		}
	}
}
