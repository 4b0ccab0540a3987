package settings

import (
	"context"
	"errors"
	"testing"
)

// memStore is a map-backed settings store.
type memStore struct {
	data map[string]Settings
}

func (m *memStore) LoadSettings(_ context.Context, userID string) (Settings, error) {
	if s, ok := m.data[userID]; ok {
		return s, nil
	}
	return Defaults(), nil
}

func (m *memStore) SaveSettings(_ context.Context, userID string, s Settings) error {
	if m.data == nil {
		m.data = make(map[string]Settings)
	}
	m.data[userID] = s
	return nil
}

func TestParseUpdate_UnknownFieldRejected(t *testing.T) {
	_, err := ParseUpdate([]byte(`{"theme":"dark","font_size":14}`))
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("unknown field must be rejected with ErrValidation, got %v", err)
	}
}

func TestApplyValidation(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"valid theme", `{"theme":"dark"}`, false},
		{"invalid theme", `{"theme":"neon"}`, true},
		{"valid privacy", `{"privacy_level":"private"}`, false},
		{"invalid privacy", `{"privacy_level":"everyone"}`, true},
		{"empty language", `{"language":""}`, true},
		{"oversized language", `{"language":"abcdefghijk"}`, true},
		{"booleans", `{"sound_enabled":false,"compact_mode":true}`, false},
	}

	for _, tt := range tests {
		u, err := ParseUpdate([]byte(tt.raw))
		if err != nil {
			t.Fatalf("%s: parse: %v", tt.name, err)
		}
		_, err = u.Apply(Defaults())
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: Apply() error = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrValidation) {
			t.Errorf("%s: validation errors must wrap ErrValidation, got %v", tt.name, err)
		}
	}
}

func TestApplyPartial(t *testing.T) {
	u, err := ParseUpdate([]byte(`{"theme":"dark","notifications_enabled":false}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	got, err := u.Apply(Defaults())
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got.Theme != "dark" || got.NotificationsEnabled {
		t.Errorf("changed fields not applied: %+v", got)
	}
	if got.Language != "en" || !got.SoundEnabled || got.PrivacyLevel != "friends" {
		t.Errorf("untouched fields must keep their values: %+v", got)
	}
}

func TestServiceUpdateRejectLeavesStoreUntouched(t *testing.T) {
	store := &memStore{}
	svc := NewService(store)
	ctx := context.Background()

	if _, err := svc.Update(ctx, "alice", []byte(`{"theme":"neon"}`)); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if len(store.data) != 0 {
		t.Error("a rejected update must not persist anything")
	}

	got, err := svc.Update(ctx, "alice", []byte(`{"theme":"auto"}`))
	if err != nil {
		t.Fatalf("valid update: %v", err)
	}
	if got.Theme != "auto" {
		t.Errorf("expected theme auto, got %s", got.Theme)
	}
	if store.data["alice"].Theme != "auto" {
		t.Error("valid update must persist")
	}
}
