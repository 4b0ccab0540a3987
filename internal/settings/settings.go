// Package settings defines the per-user client settings structure. Every
// recognized field is enumerated explicitly with its validation rule;
// updates carrying unknown fields are rejected outright rather than
// silently applied.
package settings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrValidation wraps every settings validation failure so callers can
// classify rejects without string matching.
var ErrValidation = errors.New("settings: validation failed")

// Allowed enum values.
var (
	validThemes  = map[string]bool{"light": true, "dark": true, "auto": true}
	validPrivacy = map[string]bool{"public": true, "friends": true, "private": true}
)

const maxLanguageLen = 10

// Settings is the complete per-user settings record.
type Settings struct {
	Theme                string `json:"theme"`
	Language             string `json:"language"`
	NotificationsEnabled bool   `json:"notifications_enabled"`
	SoundEnabled         bool   `json:"sound_enabled"`
	AutoSaveDrafts       bool   `json:"auto_save_drafts"`
	PrivacyLevel         string `json:"privacy_level"`
	AnimationsEnabled    bool   `json:"animations_enabled"`
	CompactMode          bool   `json:"compact_mode"`
}

// Defaults returns the settings assigned to a user who never saved any.
func Defaults() Settings {
	return Settings{
		Theme:                "light",
		Language:             "en",
		NotificationsEnabled: true,
		SoundEnabled:         true,
		AutoSaveDrafts:       true,
		PrivacyLevel:         "friends",
		AnimationsEnabled:    true,
		CompactMode:          false,
	}
}

// Update is a partial settings change. Nil fields are left untouched.
type Update struct {
	Theme                *string `json:"theme"`
	Language             *string `json:"language"`
	NotificationsEnabled *bool   `json:"notifications_enabled"`
	SoundEnabled         *bool   `json:"sound_enabled"`
	AutoSaveDrafts       *bool   `json:"auto_save_drafts"`
	PrivacyLevel         *string `json:"privacy_level"`
	AnimationsEnabled    *bool   `json:"animations_enabled"`
	CompactMode          *bool   `json:"compact_mode"`
}

// ParseUpdate decodes a partial update, rejecting any field not in the
// recognized set.
func ParseUpdate(raw []byte) (*Update, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var u Update
	if err := dec.Decode(&u); err != nil {
		return nil, fmt.Errorf("settings: %v: %w", err, ErrValidation)
	}
	return &u, nil
}

// Apply merges the update into base, validating every changed field.
func (u *Update) Apply(base Settings) (Settings, error) {
	out := base

	if u.Theme != nil {
		if !validThemes[*u.Theme] {
			return base, fmt.Errorf("settings: invalid theme %q: %w", *u.Theme, ErrValidation)
		}
		out.Theme = *u.Theme
	}
	if u.Language != nil {
		if *u.Language == "" || len(*u.Language) > maxLanguageLen {
			return base, fmt.Errorf("settings: invalid language %q: %w", *u.Language, ErrValidation)
		}
		out.Language = *u.Language
	}
	if u.PrivacyLevel != nil {
		if !validPrivacy[*u.PrivacyLevel] {
			return base, fmt.Errorf("settings: invalid privacy level %q: %w", *u.PrivacyLevel, ErrValidation)
		}
		out.PrivacyLevel = *u.PrivacyLevel
	}
	if u.NotificationsEnabled != nil {
		out.NotificationsEnabled = *u.NotificationsEnabled
	}
	if u.SoundEnabled != nil {
		out.SoundEnabled = *u.SoundEnabled
	}
	if u.AutoSaveDrafts != nil {
		out.AutoSaveDrafts = *u.AutoSaveDrafts
	}
	if u.AnimationsEnabled != nil {
		out.AnimationsEnabled = *u.AnimationsEnabled
	}
	if u.CompactMode != nil {
		out.CompactMode = *u.CompactMode
	}
	return out, nil
}

// Store persists settings records. The Postgres store implements it.
type Store interface {
	LoadSettings(ctx context.Context, userID string) (Settings, error)
	SaveSettings(ctx context.Context, userID string, s Settings) error
}

// Service applies validated updates on top of stored settings.
type Service struct {
	store Store
}

// NewService creates a settings Service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Get returns the user's settings, falling back to defaults.
func (s *Service) Get(ctx context.Context, userID string) (Settings, error) {
	return s.store.LoadSettings(ctx, userID)
}

// Update parses, validates, and persists a partial update, returning the
// resulting full settings. Nothing is persisted on a validation failure.
func (s *Service) Update(ctx context.Context, userID string, raw []byte) (Settings, error) {
	u, err := ParseUpdate(raw)
	if err != nil {
		return Settings{}, err
	}

	current, err := s.store.LoadSettings(ctx, userID)
	if err != nil {
		return Settings{}, fmt.Errorf("settings: load for %s: %w", userID, err)
	}

	next, err := u.Apply(current)
	if err != nil {
		return Settings{}, err
	}

	if err := s.store.SaveSettings(ctx, userID, next); err != nil {
		return Settings{}, fmt.Errorf("settings: save for %s: %w", userID, err)
	}
	return next, nil
}
