package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Sidebar width bounds in pixels
const (
	DefaultSidebarWidth = 280
	MinSidebarWidth     = 200
	MaxSidebarWidth     = 480
)

// MaxNavigationHistory bounds the persisted navigation list
const MaxNavigationHistory = 20

// Theme is the UI colour scheme preference
type Theme string

const (
	ThemeSystem Theme = "system"
	ThemeLight  Theme = "light"
	ThemeDark   Theme = "dark"
)

// Preferences reads and writes user interface preferences.
// Absent or malformed values fall back to defaults.
type Preferences struct {
	store Store
}

// NewPreferences creates a Preferences backed by store
func NewPreferences(store Store) *Preferences {
	return &Preferences{store: store}
}

// SidebarWidth returns the stored width or the default
func (p *Preferences) SidebarWidth(ctx context.Context) int {
	data, err := p.store.Get(ctx, SidebarWidthKey())
	if err != nil {
		return DefaultSidebarWidth
	}
	w, err := strconv.Atoi(string(data))
	if err != nil {
		return DefaultSidebarWidth
	}
	return clampWidth(w)
}

// SetSidebarWidth stores the width clamped to the allowed range
func (p *Preferences) SetSidebarWidth(ctx context.Context, width int) error {
	return p.store.Set(ctx, SidebarWidthKey(), []byte(strconv.Itoa(clampWidth(width))))
}

func clampWidth(w int) int {
	return max(MinSidebarWidth, min(MaxSidebarWidth, w))
}

// Theme returns the stored theme or ThemeSystem
func (p *Preferences) Theme(ctx context.Context) Theme {
	data, err := p.store.Get(ctx, ThemeKey())
	if err != nil {
		return ThemeSystem
	}
	switch t := Theme(data); t {
	case ThemeLight, ThemeDark, ThemeSystem:
		return t
	}
	return ThemeSystem
}

// SetTheme stores the theme
func (p *Preferences) SetTheme(ctx context.Context, theme Theme) error {
	switch theme {
	case ThemeLight, ThemeDark, ThemeSystem:
	default:
		return fmt.Errorf("unknown theme %q", theme)
	}
	return p.store.Set(ctx, ThemeKey(), []byte(theme))
}

// NavigationHistory returns visited locations, most recent last
func (p *Preferences) NavigationHistory(ctx context.Context) ([]string, error) {
	data, err := p.store.Get(ctx, NavigationHistoryKey())
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var history []string
	if err := json.Unmarshal(data, &history); err != nil {
		// unreadable history is discarded
		return nil, nil
	}
	return history, nil
}

// PushNavigation appends location, skipping consecutive duplicates and
// dropping the oldest entries past MaxNavigationHistory
func (p *Preferences) PushNavigation(ctx context.Context, location string) error {
	history, err := p.NavigationHistory(ctx)
	if err != nil {
		return err
	}
	if n := len(history); n > 0 && history[n-1] == location {
		return nil
	}
	history = append(history, location)
	if len(history) > MaxNavigationHistory {
		history = history[len(history)-MaxNavigationHistory:]
	}
	data, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to marshal navigation history: %w", err)
	}
	return p.store.Set(ctx, NavigationHistoryKey(), data)
}
