package kv

import (
	"fmt"
	"strings"
)

// Root is the prefix shared by every key this application writes
const Root = "chatnil."

// SchemaVersion is bumped whenever the mirrored snapshot layout changes.
// Keys written under an older version are ignored and eventually cleared.
const SchemaVersion = 3

// Versioned returns the prefix for the current schema version
func Versioned() string {
	return fmt.Sprintf("%sv%d.", Root, SchemaVersion)
}

// idEscaper keeps the key separator out of user ids
var idEscaper = strings.NewReplacer("%", "%25", ".", "%2E")

// UserPrefix returns the prefix of every key scoped to userID
func UserPrefix(userID string) string {
	return fmt.Sprintf("%suser_%s.", Versioned(), idEscaper.Replace(userID))
}

// HistoryKey is the chat-history mirror of one user
func HistoryKey(userID string) string {
	return UserPrefix(userID) + "history"
}

// Preference keys, not scoped to a user
func SidebarWidthKey() string      { return Versioned() + "pref.sidebar_width" }
func ThemeKey() string             { return Versioned() + "pref.theme" }
func NavigationHistoryKey() string { return Versioned() + "pref.nav_history" }
