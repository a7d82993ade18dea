package chatstore

import (
	"sort"
	"strings"
	"time"

	"github.com/Rrens/chatnil/internal/domain"
)

const (
	// DefaultTitle is given to chats created without a first message
	DefaultTitle = "New Chat"
	// UntitledTitle replaces an empty rename
	UntitledTitle = "Untitled Chat"

	maxTitleLen = 50
)

// MakeTitle derives a chat title from the first user message. Whitespace is
// collapsed and titles longer than 50 characters are cut to 47 plus "...".
func MakeTitle(text string, now time.Time) string {
	cleaned := strings.Join(strings.Fields(text), " ")
	if cleaned == "" {
		return DefaultTitle + " " + now.Format("1/2/2006")
	}
	runes := []rune(cleaned)
	if len(runes) > maxTitleLen {
		return string(runes[:maxTitleLen-3]) + "..."
	}
	return cleaned
}

// sortChats orders pinned chats first, then by most recent update
func sortChats(chats []domain.Chat) {
	sort.SliceStable(chats, func(i, j int) bool {
		if chats[i].IsPinned != chats[j].IsPinned {
			return chats[i].IsPinned
		}
		return chats[i].UpdatedAt.After(chats[j].UpdatedAt)
	})
}

func matches(c domain.Chat, query string) bool {
	if strings.Contains(strings.ToLower(c.Title), query) {
		return true
	}
	for _, m := range c.Messages {
		if strings.Contains(strings.ToLower(m.Content), query) {
			return true
		}
	}
	return false
}
