package chatstore

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Rrens/chatnil/internal/domain"
)

// ExportVersion identifies the JSON export envelope
const ExportVersion = "1.0"

const exportTimeLayout = "Jan 2, 2006, 3:04:05 PM"

type exportEnvelope struct {
	Version    string        `json:"version"`
	ExportedAt time.Time     `json:"exported_at"`
	Chats      []domain.Chat `json:"chats"`
}

// ExportChats serializes the non-archived chats into the JSON export envelope
func (s *Store) ExportChats() ([]byte, error) {
	var chats []domain.Chat
	for _, c := range s.Chats() {
		if !c.IsArchived {
			chats = append(chats, settled(c))
		}
	}
	if chats == nil {
		chats = []domain.Chat{}
	}

	data, err := json.MarshalIndent(exportEnvelope{
		Version:    ExportVersion,
		ExportedAt: s.clock.Now().UTC(),
		Chats:      chats,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal export: %w", err)
	}
	return data, nil
}

// ImportChats adds the chats of an export envelope under fresh ids and
// returns how many were imported
func (s *Store) ImportChats(data []byte) (int, error) {
	var env exportEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return 0, fmt.Errorf("invalid export: %w", err)
	}
	if env.Chats == nil {
		return 0, fmt.Errorf("invalid export: no chats")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	imported := make([]domain.Chat, 0, len(env.Chats))
	for _, c := range env.Chats {
		c = normalize(c.Clone())
		c.ID = s.newID()
		for i := range c.Messages {
			if c.Messages[i].ID == "" {
				c.Messages[i].ID = s.newID()
			}
		}
		imported = append(imported, c)
	}
	s.chats = append(imported, s.chats...)
	for _, c := range imported {
		s.touchLocked(c.ID)
	}
	return len(imported), nil
}

// ExportOptions controls Markdown and text exports
type ExportOptions struct {
	IncludeMetadata   bool
	IncludeTimestamps bool
}

// DefaultExportOptions includes metadata and timestamps
var DefaultExportOptions = ExportOptions{IncludeMetadata: true, IncludeTimestamps: true}

func speaker(r domain.MessageRole) string {
	if r == domain.RoleUser {
		return "You"
	}
	return "ChatNIL"
}

// ExportMarkdown renders one chat as Markdown
func ExportMarkdown(c domain.Chat, opts ExportOptions) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", c.Title)

	if opts.IncludeMetadata {
		b.WriteString("---\n")
		fmt.Fprintf(&b, "**Created:** %s\n", c.CreatedAt.Format(exportTimeLayout))
		fmt.Fprintf(&b, "**Updated:** %s\n", c.UpdatedAt.Format(exportTimeLayout))
		fmt.Fprintf(&b, "**Messages:** %d\n", len(c.Messages))
		fmt.Fprintf(&b, "**Role Context:** %s\n", c.RoleContext)
		b.WriteString("---\n\n")
	}

	for i, m := range c.Messages {
		ts := ""
		if opts.IncludeTimestamps {
			ts = fmt.Sprintf(" *(%s)*", m.CreatedAt.Format(exportTimeLayout))
		}
		fmt.Fprintf(&b, "## %s%s\n\n%s\n\n", speaker(m.Role), ts, m.Content)
		for _, src := range m.Sources {
			if src.URL != "" {
				fmt.Fprintf(&b, "- [%s](%s)\n", src.Title, src.URL)
			} else {
				fmt.Fprintf(&b, "- %s\n", src.Title)
			}
		}
		if len(m.Sources) > 0 {
			b.WriteString("\n")
		}
		if i < len(c.Messages)-1 {
			b.WriteString("---\n\n")
		}
	}
	return b.String()
}

// ExportText renders one chat as plain text
func ExportText(c domain.Chat, opts ExportOptions) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n%s\n\n", c.Title, strings.Repeat("=", len([]rune(c.Title))))

	if opts.IncludeMetadata {
		fmt.Fprintf(&b, "Created: %s\n", c.CreatedAt.Format(exportTimeLayout))
		fmt.Fprintf(&b, "Updated: %s\n", c.UpdatedAt.Format(exportTimeLayout))
		fmt.Fprintf(&b, "Messages: %d\n", len(c.Messages))
		fmt.Fprintf(&b, "Role Context: %s\n", c.RoleContext)
		fmt.Fprintf(&b, "\n%s\n\n", strings.Repeat("=", 50))
	}

	for i, m := range c.Messages {
		ts := ""
		if opts.IncludeTimestamps {
			ts = fmt.Sprintf(" (%s)", m.CreatedAt.Format(exportTimeLayout))
		}
		fmt.Fprintf(&b, "[%s]%s\n%s\n\n", speaker(m.Role), ts, m.Content)
		if i < len(c.Messages)-1 {
			fmt.Fprintf(&b, "%s\n\n", strings.Repeat("-", 50))
		}
	}
	return b.String()
}
