package llm

import (
	"fmt"
	"strings"

	"github.com/Rrens/chatnil/internal/domain"
)

const (
	// HistoryTurns is how many trailing messages are sent as context
	HistoryTurns = 6
	// DocumentCharLimit caps the text included per attached document
	DocumentCharLimit = 3000

	defaultTemperature = 0.7
	defaultMaxTokens   = 1000
)

// DocumentContext is an attached document included in the prompt
type DocumentContext struct {
	Name string
	Kind string
	Text string
}

const basePrompt = `You are the ChatNIL assistant, an expert on Name, Image, and Likeness (NIL) deals for student-athletes.
Help users understand NIL opportunities, stay compliant and make informed decisions.

Principles:
- Be accurate and cite the rule or law you rely on
- Be supportive but realistic about opportunities
- Never give legal advice; recommend a lawyer for legal questions`

var rolePrompts = map[domain.RoleContext]string{
	domain.RoleContextAthlete: `USER ROLE: Student-Athlete

Style: friendly and encouraging, plain English, no legal jargon.
Focus: personal brand, deal types, fair pricing, red flags, balancing NIL with athletics and school.
Format: answer directly, then give 2-3 concrete next steps.`,

	domain.RoleContextParent: `USER ROLE: Parent or Guardian

Style: professional and thorough, protective of the athlete.
Focus: contract review, protections for minors, taxes and financial planning, vetting agencies and brands, eligibility impact.
Format: organized sections, warning signs, due diligence steps and professional resources.`,

	domain.RoleContextCoach: `USER ROLE: Coach

Style: professional and compliance-first.
Focus: what coaches may and may not do, team dynamics, recruiting and transfer implications, reporting duties.
Coaches may educate athletes and connect them with compliance staff. They may not arrange deals, use NIL as a recruiting inducement or take a share of an athlete's NIL income.
Format: lead with compliance, then clear dos and don'ts.`,
}

// BuildSystemPrompt creates the system prompt for a role, with any attached
// documents appended as reference material
func BuildSystemPrompt(role domain.RoleContext, docs []DocumentContext) string {
	rp, ok := rolePrompts[role]
	if !ok {
		rp = rolePrompts[domain.RoleContextAthlete]
	}

	var b strings.Builder
	b.WriteString(basePrompt)
	b.WriteString("\n\n")
	b.WriteString(rp)

	if len(docs) > 0 {
		b.WriteString("\n\n# USER'S UPLOADED DOCUMENTS\n")
		b.WriteString("The user attached documents that may be relevant to their question:\n\n")
		for i, d := range docs {
			if i > 0 {
				b.WriteString("\n\n---\n\n")
			}
			kind := d.Kind
			if kind == "" {
				kind = "document"
			}
			fmt.Fprintf(&b, "## %s (%s)\n%s", d.Name, kind, TruncateDocument(d.Text))
		}
	}
	return b.String()
}

// TruncateDocument shortens text to DocumentCharLimit characters
func TruncateDocument(text string) string {
	r := []rune(text)
	if len(r) <= DocumentCharLimit {
		return text
	}
	return string(r[:DocumentCharLimit]) + "\n... [document truncated]"
}

// BuildTurns converts the trailing finalized messages into provider turns
func BuildTurns(messages []domain.Message) []Turn {
	var turns []Turn
	for _, m := range messages {
		if m.IsStreaming || strings.TrimSpace(m.Content) == "" {
			continue
		}
		role := "user"
		if m.Role == domain.RoleAssistant {
			role = "assistant"
		}
		turns = append(turns, Turn{Role: role, Content: m.Content})
	}
	if len(turns) > HistoryTurns {
		turns = turns[len(turns)-HistoryTurns:]
	}
	return turns
}

// BuildRequest assembles a provider request for a completion
func BuildRequest(req domain.CompletionRequest, docs []DocumentContext) Request {
	return Request{
		System:      BuildSystemPrompt(req.RoleContext, docs),
		Turns:       BuildTurns(req.Messages),
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
	}
}
