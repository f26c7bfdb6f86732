package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Stakeholder suggests relevant contacts to loop into a finding.
type Stakeholder struct{}

// NewStakeholder creates the stakeholder suggestion tool.
func NewStakeholder() *Stakeholder { return &Stakeholder{} }

func (s *Stakeholder) Name() string { return "stakeholder_suggest" }

func (s *Stakeholder) Description() string {
	return "Suggest relevant stakeholders (PM/Marketing/Sales/etc.) with fake contacts and ask if the user wants an intro."
}

func (s *Stakeholder) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"roles": {"type": "array", "items": {"type": "string"}, "description": "Preferred roles to suggest (e.g., product_manager, marketing, sales)"},
			"note": {"type": "string", "description": "Optional context to include in the suggestion."}
		}
	}`)
}

type contact struct {
	Role  string `json:"role"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

var roster = []contact{
	{Role: "product_manager", Name: "Avery Kim", Email: "avery.kim@example.com"},
	{Role: "marketing", Name: "Jordan Lee", Email: "jordan.lee@example.com"},
	{Role: "sales", Name: "Casey Patel", Email: "casey.patel@example.com"},
	{Role: "customer_success", Name: "Riley Chen", Email: "riley.chen@example.com"},
}

func (s *Stakeholder) Execute(_ context.Context, args json.RawMessage) (any, error) {
	var a struct {
		Roles []string `json:"roles,omitempty"`
		Note  string   `json:"note,omitempty"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("parse args: %w", err)
	}

	wanted := make(map[string]bool, len(a.Roles))
	for _, r := range a.Roles {
		wanted[strings.ToLower(r)] = true
	}
	suggestions := make([]contact, 0, len(roster))
	for _, c := range roster {
		if len(wanted) == 0 || wanted[c.Role] {
			suggestions = append(suggestions, c)
		}
	}

	prompt := "Would you like me to loop in one of these stakeholders to review or act on the findings? " +
		"Reply with the role (e.g., 'product_manager' or 'marketing') and I'll draft an intro note."
	if a.Note != "" {
		prompt += " Context noted: " + a.Note
	}
	return map[string]any{
		"suggestions": suggestions,
		"prompt":      prompt,
	}, nil
}
