package prompt

import (
	"errors"
	"testing"

	"github.com/teamgate-io/teamgate/internal/provider"
)

func TestGetPrompt_Advanced(t *testing.T) {
	_, _, err := GetPrompt(Template{Type: TemplateAdvanced}, Options{Query: "hi"})
	if !errors.Is(err, ErrNotImplemented) {
		t.Errorf("GetPrompt() error = %v, want %v", err, ErrNotImplemented)
	}
}

func TestGetPrompt_Simple(t *testing.T) {
	history := []provider.Message{
		provider.UserMessage("earlier question"),
		provider.AssistantMessage("earlier answer"),
	}

	tests := []struct {
		name      string
		tmpl      Template
		opts      Options
		wantRoles []provider.Role
		wantFirst string
		wantLast  string
	}{
		{
			name:      "query without template",
			opts:      Options{Query: "what is go?"},
			wantRoles: []provider.Role{provider.RoleUser},
			wantLast:  "what is go?",
		},
		{
			name:      "template and query yield system turn",
			tmpl:      Template{PrePrompt: "You are helpful."},
			opts:      Options{Query: "what is go?"},
			wantRoles: []provider.Role{provider.RoleSystem, provider.RoleUser},
			wantFirst: "You are helpful.",
			wantLast:  "what is go?",
		},
		{
			name:      "lone template becomes the user turn",
			tmpl:      Template{PrePrompt: "Summarise the attached report."},
			opts:      Options{},
			wantRoles: []provider.Role{provider.RoleUser},
			wantLast:  "Summarise the attached report.",
		},
		{
			name: "context joins into the system turn",
			tmpl: Template{PrePrompt: "Answer from context."},
			opts: Options{
				Query: "who won?",
				Context: []provider.ContentPart{
					{Type: "text", Text: "The home team"},
					{Type: "text", Text: "won 2-1."},
				},
			},
			wantRoles: []provider.Role{provider.RoleSystem, provider.RoleUser},
			wantFirst: "Answer from context.\nCONTEXT:The home team won 2-1.\n",
			wantLast:  "who won?",
		},
		{
			name:      "memory splices history before the query",
			tmpl:      Template{PrePrompt: "You are helpful."},
			opts:      Options{Query: "and now?", Memory: true, History: history},
			wantRoles: []provider.Role{provider.RoleSystem, provider.RoleUser, provider.RoleAssistant, provider.RoleUser},
			wantLast:  "and now?",
		},
		{
			name:      "files append to the user turn",
			opts:      Options{Query: "summarise", Files: "report body"},
			wantRoles: []provider.Role{provider.RoleUser},
			wantLast:  "summarise\nreport body",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			messages, stop, err := GetPrompt(tt.tmpl, tt.opts)
			if err != nil {
				t.Fatalf("GetPrompt() error = %v", err)
			}
			if stop != nil {
				t.Errorf("GetPrompt() stop = %v, want nil", stop)
			}
			if len(messages) != len(tt.wantRoles) {
				t.Fatalf("GetPrompt() returned %d messages, want %d", len(messages), len(tt.wantRoles))
			}
			for i, role := range tt.wantRoles {
				if messages[i].Role != role {
					t.Errorf("messages[%d].Role = %q, want %q", i, messages[i].Role, role)
				}
			}
			if tt.wantFirst != "" && messages[0].Content != tt.wantFirst {
				t.Errorf("first message = %q, want %q", messages[0].Content, tt.wantFirst)
			}
			if last := messages[len(messages)-1].Content; last != tt.wantLast {
				t.Errorf("last message = %q, want %q", last, tt.wantLast)
			}
		})
	}
}
