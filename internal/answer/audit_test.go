package answer

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Keyring-Network/keyring-zssm/explainer/internal/llm"
	"github.com/Keyring-Network/keyring-zssm/explainer/internal/prompt"
)

func newAuditor(check llm.ChatClient) *Auditor {
	return NewAuditor(check, slog.New(slog.DiscardHandler))
}

func TestAuditor_PassThroughWithoutCheckModel(t *testing.T) {
	a := newAuditor(nil)
	require.False(t, a.Enabled())
	require.False(t, a.Leaked(context.Background(), "answer", "system"))
}

func TestAuditor_Leaked(t *testing.T) {
	check := llm.NewMockClient()
	check.On("Create", mock.Anything, mock.MatchedBy(func(messages []llm.Message) bool {
		return len(messages) == 2 &&
			messages[0].Content == prompt.AuditSystemPrompt &&
			messages[1].Content == prompt.AuditUserPrompt("system 12345678", "my rules are...")
	})).Return(llm.Completion{Content: "```json\n{\"leaked\": true, \"reasoning\": \"quotes rules\"}\n```"}, nil)

	a := newAuditor(check)
	require.True(t, a.Leaked(context.Background(), "my rules are...", "system 12345678"))
	check.AssertExpectations(t)
}

func TestAuditor_NotLeaked(t *testing.T) {
	check := llm.NewMockClient()
	check.On("Create", mock.Anything, mock.Anything).Return(llm.Completion{Content: `{"leaked": false, "reasoning": "ok"}`}, nil)

	a := newAuditor(check)
	require.False(t, a.Leaked(context.Background(), "fine", "system"))
}

func TestAuditor_ErrorsAreSwallowed(t *testing.T) {
	tests := []struct {
		name       string
		completion llm.Completion
		err        error
	}{
		{name: "api error", err: &llm.APIError{Message: "down", Code: 502}},
		{name: "network error", err: errors.New("connection reset")},
		{name: "not json", completion: llm.Completion{Content: "I think it leaked"}},
		{name: "wrong type", completion: llm.Completion{Content: `{"leaked": "yes"}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := llm.NewMockClient()
			check.On("Create", mock.Anything, mock.Anything).Return(tt.completion, tt.err)

			a := newAuditor(check)
			require.False(t, a.Leaked(context.Background(), "answer", "system"))
		})
	}
}

func TestAuditor_Compose(t *testing.T) {
	output := "解释"
	result := Result{Output: &output, Keyword: Keywords{"a", "b"}}

	t.Run("clean", func(t *testing.T) {
		check := llm.NewMockClient()
		check.On("Create", mock.Anything, mock.Anything).Return(llm.Completion{Content: `{"leaked": false}`}, nil)
		require.Equal(t, "关键词：a | b\n\n解释", newAuditor(check).Compose(context.Background(), result, "system"))
	})

	t.Run("leaked drops keyword line", func(t *testing.T) {
		check := llm.NewMockClient()
		check.On("Create", mock.Anything, mock.Anything).Return(llm.Completion{Content: `{"leaked": true}`}, nil)
		require.Equal(t, Refusal, newAuditor(check).Compose(context.Background(), result, "system"))
	})

	t.Run("blocked skips audit", func(t *testing.T) {
		check := llm.NewMockClient()
		blocked := result
		blocked.Block = true
		require.Equal(t, Refusal, newAuditor(check).Compose(context.Background(), blocked, "system"))
		check.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("output equal to refusal keeps keyword line", func(t *testing.T) {
		check := llm.NewMockClient()
		check.On("Create", mock.Anything, mock.Anything).Return(llm.Completion{Content: `{"leaked": false}`}, nil)
		refusal := Refusal
		echoed := Result{Output: &refusal, Keyword: Keywords{"a"}}
		require.Equal(t, Render(echoed), newAuditor(check).Compose(context.Background(), echoed, "system"))
	})

	t.Run("no check model", func(t *testing.T) {
		require.Equal(t, "关键词：a | b\n\n解释", newAuditor(nil).Compose(context.Background(), result, "system"))
	})
}
