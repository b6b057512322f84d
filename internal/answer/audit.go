package answer

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Keyring-Network/keyring-zssm/explainer/internal/llm"
	"github.com/Keyring-Network/keyring-zssm/explainer/internal/prompt"
)

type AuditResult struct {
	Leaked    bool   `json:"leaked"`
	Reasoning string `json:"reasoning"`
}

// Auditor asks a second model whether an answer leaks the system prompt.
// Without a check model it passes every answer through.
type Auditor struct {
	check llm.ChatClient
	log   *slog.Logger
}

func NewAuditor(check llm.ChatClient, log *slog.Logger) *Auditor {
	if log == nil {
		log = slog.Default()
	}
	return &Auditor{check: check, log: log}
}

func (a *Auditor) Enabled() bool {
	return a != nil && a.check != nil
}

// Compose produces the delivered text for a parsed result. A leak reported
// by the check model replaces the whole reply, keyword header included.
func (a *Auditor) Compose(ctx context.Context, result Result, systemPrompt string) string {
	if !result.Block && a.Leaked(ctx, *result.Output, systemPrompt) {
		return Refusal
	}
	return Render(result)
}

// Leaked never fails: every error on this path counts as "not leaked".
func (a *Auditor) Leaked(ctx context.Context, answer, systemPrompt string) (leaked bool) {
	if !a.Enabled() {
		return false
	}
	defer func() {
		if p := recover(); p != nil {
			a.log.Error("audit panicked", "panic", p)
			leaked = false
		}
	}()

	completion, err := a.check.Create(ctx, []llm.Message{
		llm.SystemMessage(prompt.AuditSystemPrompt),
		llm.UserMessage(prompt.AuditUserPrompt(systemPrompt, answer)),
	})
	if err != nil {
		a.log.Error("audit request failed", "model", a.check.Model(), "error", err)
		return false
	}
	var result AuditResult
	if err := json.Unmarshal([]byte(Normalize(completion.Content)), &result); err != nil {
		a.log.Error("audit result unparsable", "error", err, "content", llm.Preview(completion.Content))
		return false
	}
	a.log.Info("audit finished", "leaked", result.Leaked, "reasoning", result.Reasoning)
	return result.Leaked
}
