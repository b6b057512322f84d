package workflows

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Keyring-Network/keyring-zssm/explainer/internal/pipeline"
)

type Explainer interface {
	Explain(ctx context.Context, req pipeline.Request) (string, error)
}

type Activities struct {
	explainer Explainer
	log       *slog.Logger
}

func NewActivities(explainer Explainer, log *slog.Logger) *Activities {
	if log == nil {
		log = slog.Default()
	}
	return &Activities{explainer: explainer, log: log}
}

// Explain runs the pipeline inside the worker. A *pipeline.Failure is folded
// into the result so the workflow does not record it as an error.
func (a *Activities) Explain(ctx context.Context, input ExplainInput) (ExplainResult, error) {
	text, err := a.explainer.Explain(ctx, input.Request)
	if err == nil {
		return ExplainResult{Text: text}, nil
	}
	var failure *pipeline.Failure
	if !errors.As(err, &failure) {
		return ExplainResult{}, err
	}
	if failure.Err != nil {
		a.log.Warn("explain failed", "request_id", input.Request.RequestID, "stage", failure.Stage, "error", failure.Err)
	}
	return ExplainResult{Failed: true, Stage: failure.Stage, Message: failure.Message}, nil
}
