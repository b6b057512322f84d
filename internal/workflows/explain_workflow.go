package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/Keyring-Network/keyring-zssm/explainer/internal/pipeline"
)

const ExplainActivityName = "Explain"

type ExplainInput struct {
	Request pipeline.Request
}

// ExplainResult is the workflow outcome. A command that could not be
// answered completes normally with Failed set; only infrastructure errors
// fail the workflow.
type ExplainResult struct {
	Text    string
	Failed  bool
	Stage   string
	Message string
}

func ExplainWorkflow(ctx workflow.Context, input ExplainInput) (ExplainResult, error) {
	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	logger := workflow.GetLogger(ctx)
	var result ExplainResult
	if err := workflow.ExecuteActivity(ctx, ExplainActivityName, input).Get(ctx, &result); err != nil {
		logger.Error("explain activity failed", "request_id", input.Request.RequestID, "error", err)
		return ExplainResult{}, err
	}
	if result.Failed {
		logger.Info("explain finished without answer", "request_id", input.Request.RequestID, "stage", result.Stage)
	}
	return result, nil
}
