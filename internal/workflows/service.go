package workflows

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"

	"github.com/Keyring-Network/keyring-zssm/explainer/internal/pipeline"
)

const DefaultTaskQueue = "zssm-explain"

type Service struct {
	client    client.Client
	taskQueue string
}

func NewService(client client.Client, taskQueue string) *Service {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	return &Service{client: client, taskQueue: taskQueue}
}

// Explain starts ExplainWorkflow and blocks until it completes. Unanswered
// commands come back as *pipeline.Failure, matching the inline pipeline.
func (s *Service) Explain(ctx context.Context, req pipeline.Request) (string, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}
	options := client.StartWorkflowOptions{
		ID:        workflowID(req.RequestID),
		TaskQueue: s.taskQueue,
	}
	run, err := s.client.ExecuteWorkflow(ctx, options, ExplainWorkflow, ExplainInput{Request: req})
	if err != nil {
		return "", fmt.Errorf("start explain workflow: %w", err)
	}
	var result ExplainResult
	if err := run.Get(ctx, &result); err != nil {
		return "", fmt.Errorf("explain workflow: %w", err)
	}
	if result.Failed {
		return "", &pipeline.Failure{Stage: result.Stage, Message: result.Message}
	}
	return result.Text, nil
}

func workflowID(requestID string) string {
	return fmt.Sprintf("explain:%s", requestID)
}
