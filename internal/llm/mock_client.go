package llm

import (
	"context"
	"iter"

	"github.com/stretchr/testify/mock"
)

// MockClient is a mock ChatClient for tests.
type MockClient struct {
	mock.Mock
}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) Create(ctx context.Context, messages []Message) (Completion, error) {
	args := m.Called(ctx, messages)

	completion, _ := args.Get(0).(Completion)
	return completion, args.Error(1)
}

// Stream yields the []Delta given to Return, then the error if one is set.
func (m *MockClient) Stream(ctx context.Context, messages []Message) iter.Seq2[Delta, error] {
	args := m.Called(ctx, messages)

	deltas, _ := args.Get(0).([]Delta)
	err := args.Error(1)
	return func(yield func(Delta, error) bool) {
		for _, d := range deltas {
			if !yield(d, nil) {
				return
			}
		}
		if err != nil {
			yield(Delta{}, err)
		}
	}
}

func (m *MockClient) Model() string {
	return "mock-model"
}
