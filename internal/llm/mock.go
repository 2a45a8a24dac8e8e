package llm

import "context"

// MockClient is a test double for Client. It also backs the "mock"
// provider, which answers every request with a fixed reply.
type MockClient struct {
	ProviderName string
	Reply        string
	CompleteFunc func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

func (m *MockClient) Name() string {
	if m.ProviderName == "" {
		return "mock"
	}
	return m.ProviderName
}

func (m *MockClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	reply := m.Reply
	if reply == "" {
		reply = "mock response"
	}
	return &CompletionResponse{Content: reply, Model: req.Model}, nil
}
