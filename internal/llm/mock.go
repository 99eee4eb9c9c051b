package llm

import "context"

// MockClient is a test double satisfying Client, grounded on the teacher's
// MockLLMClient (internal/infrastructure/llm/client.go) generalized to the
// generate/judge operations.
type MockClient struct {
	GenerateFunc func(ctx context.Context, prompt string) (*GeneratedSQL, error)
	JudgeFunc    func(ctx context.Context, question, sql string, sampleRows []map[string]any) (*Confidence, error)
	HealthErr    error
}

func (m *MockClient) GenerateSQL(ctx context.Context, prompt string) (*GeneratedSQL, error) {
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, prompt)
	}
	return &GeneratedSQL{Text: "SELECT 1", Dialect: "postgres", ModelID: "mock"}, nil
}

func (m *MockClient) JudgeResult(ctx context.Context, question, sql string, sampleRows []map[string]any) (*Confidence, error) {
	if m.JudgeFunc != nil {
		return m.JudgeFunc(ctx, question, sql, sampleRows)
	}
	score := 80
	return &Confidence{Score: &score, Rationale: "mock judgement"}, nil
}

func (m *MockClient) Health(ctx context.Context) error {
	return m.HealthErr
}
