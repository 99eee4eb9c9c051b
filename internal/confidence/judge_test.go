package confidence

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nlsql/gateway/internal/executor"
	"github.com/nlsql/gateway/internal/llm"
)

func sampleResult() *executor.QueryResult {
	return &executor.QueryResult{
		Columns:  []executor.ColumnInfo{{Name: "id", Type: executor.TagInt}, {Name: "name", Type: executor.TagText}},
		Rows:     [][]any{{int64(1), "alice"}, {int64(2), "bob"}},
		RowCount: 2,
	}
}

func TestScore_ReturnsProviderConfidence(t *testing.T) {
	score := 77
	mock := &llm.MockClient{
		JudgeFunc: func(ctx context.Context, question, sql string, rows []map[string]any) (*llm.Confidence, error) {
			require.Len(t, rows, 2)
			assert.Equal(t, "alice", rows[0]["name"])
			return &llm.Confidence{Score: &score, Rationale: "matches"}, nil
		},
	}
	j := NewJudge(mock, nil)

	conf, err := j.Score(context.Background(), "who are the users?", "SELECT id, name FROM users", sampleResult())
	require.NoError(t, err)
	require.NotNil(t, conf.Score)
	assert.Equal(t, 77, *conf.Score)
}

func TestScore_DegradesToUnjudgedOnProviderError(t *testing.T) {
	mock := &llm.MockClient{
		JudgeFunc: func(ctx context.Context, question, sql string, rows []map[string]any) (*llm.Confidence, error) {
			return nil, errors.New("provider down")
		},
	}
	j := NewJudge(mock, nil)

	conf, err := j.Score(context.Background(), "q", "SELECT 1", sampleResult())
	require.NoError(t, err)
	assert.Nil(t, conf.Score)
	assert.Equal(t, "unjudged", conf.Rationale)
}

func TestScore_SkipsEmptyResult(t *testing.T) {
	mock := &llm.MockClient{
		JudgeFunc: func(ctx context.Context, question, sql string, rows []map[string]any) (*llm.Confidence, error) {
			t.Fatal("judge should not be called for an empty result")
			return nil, nil
		},
	}
	j := NewJudge(mock, nil)

	conf, err := j.Score(context.Background(), "q", "SELECT 1", &executor.QueryResult{RowCount: 0})
	require.NoError(t, err)
	assert.Equal(t, "unjudged", conf.Rationale)
}

func TestScore_CapsSampleRowsAtFive(t *testing.T) {
	rows := make([][]any, 10)
	for i := range rows {
		rows[i] = []any{int64(i)}
	}
	result := &executor.QueryResult{
		Columns:  []executor.ColumnInfo{{Name: "id", Type: executor.TagInt}},
		Rows:     rows,
		RowCount: 10,
	}

	mock := &llm.MockClient{
		JudgeFunc: func(ctx context.Context, question, sql string, sample []map[string]any) (*llm.Confidence, error) {
			assert.Len(t, sample, maxSampleRows)
			return &llm.Confidence{}, nil
		},
	}
	j := NewJudge(mock, nil)

	_, err := j.Score(context.Background(), "q", "SELECT id FROM t", result)
	require.NoError(t, err)
}
