// Package confidence implements the result validator (C10): a secondary,
// best-effort LLM pass that scores how well an executed result answers the
// original question. Judging never fails a request — any provider error
// degrades to an unscored Confidence rather than propagating.
package confidence

import (
	"context"
	"log/slog"

	"github.com/nlsql/gateway/internal/executor"
	"github.com/nlsql/gateway/internal/llm"
)

// maxSampleRows bounds how many result rows are sent to the judge prompt.
const maxSampleRows = 5

// unjudged is returned whenever judging is skipped or fails.
var unjudged = &llm.Confidence{Rationale: "unjudged"}

// Judge wraps an llm.Client to produce best-effort Confidence assessments.
type Judge struct {
	client llm.Client
	logger *slog.Logger
}

// NewJudge builds a Judge backed by client.
func NewJudge(client llm.Client, logger *slog.Logger) *Judge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Judge{client: client, logger: logger}
}

// Score calls the provider's judge_result operation with a bounded sample of
// the executed rows. On any error it logs and returns unjudged rather than
// failing the caller (spec §4.7 S5).
func (j *Judge) Score(ctx context.Context, question, sql string, result *executor.QueryResult) (*llm.Confidence, error) {
	if result == nil || result.RowCount == 0 {
		return unjudged, nil
	}

	sample := sampleRows(result)
	conf, err := j.client.JudgeResult(ctx, question, sql, sample)
	if err != nil {
		j.logger.Warn("result judging failed, degrading to unjudged", "error", err)
		return unjudged, nil
	}
	if conf == nil {
		return unjudged, nil
	}
	return conf, nil
}

// sampleRows converts up to maxSampleRows of the executor's positional rows
// into column-named maps the judge prompt can render directly.
func sampleRows(result *executor.QueryResult) []map[string]any {
	n := len(result.Rows)
	if n > maxSampleRows {
		n = maxSampleRows
	}
	out := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		row := make(map[string]any, len(result.Columns))
		for ci, col := range result.Columns {
			if ci < len(result.Rows[i]) {
				row[col.Name] = result.Rows[i][ci]
			}
		}
		out = append(out, row)
	}
	return out
}
