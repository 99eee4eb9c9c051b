package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nlsql/gateway/internal/apperrors"
	"github.com/nlsql/gateway/internal/history"
	"github.com/nlsql/gateway/internal/orchestrator"
)

const defaultProbeTimeout = 5 * time.Second

// newQueryCommand runs a single question through the orchestrator from the
// command line and maps its outcome to spec §6's exit codes: 0 success,
// 1 configuration error, 2 transient failure, 3 safety-refused.
func newQueryCommand() *cobra.Command {
	var dbName, question string
	var sqlOnly bool

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Ask a natural-language question of a registered database",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := buildApp(ctx, cfgPath)
			if err != nil {
				return withCode(exitConfigError, err)
			}
			defer a.shutdown(ctx, a.cfg.Shutdown.Deadline())

			mode := orchestrator.ReturnModeExecute
			if sqlOnly {
				mode = orchestrator.ReturnModeSQLOnly
			}

			resp := a.orc.Handle(ctx, orchestrator.QueryRequest{
				DatabaseName: dbName,
				Question:     question,
				ReturnMode:   mode,
			})

			recordQueryHistory(ctx, a, dbName, resp)

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			_ = enc.Encode(resp)

			if resp.Success {
				return nil
			}
			return withCode(exitCodeForKind(resp.Error.Kind), fmt.Errorf("%s", resp.Error.Message))
		},
	}

	cmd.Flags().StringVar(&dbName, "db", "", "registered database name")
	cmd.Flags().StringVar(&question, "question", "", "natural-language question")
	cmd.Flags().BoolVar(&sqlOnly, "sql-only", false, "generate and validate SQL without executing it")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("question")

	return cmd
}

// recordQueryHistory appends the outcome to the append-only log (spec §3,
// §6). A history write failure is logged, never surfaced to the caller.
func recordQueryHistory(ctx context.Context, a *app, dbName string, resp *orchestrator.QueryResponse) {
	rec := history.Record{
		RequestID:    resp.RequestID,
		Timestamp:    time.Now(),
		DatabaseName: dbName,
		SQL:          resp.SQL,
		Success:      resp.Success,
		Source:       history.SourceNL,
	}
	if resp.Data != nil {
		rowCount := resp.Data.RowCount
		execMS := resp.Stats.ExecuteMS
		rec.RowCount = &rowCount
		rec.ExecutionMS = &execMS
	}
	if resp.Error != nil {
		rec.ErrorKind = string(resp.Error.Kind)
	}
	if err := a.historyLog.Append(ctx, rec); err != nil {
		a.logger.Warn("failed to append query history", "error", err)
	}
}

// exitCodeForKind maps an error kind to spec §6's exit code taxonomy.
func exitCodeForKind(kind apperrors.ErrorKind) int {
	switch kind {
	case apperrors.KindConfigError, apperrors.KindUnknownDB:
		return exitConfigError
	case apperrors.KindParseError, apperrors.KindNotReadonly, apperrors.KindBlockedFunction,
		apperrors.KindDisallowedIdentifier, apperrors.KindMultipleStatements, apperrors.KindEmptyStatement,
		apperrors.KindUnsafeSQL, apperrors.KindTruncatedBeyondCap:
		return exitSafetyRefused
	default:
		return exitTransientError
	}
}
