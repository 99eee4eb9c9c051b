package sqlsafety

import (
	"strings"

	"github.com/nlsql/gateway/internal/apperrors"
	"github.com/nlsql/gateway/internal/registry"
)

func unsupportedDialectError(dialect registry.Dialect) error {
	return apperrors.New(apperrors.KindConfigError, "no SQL validator for dialect "+string(dialect))
}

// isBlocked reports whether name matches one of the policy's blocked
// function names, case-insensitively (spec §4.3 function blacklist step).
func isBlocked(name string, blocked []string) bool {
	for _, b := range blocked {
		if strings.EqualFold(name, b) {
			return true
		}
	}
	return false
}

// checkAllowedTables enforces the identifier policy step: when an allowlist
// is configured, every referenced table must appear in it.
func checkAllowedTables(tables, allowed []string) error {
	if len(allowed) == 0 {
		return nil
	}
	allowSet := make(map[string]bool, len(allowed))
	for _, t := range allowed {
		allowSet[strings.ToLower(t)] = true
	}
	for _, t := range tables {
		if !allowSet[strings.ToLower(t)] {
			return apperrors.New(apperrors.KindDisallowedIdentifier, "table not in allowlist: "+t)
		}
	}
	return nil
}
