package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/nlsql/gateway/internal/dbpool"
	mysqldriver "github.com/nlsql/gateway/internal/dbpool/mysql"
	postgresdriver "github.com/nlsql/gateway/internal/dbpool/postgres"
	"github.com/nlsql/gateway/internal/registry"
)

// newRegisterDBCommand probes a candidate database descriptor against the
// live driver set and reports whether it is reachable. It does not persist
// anything; configuration is the single source of truth (spec §6) — this is
// an operator convenience for validating a uri before adding it to the
// config file.
func newRegisterDBCommand() *cobra.Command {
	var name, dialect, uri string
	var poolMax int32
	var rowCap int

	cmd := &cobra.Command{
		Use:   "register-db",
		Short: "Probe a candidate database descriptor for reachability",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), defaultProbeTimeout)
			defer cancel()

			desc := registry.Descriptor{
				Name:    name,
				Dialect: registry.Dialect(dialect),
				URI:     uri,
				PoolMin: 1,
				PoolMax: poolMax,
				RowCap:  rowCap,
			}

			reg := registry.New()
			if err := reg.Register(desc); err != nil {
				return withCode(exitConfigError, err)
			}

			manager := dbpool.NewManager(reg, slog.New(slog.DiscardHandler), nil)
			manager.RegisterDriver(postgresdriver.Driver{})
			manager.RegisterDriver(mysqldriver.Driver{})
			defer manager.CloseAll(ctx, defaultProbeTimeout)

			conn, err := manager.Acquire(ctx, name)
			if err != nil {
				return withCode(exitTransientError, fmt.Errorf("cannot reach %q: %w", name, err))
			}
			conn.Release()

			fmt.Printf("database %q (%s) is reachable; add it to the databases section of the configuration file to register it\n", name, dialect)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "database name")
	cmd.Flags().StringVar(&dialect, "dialect", "", "postgres or mysql")
	cmd.Flags().StringVar(&uri, "uri", "", "connection URI")
	cmd.Flags().Int32Var(&poolMax, "pool-max", 5, "maximum pool size")
	cmd.Flags().IntVar(&rowCap, "row-cap", 1000, "maximum rows returned per query")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("dialect")
	_ = cmd.MarkFlagRequired("uri")

	return cmd
}
