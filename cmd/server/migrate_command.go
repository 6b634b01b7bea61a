package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"

	"github.com/phrazzld/studykit/internal/platform/migrate"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:       fmt.Sprintf("migrate <%s>", strings.Join(migrate.Commands, "|")),
		Short:     "Apply or inspect job store migrations",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: migrate.Commands,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			b, err := openBackend(cmd.Context(), cfg.Database, ctx.logger)
			if err != nil {
				return fmt.Errorf("failed to open job store: %w", err)
			}
			defer func() { _ = b.Close() }()

			runner, err := b.migrator(ctx.logger)
			if err != nil {
				return err
			}

			switch args[0] {
			case "status":
				statuses, err := runner.Status(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderMigrationStatus(statuses))
				return nil
			case "version":
				version, err := runner.Version(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), version)
				return nil
			default:
				return runner.Run(cmd.Context(), args[0])
			}
		},
	}
}

func renderMigrationStatus(statuses []*goose.MigrationStatus) string {
	rows := make([][]string, 0, len(statuses))
	for _, st := range statuses {
		if st == nil || st.Source == nil {
			continue
		}
		applied := "-"
		if st.State == goose.StateApplied && !st.AppliedAt.IsZero() {
			applied = st.AppliedAt.UTC().Format(time.RFC3339)
		}
		rows = append(rows, []string{
			strconv.FormatInt(st.Source.Version, 10),
			string(st.State),
			applied,
		})
	}
	return renderTable(
		[]string{"Version", "State", "Applied At"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft},
	)
}
