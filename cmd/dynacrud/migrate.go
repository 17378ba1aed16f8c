package main

import (
	"errors"
	"fmt"
	"io"

	"ariga.io/atlas/sql/schema"
	"github.com/spf13/cobra"

	"github.com/syssam/dynacrud/config"
	"github.com/syssam/dynacrud/dialect/sql"
	sqlschema "github.com/syssam/dynacrud/dialect/sql/schema"
)

func newMigrateCmd(opts *options) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the missing tables of the declared models",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.Database.Dialect == config.Memory {
				return errors.New("migrate requires a SQL database")
			}
			log, err := newLogger(cmd.ErrOrStderr(), cfg.Log)
			if err != nil {
				return err
			}
			drv, err := sql.Open(cfg.Database.DriverName(), cfg.Database.DSN)
			if err != nil {
				return err
			}
			defer drv.Close()
			m, err := sqlschema.NewMigrate(drv.DB(), drv.Dialect(), sqlschema.WithLogger(log))
			if err != nil {
				return err
			}
			tables := sqlschema.Tables(cfg.Models)
			if !dryRun {
				return m.Create(cmd.Context(), tables...)
			}
			plan, err := m.Plan(cmd.Context(), tables...)
			if err != nil {
				return err
			}
			printPlan(cmd.OutOrStdout(), plan)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the planned changes without applying them")
	return cmd
}

func printPlan(w io.Writer, plan *sqlschema.Plan) {
	if len(plan.Changes) == 0 {
		fmt.Fprintln(w, "schema is up to date")
	}
	for _, c := range plan.Changes {
		switch c := c.(type) {
		case *schema.AddTable:
			fmt.Fprintf(w, "create table %s (%d columns)\n", c.T.Name, len(c.T.Columns))
		case *schema.ModifyTable:
			for _, tc := range c.Changes {
				switch tc := tc.(type) {
				case *schema.AddColumn:
					fmt.Fprintf(w, "add column %s.%s\n", c.T.Name, tc.C.Name)
				case *schema.AddIndex:
					fmt.Fprintf(w, "add index %s on %s\n", tc.I.Name, c.T.Name)
				}
			}
		}
	}
	if plan.Result != nil {
		for _, warn := range plan.Result.Warnings {
			fmt.Fprintf(w, "warning: %s.%s: %s\n", warn.Table, warn.Column, warn.Message)
		}
	}
}
