package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/syssam/dynacrud/schema"
)

func newModelsCmd(opts *options) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the served models",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			switch format {
			case "table":
				return printModels(cmd.OutOrStdout(), cfg.Models)
			case "yaml":
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				if err := enc.Encode(map[string]any{"models": cfg.Models}); err != nil {
					return err
				}
				return enc.Close()
			default:
				return fmt.Errorf("unknown format %q", format)
			}
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "table", "output format: table or yaml")
	return cmd
}

func printModels(w io.Writer, models []*schema.Model) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tTABLE\tID\tFIELDS\tRELATIONS")
	for _, m := range models {
		rels := make([]string, len(m.Relations))
		for i, r := range m.Relations {
			rels[i] = r.Name + "->" + r.Model
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			m.Name, m.TableName(), m.IDStrategy(),
			strings.Join(m.FieldNames()[1:], ","), strings.Join(rels, ","))
	}
	return tw.Flush()
}
