package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/crudkit/internal/seed"
	"github.com/mesh-intelligence/crudkit/pkg/types"
)

func newSeedCmd(a *app) *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert the built-in rows, or load rows from JSONL files",
		Long: `Without --from, insert the built-in rows into every empty table.
With --from, insert the records of every <table>.jsonl file in the directory.
All rows are saved in one transaction.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			b, err := a.attach(ctx, false)
			if err != nil {
				return err
			}
			defer b.Detach()

			var counts map[string]int
			if from != "" {
				counts, err = seed.LoadDir(ctx, b, from)
			} else {
				counts, err = seed.Defaults(ctx, b)
			}
			if err != nil {
				if errors.Is(err, types.ErrInvalidData) || errors.Is(err, types.ErrConflict) {
					return err
				}
				return sysErr(err)
			}

			names, err := seed.Tables()
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d\n", name, counts[name])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "directory of <table>.jsonl files to load")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	var out, dir string
	cmd := &cobra.Command{
		Use:   "export [table]",
		Short: "Write table rows as JSONL",
		Long: `Write the rows of one table to stdout, or to --out, one JSON object per
line. With --dir and no table, write <table>.jsonl for every table; seed
--from reads the result back.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && dir == "" {
				return errors.New("a table name or --dir is required")
			}
			ctx := cmd.Context()
			b, err := a.attach(ctx, false)
			if err != nil {
				return err
			}
			defer b.Detach()

			switch {
			case len(args) == 0:
				err = seed.ExportDir(ctx, b, dir)
			case out != "":
				err = seed.ExportFile(ctx, b, args[0], out)
			default:
				err = seed.Export(ctx, b, args[0], cmd.OutOrStdout())
			}
			if errors.Is(err, seed.ErrUnknownTable) {
				names, _ := seed.Tables()
				return fmt.Errorf("%w (valid: %s)", err, strings.Join(names, ", "))
			}
			return sysErr(err)
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "file to write instead of stdout")
	cmd.Flags().StringVar(&dir, "dir", "", "directory to write every table into")
	return cmd
}
