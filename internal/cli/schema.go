package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

type SchemaCmd struct{}

func NewSchemaCmd() *SchemaCmd {
	return &SchemaCmd{}
}

func (c *SchemaCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the schema and a preview of the loaded datasets",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := readRootFlags(cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}
			headRows, err := cmd.Flags().GetInt("head")
			if err != nil {
				return fmt.Errorf("failed to get head flag: %w", err)
			}

			log := newLogger(f.verbose)
			ctx := cmd.Context()

			fr, err := newFrame(ctx, log, f)
			if err != nil {
				return err
			}
			defer fr.Close()

			schema, err := fr.Schema(ctx)
			if err != nil {
				return fmt.Errorf("failed to fetch schema: %w", err)
			}
			fmt.Println(schema)

			if headRows > 0 {
				for _, table := range fr.Tables() {
					head, err := fr.Head(ctx, table, headRows)
					if err != nil {
						return fmt.Errorf("failed to preview table %s: %w", table, err)
					}
					fmt.Printf("== %s ==\n", table)
					printRows(head)
					fmt.Println()
				}
			}
			return nil
		},
	}

	cmd.Flags().Int("head", 5, "preview rows per table (0 disables)")

	return cmd
}
