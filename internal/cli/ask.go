package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/wara-ops/tableqa/pkg/agent"
	"github.com/wara-ops/tableqa/pkg/frame"
)

type AskCmd struct{}

func NewAskCmd() *AskCmd {
	return &AskCmd{}
}

func (c *AskCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a natural-language question about the loaded datasets",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := readRootFlags(cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}
			showSQL, err := cmd.Flags().GetBool("show-sql")
			if err != nil {
				return fmt.Errorf("failed to get show-sql flag: %w", err)
			}

			log := newLogger(f.verbose)
			ctx := cmd.Context()

			var onProgress agent.ProgressFunc
			if f.verbose {
				onProgress = func(p agent.Progress) {
					log.Debug("progress", "stage", p.Stage, "attempt", p.Attempt)
				}
			}

			engine, fr, err := newEngine(ctx, log, f, onProgress, nil)
			if err != nil {
				return err
			}
			defer fr.Close()
			defer engine.Close()

			question := strings.Join(args, " ")
			result, err := engine.Ask(ctx, question)
			if err != nil {
				return fmt.Errorf("failed to answer question: %w", err)
			}

			fmt.Println(result.Answer)

			if showSQL {
				fmt.Println()
				fmt.Println("SQL:", result.Instruction)
				if result.Explanation != "" {
					fmt.Println("Explanation:", result.Explanation)
				}
				fmt.Printf("Attempts: %d\n", result.Attempts)
				if result.Output.Error != "" {
					fmt.Println("Query error:", result.Output.Error)
				} else {
					printRows(result.Output)
				}
			}
			return nil
		},
	}

	cmd.Flags().Bool("show-sql", false, "print the generated SQL and its raw output")

	return cmd
}

// maxPrintedRows bounds terminal output for large results.
const maxPrintedRows = 50

func printRows(result frame.QueryResult) {
	if len(result.Rows) == 0 {
		fmt.Println("(no rows)")
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	table.SetHeader(result.Columns)

	n := min(len(result.Rows), maxPrintedRows)
	for _, row := range result.Rows[:n] {
		values := make([]string, len(result.Columns))
		for i, col := range result.Columns {
			values[i] = fmt.Sprintf("%v", row[col])
		}
		table.Append(values)
	}
	table.Render()

	if len(result.Rows) > maxPrintedRows {
		fmt.Printf("... and %d more rows\n", len(result.Rows)-maxPrintedRows)
	}
}
