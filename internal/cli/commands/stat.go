package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statCmd = &cobra.Command{
	Use:   "stat <path>",
	Short: "Show size and change token for a hosted file",
	Long: `Query the host for a file's length and change token without opening
it. The path is relative to the base URL.

Examples:
  pagevfs stat editions/index.json
  pagevfs stat editions/chunk_1.db`,
	Args: cobra.ExactArgs(1),
	RunE: runStat,
}

func init() {
	rootCmd.AddCommand(statCmd)
}

func runStat(cmd *cobra.Command, args []string) error {
	host, err := newHost()
	if err != nil {
		return err
	}

	info, err := host.Stat(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Path:      %s\n", info.Path)
	fmt.Printf("Size:      %d bytes\n", info.Size)
	if info.ETag != "" {
		fmt.Printf("ETag:      %s\n", info.ETag)
	} else {
		fmt.Println("ETag:      (none; staleness detection unavailable)")
	}
	if !info.ModTime.IsZero() {
		fmt.Printf("Modified:  %s\n", info.ModTime.Format(time.RFC1123))
	}
	return nil
}
