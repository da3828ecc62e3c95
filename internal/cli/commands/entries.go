package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var entriesCmd = &cobra.Command{
	Use:   "entries",
	Short: "List the entities routed by the hosted index",
	Long: `Download the collection index and list every entity it routes, with
the shard file behind each one.

Examples:
  pagevfs entries --base-url https://cdn.example.com/quran
  pagevfs entries --index editions/index.json`,
	Args: cobra.NoArgs,
	RunE: runEntries,
}

func init() {
	rootCmd.AddCommand(entriesCmd)
}

func runEntries(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	routes, err := client.Entries(cmd.Context())
	if err != nil {
		return err
	}
	if len(routes) == 0 {
		fmt.Println("No entries")
		return nil
	}

	fmt.Printf("%-24s %-7s %-5s %-30s %s\n", "SLUG", "ENTITY", "LANG", "NAME", "FILE")
	for _, r := range routes {
		fmt.Printf("%-24s %-7d %-5s %-30s %s\n", r.Slug, r.EntityID, r.Language, r.Name, r.File)
	}
	fmt.Printf("\n%d entries\n", len(routes))
	return nil
}
