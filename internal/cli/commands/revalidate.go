package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var revalidateCmd = &cobra.Command{
	Use:   "revalidate <slug>",
	Short: "Check whether an entity's shard file changed on the host",
	Long: `Open an entity, then re-check the hosted file against the pinned
snapshot. If the host republished the file, cached pages are dropped and
the new snapshot is adopted.

Examples:
  pagevfs revalidate eng-sahih`,
	Args: cobra.ExactArgs(1),
	RunE: runRevalidate,
}

func init() {
	rootCmd.AddCommand(revalidateCmd)
}

func runRevalidate(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	sess, err := client.Open(ctx, args[0])
	if err != nil {
		return err
	}
	defer sess.Close()

	before := sess.Identity()
	if err := sess.Revalidate(ctx); err != nil {
		return err
	}
	after := sess.Identity()

	fmt.Printf("File:      %s\n", before.Path)
	if after == before {
		fmt.Println("Snapshot:  unchanged")
		fmt.Printf("Size:      %d bytes\n", after.Size)
		if after.ETag != "" {
			fmt.Printf("ETag:      %s\n", after.ETag)
		}
		return nil
	}

	fmt.Println("Snapshot:  replaced, new snapshot adopted")
	fmt.Printf("Size:      %d -> %d bytes\n", before.Size, after.Size)
	fmt.Printf("ETag:      %s -> %s\n", before.ETag, after.ETag)
	return nil
}
