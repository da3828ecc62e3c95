package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <slug>",
	Short: "Resolve an entity and show its opened snapshot",
	Long: `Resolve an entity slug through the hosted index, open its shard file,
and show the routing metadata together with the pinned snapshot.

Examples:
  pagevfs resolve eng-sahih
  pagevfs resolve ara-quran --base-url https://cdn.example.com/quran`,
	Args: cobra.ExactArgs(1),
	RunE: runResolve,
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}

func runResolve(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	sess, err := client.Open(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	defer sess.Close()

	route := sess.Route()
	id := sess.Identity()

	fmt.Printf("Slug:      %s\n", route.Slug)
	fmt.Printf("Entity:    %d\n", route.EntityID)
	if route.Name != "" {
		fmt.Printf("Name:      %s\n", route.Name)
	}
	if route.Author != "" {
		fmt.Printf("Author:    %s\n", route.Author)
	}
	if route.Language != "" {
		fmt.Printf("Language:  %s (%s)\n", route.Language, route.Direction)
	}
	fmt.Printf("File:      %s\n", route.File)
	fmt.Printf("Size:      %d bytes\n", sess.Size())
	fmt.Printf("Pages:     %d x %d bytes\n", sess.NumPages(), sess.PageSize())
	fmt.Printf("Mode:      %s\n", sess.Mode())
	if id.ETag != "" {
		fmt.Printf("ETag:      %s\n", id.ETag)
	}
	return nil
}
