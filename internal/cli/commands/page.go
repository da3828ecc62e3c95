package commands

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/openquran/pagevfs/pagevfs"
)

var (
	pageRaw  bool
	pageFile bool
)

var pageCmd = &cobra.Command{
	Use:   "page <slug> <number>",
	Short: "Fetch one page of an entity's shard file",
	Long: `Fetch a single page through the page cache and print a hex preview.

With --raw the page bytes go to stdout unmodified, for piping into other
tools. With --file the first argument is a hosted file path instead of
an index slug.

Examples:
  pagevfs page eng-sahih 0
  pagevfs page --raw eng-sahih 0 > page0.bin
  pagevfs page --file quran.db 3`,
	Args: cobra.ExactArgs(2),
	RunE: runPage,
}

func init() {
	pageCmd.Flags().BoolVar(&pageRaw, "raw", false, "write raw page bytes to stdout")
	pageCmd.Flags().BoolVar(&pageFile, "file", false, "treat the argument as a hosted file path, not a slug")
	rootCmd.AddCommand(pageCmd)
}

func runPage(cmd *cobra.Command, args []string) error {
	number, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid page number %q", args[1])
	}

	client, err := newClient()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	var sess *pagevfs.Session
	if pageFile {
		sess, err = client.OpenFile(ctx, args[0])
	} else {
		sess, err = client.Open(ctx, args[0])
	}
	if err != nil {
		return err
	}
	defer sess.Close()

	data, err := sess.ReadPage(ctx, number)
	if err != nil {
		return err
	}

	if pageRaw {
		_, err = os.Stdout.Write(data)
		return err
	}

	fmt.Printf("Page:   %d of %d\n", number, sess.NumPages())
	fmt.Printf("Bytes:  %d\n\n", len(data))
	preview := data
	if len(preview) > 256 {
		preview = preview[:256]
	}
	fmt.Print(hex.Dump(preview))
	if len(data) > len(preview) {
		fmt.Printf("... %d more bytes (use --raw for the full page)\n", len(data)-len(preview))
	}
	return nil
}
