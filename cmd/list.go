package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/alec-rabold/zipspy/pkg/reader"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the entries of a zip archive",
	Long: `Reads only the central directory of the archive and prints one line
	per entry: method, compressed size, size, modification time and name.

	ex:
	zipspy list -a archive.zip
	zipspy list -b myBucket -k myKey`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()
		x, err := openExtractor(ctx)
		if err != nil {
			return err
		}
		defer closeArchive(x.Archive())

		entries, err := x.Archive().Entries()
		if err != nil {
			return err
		}
		return printEntries(cmd.OutOrStdout(), entries)
	},
}

func printEntries(w io.Writer, entries []reader.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Method\tCompressed\tSize\tModified\t")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t %s\n",
			methodName(e.Method), e.CompressedSize, e.UncompressedSize,
			e.Modified.Format("2006-01-02 15:04"), e.Name)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d entries\n", len(entries))
	return err
}

func methodName(m uint16) string {
	switch m {
	case reader.Store:
		return "store"
	case reader.Deflate:
		return "deflate"
	}
	return fmt.Sprintf("method(%d)", m)
}

func init() {
	rootCmd.AddCommand(listCmd)
	addSourceFlags(listCmd)
}
