package cmd

import (
	"errors"
	"fmt"

	"github.com/alec-rabold/zipspy/pkg/zipfile"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var files, outFiles []string
var outDir string

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract one or more files from a zip archive",
	Long: `Downloads range(s) of bytes from the zip archive
	containing the compressed file(s), then decompresses the data.
	Without -o or -d the contents are written to stdout.

	ex:
	zipspy extract -b myBucket -k myKey -f plan.txt
	zipspy extract -b myBucket -k myKey -f plan.txt -o my/directory/plan.txt
	zipspy extract -a archive.zip -f plan1.txt,path/to/plan2.txt -d out
	zipspy extract -a archive.zip -f plan1.txt -o plan1.txt -f plan2.txt -o plan2.txt`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(files) == 0 {
			return errors.New("at least one --file is required")
		}
		if len(outFiles) > 0 && len(outFiles) != len(files) {
			return errors.New("must specify one output file for every file")
		}
		if len(outFiles) > 0 && outDir != "" {
			return errors.New("--out and --dir are mutually exclusive")
		}

		ctx, cancel := commandContext()
		defer cancel()
		x, err := openExtractor(ctx)
		if err != nil {
			return err
		}
		defer closeArchive(x.Archive())

		switch {
		case outDir != "":
			dest, err := zipfile.NewDirDestination(outDir)
			if err != nil {
				return err
			}
			for _, f := range files {
				if _, err := x.ExtractFileTo(ctx, f, dest); err != nil {
					return err
				}
			}
		case len(outFiles) > 0:
			for i, f := range files {
				sink, err := zipfile.CreateFileSink(outFiles[i])
				if err != nil {
					log.Errorf("error opening file (name: %s), err: %v", outFiles[i], err)
					return err
				}
				n, err := x.ExtractFile(ctx, f, sink)
				if err != nil {
					// A missing entry leaves the sink open.
					_ = sink.Finish()
					return err
				}
				log.WithFields(log.Fields{"path": f, "out": outFiles[i], "bytes": n}).Info("extracted")
			}
		default:
			for _, f := range files {
				contents, err := x.ReadFile(ctx, f)
				if err != nil {
					return err
				}
				if _, err := cmd.OutOrStdout().Write(contents); err != nil {
					return fmt.Errorf("writing %s to stdout: %w", f, err)
				}
			}
		}
		return nil
	},
}

var extractAllCmd = &cobra.Command{
	Use:   "extract-all",
	Short: "Extract every entry of a zip archive into a directory",
	Long: `Extracts the whole archive tree under --dir. Entries that fail are
	reported at the end; the others are still extracted.

	ex:
	zipspy extract-all -a archive.zip -d out
	zipspy extract-all -b myBucket -k myKey -d out --workers 8`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if outDir == "" {
			return errors.New("--dir is required")
		}

		ctx, cancel := commandContext()
		defer cancel()
		x, err := openExtractor(ctx)
		if err != nil {
			return err
		}
		defer closeArchive(x.Archive())

		dest, err := zipfile.NewDirDestination(outDir)
		if err != nil {
			return err
		}
		summary, err := x.ExtractAllAsync(ctx, dest).Wait(ctx)
		var partial *zipfile.PartialFailure
		if errors.As(err, &partial) {
			for _, f := range partial.Failures {
				log.Errorf("error extracting %s, err: %v", f.Path, f.Err)
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d files, %d directories, %d bytes written to %s\n",
			summary.Files, summary.Dirs, summary.Bytes, dest.Root())
		return err
	},
}

func init() {
	rootCmd.AddCommand(extractCmd)
	addSourceFlags(extractCmd)
	extractCmd.Flags().StringSliceVarP(&files, "file", "f", []string{}, "(required) names of the files to extract (e.g. plan.txt, path/to/plan.txt)")
	extractCmd.Flags().StringSliceVarP(&outFiles, "out", "o", []string{}, "name(s) of the file(s) to write output to")
	extractCmd.Flags().StringVarP(&outDir, "dir", "d", "", "directory to extract the files into, keeping their archive paths")

	rootCmd.AddCommand(extractAllCmd)
	addSourceFlags(extractAllCmd)
	extractAllCmd.Flags().StringVarP(&outDir, "dir", "d", "", "(required) destination directory")
}
