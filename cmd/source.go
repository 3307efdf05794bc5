package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/alec-rabold/zipspy/pkg/aws"
	"github.com/alec-rabold/zipspy/pkg/reader"
	"github.com/alec-rabold/zipspy/pkg/source"
	"github.com/alec-rabold/zipspy/pkg/zipfile"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var archivePath, bucket, key, url string

// commandContext returns a context cancelled on interrupt.
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

// addSourceFlags registers the flags that select where the archive is read from.
func addSourceFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&archivePath, "archive", "a", "", "path of a local zip archive")
	cmd.Flags().StringVarP(&bucket, "bucket", "b", "", "name of the S3 bucket")
	cmd.Flags().StringVarP(&key, "key", "k", "", "name of the S3 key (object)")
	cmd.Flags().StringVarP(&url, "url", "u", "", "URL of a zip archive served with range support")
}

// openSource returns the byte source selected by the flags.
func openSource(ctx context.Context) (source.ByteSource, error) {
	switch {
	case archivePath != "":
		return source.OpenFile(archivePath)
	case bucket != "" && key != "":
		client, err := aws.NewClient(viper.GetString("region"))
		if err != nil {
			return nil, err
		}
		return source.NewS3(ctx, client, bucket, key)
	case url != "":
		return source.NewHTTP(ctx, url, nil)
	}
	return nil, errors.New("one of --archive, --bucket/--key or --url is required")
}

// openExtractor opens the archive selected by the flags. The caller must
// close the returned archive.
func openExtractor(ctx context.Context) (*zipfile.Extractor, error) {
	src, err := openSource(ctx)
	if err != nil {
		return nil, err
	}
	archive, err := zipfile.OpenAsync(ctx, src).Wait(ctx)
	if err != nil {
		if c, ok := src.(interface{ Close() error }); ok {
			c.Close()
		}
		return nil, err
	}
	log.WithField("entries", archive.Len()).Debug("archive opened")
	return zipfile.NewExtractor(archive,
		zipfile.WithWorkers(viper.GetInt("workers")),
		zipfile.WithLogger(log.StandardLogger()),
	), nil
}

func closeArchive(a *reader.Archive) {
	if err := a.Close(); err != nil {
		log.Errorf("error closing archive, err: %v", err)
	}
}
