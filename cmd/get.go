package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/tanq16/rangepull/internal/sink"
	"github.com/tanq16/rangepull/internal/utils"
)

func newGetCmd() *cobra.Command {
	var outputPath string
	var compress string
	var s3URL string
	var profile string
	var blobURL string
	var blobKey string

	cmd := &cobra.Command{
		Use:   "get [TARGET] [--output OUTPUT_PATH]",
		Short: "Download one resource in range chunks",
		Long: `Download one resource in range chunks.

TARGET is host[:port]/path, optionally prefixed with http://. A literal IP
address is dialled directly and no Host header is sent.

Examples:
  rangepull get 192.168.4.1/firmware.bin -o fw.bin
  rangepull get updates.local:8080/fw.bin --compress zstd
  rangepull get updates.local/fw.bin --s3 s3://mybucket/fw.bin --profile ops
  rangepull get updates.local/fw.bin --blob file:///srv/mirror --key fw/latest.bin`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			switch compress {
			case sink.CompressNone, sink.CompressGzip, sink.CompressZstd:
			default:
				return fmt.Errorf("unsupported compression %q (use gzip or zstd)", compress)
			}
			if s3URL != "" && blobURL != "" {
				return fmt.Errorf("choose one of --s3 and --blob")
			}
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			job := utils.Job{
				ID:         uuid.NewString(),
				Target:     args[0],
				OutputPath: outputPath,
				Compress:   compress,
				S3URL:      s3URL,
				S3Profile:  profile,
				BlobURL:    blobURL,
				BlobKey:    blobKey,
				Stream:     stream,
				Overwrite:  overwrite,
			}
			runJobs([]utils.Job{job})
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path (inferred from the target path if not provided)")
	cmd.Flags().StringVarP(&compress, "compress", "z", "", "Compress the output file (gzip or zstd)")
	cmd.Flags().StringVar(&s3URL, "s3", "", "Upload to s3://BUCKET/KEY instead of a local file")
	cmd.Flags().StringVarP(&profile, "profile", "p", "", "AWS profile to use with --s3")
	cmd.Flags().StringVar(&blobURL, "blob", "", "Write to a gocloud bucket URL (file://, mem://, s3://)")
	cmd.Flags().StringVar(&blobKey, "key", "", "Object key for --blob (defaults to the target file name)")
	return cmd
}
