package cmd

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/tanq16/rangepull/internal/output"
	"github.com/tanq16/rangepull/internal/sink"
	"github.com/tanq16/rangepull/internal/utils"
	"gopkg.in/yaml.v3"
)

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [YAML_FILE] [OPTIONS]",
		Short: "Process multiple downloads from a YAML file",
		Long: `Process multiple downloads from a YAML file.

The file lists downloads under a top-level "downloads" key:

  downloads:
    - target: 192.168.4.1/firmware.bin
      output: fw/firmware.bin
    - target: updates.local/modem.img
      compress: zstd
      headers: ["X-Device-Id: 42"]
    - target: updates.local/boot.img
      s3: s3://mirror/boot.img`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			data, err := os.ReadFile(args[0])
			if err != nil {
				output.PrintError(fmt.Sprintf("Error reading YAML file: %v", err))
				os.Exit(1)
			}
			jobs, err := buildJobsFromBatch(data)
			if err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}
			if len(jobs) == 0 {
				output.PrintError("No valid jobs found in the batch file")
				os.Exit(1)
			}
			runJobs(jobs)
		},
	}
	return cmd
}

func buildJobsFromBatch(data []byte) ([]utils.Job, error) {
	var batchFile utils.BatchFile
	if err := yaml.Unmarshal(data, &batchFile); err != nil {
		return nil, fmt.Errorf("error parsing YAML file: %v", err)
	}
	var jobs []utils.Job
	for i, entry := range batchFile.Downloads {
		if entry.Target == "" {
			output.PrintWarning(fmt.Sprintf("Warning: entry %d has no target, skipping...", i+1))
			continue
		}
		switch entry.Compress {
		case sink.CompressNone, sink.CompressGzip, sink.CompressZstd:
		default:
			output.PrintWarning(fmt.Sprintf("Warning: entry %d uses unknown compression %q, skipping...", i+1, entry.Compress))
			continue
		}
		jobs = append(jobs, utils.Job{
			ID:         uuid.NewString(),
			Target:     entry.Target,
			OutputPath: entry.Output,
			Compress:   entry.Compress,
			S3URL:      entry.S3,
			S3Profile:  entry.Profile,
			BlobURL:    entry.Blob,
			BlobKey:    entry.Key,
			Headers:    entry.Headers,
			Stream:     stream,
			Overwrite:  overwrite,
		})
	}
	return jobs, nil
}
