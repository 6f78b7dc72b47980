package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/tanq16/rangepull/internal/output"
	"github.com/tanq16/rangepull/internal/rangehttp"
	"github.com/tanq16/rangepull/internal/scheduler"
	"github.com/tanq16/rangepull/internal/utils"
)

var (
	logLevel       string
	chunkSize      int64
	retries        int
	backoff        time.Duration
	initialTimeout time.Duration
	readTimeout    time.Duration
	headers        []string
	userAgent      string
	token          string
	tokenFile      string
	workers        int
	stream         bool
	legacyRangeEnd bool
	bareHeaders    bool
	upperHost      bool
	overwrite      bool
)

var RangepullVersion = "dev"

var rootCmd = &cobra.Command{
	Use:   "rangepull",
	Short: "rangepull pulls large files over flaky links one byte range at a time",
	Long: `rangepull downloads a resource as a sequence of small HTTP/1.1 range
requests, one short-lived connection each, retrying a chunk when the link
drops and stopping when the server answers 416.`,
	Version:       RangepullVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := utils.ParseLogLevel(logLevel)
		if err != nil {
			return err
		}
		utils.InitLogger(level)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		output.PrintError(err.Error())
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&logLevel, "log-level", "error", "Diagnostics level (none, error, info, debug)")
	flags.Int64VarP(&chunkSize, "chunk-size", "s", rangehttp.DefaultChunkSize, "Bytes requested per range")
	flags.IntVarP(&retries, "retries", "r", rangehttp.DefaultMaxAttempts, "Extra attempts per chunk before giving up")
	flags.DurationVar(&backoff, "backoff", rangehttp.DefaultBackoff, "Wait between attempts of the same chunk")
	flags.DurationVar(&initialTimeout, "initial-timeout", rangehttp.DefaultInitialTimeout, "Wait for the first response byte")
	flags.DurationVar(&readTimeout, "read-timeout", rangehttp.DefaultReadTimeout, "Wait between response fragments")
	flags.StringArrayVarP(&headers, "header", "H", []string{}, "Custom header ('Name: value', or 'Name' alone); can be repeated")
	flags.StringVarP(&userAgent, "user-agent", "a", utils.DefaultUserAgent, "User agent")
	flags.StringVar(&token, "token", "", "Bearer token sent as Authorization header")
	flags.StringVar(&tokenFile, "token-file", "", "JSON oauth2 token file used for the Authorization header")
	flags.IntVarP(&workers, "workers", "w", utils.DefaultWorkers, "Downloads run in parallel")
	flags.BoolVar(&stream, "stream", false, "Forward body bytes as they arrive instead of per completed chunk")
	flags.BoolVar(&legacyRangeEnd, "legacy-range-end", false, "Send start+size as the range end, for servers that treat it as exclusive")
	flags.BoolVar(&bareHeaders, "bare-headers", false, "Write name-only headers without colon or line ending, as legacy firmware servers expect")
	flags.BoolVar(&upperHost, "upper-host", false, "Spell the Host header name HOST, as legacy firmware clients do")
	flags.BoolVar(&overwrite, "overwrite", false, "Overwrite existing output files instead of picking a new name")

	rootCmd.AddCommand(newGetCmd())
	rootCmd.AddCommand(newBatchCmd())
}

func downloadConfig() rangehttp.Config {
	level, _ := utils.ParseLogLevel(logLevel)
	cfg := rangehttp.DefaultConfig()
	cfg.ChunkSize = chunkSize
	cfg.LogLevel = level
	cfg.MaxAttempts = retries
	cfg.Backoff = backoff
	cfg.InitialTimeout = initialTimeout
	cfg.ReadTimeout = readTimeout
	cfg.LegacyRangeEnd = legacyRangeEnd
	cfg.BareNameOnly = bareHeaders
	cfg.UpperHost = upperHost
	if stream {
		cfg.Delivery = rangehttp.DeliverStream
	}
	return cfg
}

func headerConfig() utils.HeaderConfig {
	return utils.HeaderConfig{
		UserAgent: userAgent,
		Headers:   headers,
		Token:     token,
		TokenFile: tokenFile,
	}
}

func runJobs(jobs []utils.Job) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	output.PrintHeader(fmt.Sprintf("rangepull %s %s %d download(s), %d worker(s)", RangepullVersion, output.StyleSymbols["arrow"], len(jobs), max(1, min(workers, len(jobs)))))
	err := scheduler.Run(ctx, jobs, scheduler.Options{
		Config:  downloadConfig(),
		Headers: headerConfig(),
		Workers: workers,
	})
	if err != nil {
		fmt.Println()
		output.PrintError(fmt.Sprintf("Encountered failed download(s): %v", err))
		os.Exit(1)
	}
	output.PrintSuccess("All downloads completed")
}
