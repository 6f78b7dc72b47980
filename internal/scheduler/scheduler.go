package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/rangepull/internal/output"
	"github.com/tanq16/rangepull/internal/rangehttp"
	"github.com/tanq16/rangepull/internal/sink"
	"github.com/tanq16/rangepull/internal/transport"
	"github.com/tanq16/rangepull/internal/utils"
)

type Options struct {
	Config  rangehttp.Config
	Headers utils.HeaderConfig
	Workers int
	// Dialer overrides the TCP transport.
	Dialer transport.Dialer
	// Output overrides the terminal display.
	Output *output.Manager
}

// Run downloads every job using opts.Workers parallel workers. Each job is
// an independent chunked download. The returned error summarizes failures;
// details are shown by the output manager.
func Run(ctx context.Context, jobs []utils.Job, opts Options) error {
	outputMgr := opts.Output
	if outputMgr == nil {
		outputMgr = output.NewManager()
	}
	outputMgr.StartDisplay()
	defer outputMgr.StopDisplay()

	numWorkers := max(1, min(opts.Workers, utils.MaxWorkers, len(jobs)))
	jobCh := make(chan utils.Job, len(jobs))
	for _, job := range jobs {
		if job.ID == "" {
			job.ID = uuid.NewString()
		}
		jobCh <- job
	}
	close(jobCh)

	var wg sync.WaitGroup
	var mu sync.Mutex
	failed := 0
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for job := range jobCh {
				funcID := outputMgr.Register(job.Target)
				if err := processJob(ctx, job, funcID, opts, outputMgr); err != nil {
					log.Error().Str("op", "scheduler/run").Str("job", job.ID).Int("worker", workerID).Err(err).Msg("Download failed")
					outputMgr.ReportError(funcID, err)
					mu.Lock()
					failed++
					mu.Unlock()
				}
			}
		}(i)
	}
	wg.Wait()

	if failed > 0 {
		return fmt.Errorf("%d of %d downloads failed", failed, len(jobs))
	}
	return nil
}

func processJob(ctx context.Context, job utils.Job, funcID int, opts Options, outputMgr *output.Manager) error {
	req, err := rangehttp.ParseTarget(job.Target)
	if err != nil {
		return err
	}
	hdrCfg := opts.Headers
	hdrCfg.Headers = append(append([]string(nil), opts.Headers.Headers...), job.Headers...)
	args, err := hdrCfg.HeaderArgs()
	if err != nil {
		return err
	}
	req.Headers = rangehttp.ParseHeaders(args)

	dest, err := openDestination(ctx, job, req)
	if err != nil {
		return err
	}
	outputMgr.SetMessage(funcID, fmt.Sprintf("Downloading %s %s %s", job.Target, output.StyleSymbols["arrow"], dest.label))

	cfg := opts.Config
	if job.Stream {
		cfg.Delivery = rangehttp.DeliverStream
	}
	chunks := 0
	progress := &sink.Progress{Next: dest.sink}
	dopts := []rangehttp.Option{
		rangehttp.WithChunkHook(func(win rangehttp.ChunkWindow, n int64) {
			chunks++
			outputMgr.UpdateProgress(funcID, progress.Total(), chunks)
		}),
		rangehttp.WithRetryHook(func(attempt int, cause error) {
			outputMgr.MarkRetry(funcID, attempt)
		}),
	}
	if opts.Dialer != nil {
		dopts = append(dopts, rangehttp.WithDialer(opts.Dialer))
	}

	var resp rangehttp.DownloadResponse
	stats, err := rangehttp.New(cfg, dopts...).Download(ctx, req, &resp, progress)
	if err != nil {
		dest.abort(err)
		var statusErr *rangehttp.StatusError
		if errors.As(err, &statusErr) {
			return fmt.Errorf("server answered %d at offset %d", statusErr.Status, statusErr.Start)
		}
		return err
	}
	if err := dest.close(); err != nil {
		return err
	}
	log.Debug().Str("op", "scheduler/job").Str("job", job.ID).Msgf("Finished with status %d after %d chunks, %d retries", resp.Status, stats.Chunks, stats.Retries)
	outputMgr.UpdateProgress(funcID, stats.Bytes, stats.Chunks)
	outputMgr.Complete(funcID, fmt.Sprintf("Downloaded %s (%s) to %s", job.Target, utils.FormatBytes(uint64(stats.Bytes)), dest.label))
	return nil
}
