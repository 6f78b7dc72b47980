package scheduler

import (
	"context"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/rangepull/internal/rangehttp"
	"github.com/tanq16/rangepull/internal/sink"
	"github.com/tanq16/rangepull/internal/utils"
)

// destination is where one job's body ends up.
type destination struct {
	sink  sink.Sink
	label string
	close func() error
	abort func(cause error)
}

func openDestination(ctx context.Context, job utils.Job, req rangehttp.DownloadRequest) (*destination, error) {
	switch {
	case job.S3URL != "":
		bucket, key, err := sink.ParseS3URL(job.S3URL)
		if err != nil {
			return nil, err
		}
		s, err := sink.NewS3(ctx, job.S3Profile, bucket, key)
		if err != nil {
			return nil, err
		}
		return &destination{sink: s, label: job.S3URL, close: s.Close, abort: s.Abort}, nil

	case job.BlobURL != "":
		key := job.BlobKey
		if key == "" {
			key = utils.DefaultOutputName(req.Path)
		}
		b, err := sink.OpenBlob(ctx, job.BlobURL, key)
		if err != nil {
			return nil, err
		}
		return &destination{sink: b, label: job.BlobURL + " " + key, close: b.Close, abort: func(error) { b.Abort() }}, nil
	}

	path := job.OutputPath
	if path == "" {
		path = utils.DefaultOutputName(req.Path)
	}
	if job.Compress != sink.CompressNone && filepath.Ext(path) != sink.Extension(job.Compress) {
		path += sink.Extension(job.Compress)
	}
	path, err := utils.PrepareOutputPath(path, job.Overwrite)
	if err != nil {
		return nil, err
	}
	keepPartial := func(cause error) {
		log.Warn().Str("op", "scheduler/destination").Err(cause).Msgf("Download incomplete, partial output left at %s", path)
	}

	if job.Compress != sink.CompressNone {
		c, err := sink.CreateCompressed(path, job.Compress)
		if err != nil {
			return nil, err
		}
		return &destination{sink: c, label: path, close: c.Close, abort: func(cause error) {
			c.Close()
			keepPartial(cause)
		}}, nil
	}
	f, err := sink.CreateFile(path)
	if err != nil {
		return nil, err
	}
	return &destination{sink: f, label: path, close: f.Close, abort: func(cause error) {
		f.Close()
		keepPartial(cause)
	}}, nil
}
