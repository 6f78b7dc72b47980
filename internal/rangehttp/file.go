package rangehttp

import (
	"context"

	"github.com/tanq16/rangepull/internal/sink"
)

// DownloadToFile downloads into path. The file is created before the first
// request and closed once the loop exits, whatever the outcome.
func (d *Downloader) DownloadToFile(ctx context.Context, req DownloadRequest, resp *DownloadResponse, path string) (Stats, error) {
	out, err := sink.CreateFile(path)
	if err != nil {
		return Stats{}, err
	}
	defer out.Close()
	return d.Download(ctx, req, resp, out)
}
