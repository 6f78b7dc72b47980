// Package rangehttp downloads a resource as a sequence of fixed-size byte
// ranges over plain HTTP/1.1, one short-lived connection per request.
//
// Each chunk is a single GET carrying "Range: bytes=<start>-<end>" and
// "Connection: close". The response is parsed incrementally as fragments
// arrive: the status code is taken from the status line, header bytes are
// dropped up to the blank line, and everything after it is body. A 416
// answer means the window starts past the end of the resource and ends the
// download successfully.
//
// # Retries
//
// Connection failures, empty responses, stalled streams and malformed
// status lines are transient. The same window is requested again after
// Config.Backoff, up to Config.MaxAttempts extra attempts per chunk; the
// counter resets whenever a chunk succeeds.
//
// # Delivery
//
// With DeliverStaged (the default) a chunk's body is held until the chunk
// succeeds and then handed to the sink in one call, so a retried chunk can
// never write duplicate bytes. DeliverStream forwards bytes as they arrive.
//
// # Waiting
//
// Every wait (first byte, next fragment, backoff) is a poll loop that calls
// the yield hook once per iteration. The default hook sleeps
// Config.PollInterval.
//
//	d := rangehttp.New(rangehttp.DefaultConfig())
//	var resp rangehttp.DownloadResponse
//	stats, err := d.DownloadToFile(ctx, rangehttp.DownloadRequest{
//	    Host: "example.com",
//	    Path: "/firmware.bin",
//	}, &resp, "firmware.bin")
package rangehttp
