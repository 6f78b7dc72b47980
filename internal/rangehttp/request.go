package rangehttp

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/tanq16/rangepull/internal/transport"
)

type BuildOptions struct {
	// LegacyRangeEnd writes start+size as the range end instead of the
	// inclusive start+size-1.
	LegacyRangeEnd bool
	// BareNameOnly writes name-only headers as the bare name with no colon
	// and no line terminator.
	BareNameOnly bool
	// UpperHost spells the Host header name HOST, as legacy firmware clients
	// send it.
	UpperHost bool
}

// RangeValue renders the Range header value for a window.
func RangeValue(win ChunkWindow, legacyEnd bool) string {
	end := win.Start + win.Size
	if !legacyEnd {
		end--
	}
	return "bytes=" + strconv.FormatInt(win.Start, 10) + "-" + strconv.FormatInt(end, 10)
}

// BuildRequest returns the exact request bytes for one chunk window.
func BuildRequest(req DownloadRequest, win ChunkWindow, opts BuildOptions) []byte {
	var b bytes.Buffer
	b.WriteString("GET ")
	b.WriteString(req.Path)
	b.WriteString(" HTTP/1.1\r\n")
	writeHeader(&b, "Connection", "close")
	writeHeader(&b, "Range", RangeValue(win, opts.LegacyRangeEnd))
	if req.byName() {
		hostName := "Host"
		if opts.UpperHost {
			hostName = "HOST"
		}
		writeHeader(&b, hostName, req.Host)
	}
	for _, h := range req.Headers {
		switch {
		case !h.NoValue:
			writeHeader(&b, h.Name, h.Value)
		case opts.BareNameOnly:
			b.WriteString(h.Name)
		default:
			b.WriteString(h.Name)
			b.WriteString(":\r\n")
		}
	}
	b.WriteString("\r\n")
	return b.Bytes()
}

func writeHeader(b *bytes.Buffer, name, value string) {
	b.WriteString(name)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteString("\r\n")
}

// sendRequest writes the request for win in a single write.
func sendRequest(t transport.Transport, req DownloadRequest, win ChunkWindow, opts BuildOptions, logger zerolog.Logger) error {
	raw := BuildRequest(req, win, opts)
	logger.Debug().Str("op", "rangehttp/request").Msgf("Request for %s:\n%s", RangeValue(win, opts.LegacyRangeEnd), raw)
	n, err := t.Write(raw)
	if err != nil {
		return fmt.Errorf("error writing request: %w", err)
	}
	if n != len(raw) {
		return fmt.Errorf("short request write: %d of %d bytes", n, len(raw))
	}
	return nil
}
