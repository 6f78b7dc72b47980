package rangehttp

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"

	"github.com/tanq16/rangepull/internal/utils"
)

// ParseTarget reads "host[:port]/path" with an optional http:// prefix. A
// literal IP address becomes Addr, so the request goes out without a Host
// header.
func ParseTarget(raw string) (DownloadRequest, error) {
	rest := strings.TrimSpace(raw)
	if scheme, after, ok := strings.Cut(rest, "://"); ok {
		if !strings.EqualFold(scheme, "http") {
			return DownloadRequest{}, fmt.Errorf("unsupported scheme %q in %s: only plain http is supported", scheme, raw)
		}
		rest = after
	}

	hostport, path := rest, "/"
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		hostport, path = rest[:i], rest[i:]
	}
	if hostport == "" {
		return DownloadRequest{}, fmt.Errorf("missing host in %q", raw)
	}

	req := DownloadRequest{Host: strings.Trim(hostport, "[]"), Path: path}
	if h, p, err := net.SplitHostPort(hostport); err == nil {
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return DownloadRequest{}, fmt.Errorf("invalid port %q in %s", p, raw)
		}
		req.Host, req.Port = h, port
	}
	if addr, err := netip.ParseAddr(req.Host); err == nil {
		req.Addr = addr
	}
	return req, nil
}

// ParseHeaders turns "Name: value" arguments into request headers,
// keeping their order. Arguments without a value become name-only headers.
func ParseHeaders(args []string) []Header {
	headers := make([]Header, 0, len(args))
	for _, arg := range args {
		name, value, hasValue := utils.SplitHeaderArg(arg)
		if name == "" {
			continue
		}
		if hasValue {
			headers = append(headers, StringHeader(name, value))
		} else {
			headers = append(headers, NameOnlyHeader(name))
		}
	}
	return headers
}
