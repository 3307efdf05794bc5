package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"strconv"
	"strings"
)

// HTTP is a ByteSource backed by HTTP range requests.
type HTTP struct {
	ctx    context.Context
	url    string
	client *nethttp.Client
	size   int64
}

// NewHTTP probes url with a HEAD request to learn the content size and
// returns a source that reads through range requests. A nil client means
// http.DefaultClient.
func NewHTTP(ctx context.Context, url string, client *nethttp.Client) (*HTTP, error) {
	if client == nil {
		client = nethttp.DefaultClient
	}
	s := &HTTP{ctx: ctx, url: url, client: client}

	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodHead, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()
	if resp.StatusCode != nethttp.StatusOK {
		return nil, fmt.Errorf("head %s: %s", url, resp.Status)
	}
	if resp.ContentLength < 0 {
		return nil, fmt.Errorf("head %s: unknown content length", url)
	}
	s.size = resp.ContentLength
	return s, nil
}

// Size returns the total size of the remote content.
func (s *HTTP) Size() int64 { return s.size }

// ReadAt reads data from the remote at the given offset using a range request.
func (s *HTTP) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 {
		return 0, fmt.Errorf("read at %d: negative offset", off)
	}
	if off >= s.size {
		return 0, io.EOF
	}

	end := off + int64(len(p)) - 1
	expected := len(p)
	if end >= s.size {
		end = s.size - 1
		expected = int(end - off + 1)
	}

	req, err := nethttp.NewRequestWithContext(s.ctx, nethttp.MethodGet, s.url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, end))

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case nethttp.StatusPartialContent:
		if err := checkContentRange(resp.Header.Get("Content-Range"), off, end); err != nil {
			return 0, err
		}
	case nethttp.StatusRequestedRangeNotSatisfiable:
		return 0, io.EOF
	case nethttp.StatusOK:
		return 0, errors.New("range requests not supported")
	default:
		return 0, fmt.Errorf("range request failed: %s", resp.Status)
	}

	n, err := io.ReadFull(resp.Body, p[:expected])
	if err != nil {
		return n, err
	}
	if expected < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// checkContentRange verifies that a "bytes start-end/size" header describes
// exactly the requested range.
func checkContentRange(value string, start, end int64) error {
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(value, "bytes ") {
		return fmt.Errorf("invalid Content-Range %q", value)
	}
	parts := strings.SplitN(strings.TrimPrefix(value, "bytes "), "/", 2)
	if len(parts) != 2 {
		return fmt.Errorf("invalid Content-Range %q", value)
	}
	bounds := strings.SplitN(parts[0], "-", 2)
	if len(bounds) != 2 {
		return fmt.Errorf("invalid Content-Range %q", value)
	}
	gotStart, err := strconv.ParseInt(bounds[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid Content-Range %q", value)
	}
	gotEnd, err := strconv.ParseInt(bounds[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid Content-Range %q", value)
	}
	if gotStart != start || gotEnd != end {
		return fmt.Errorf("content range %q does not match requested bytes %d-%d", value, start, end)
	}
	return nil
}
