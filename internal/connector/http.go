package connector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// HTTPPoll fetches a URL at a fixed interval and streams each response body.
// Transform, when set, rewrites every body before it is streamed.
type HTTPPoll struct {
	URL       string
	Interval  time.Duration
	Client    *http.Client
	Transform func([]byte) ([]byte, error)
	Logger    *zap.Logger
}

// maximum body size accepted from one fetch
const maxHTTPBody = 16 << 20

// Dial performs the first fetch and starts polling. A failing first fetch
// is reported as a connect failure.
func (h *HTTPPoll) Dial(ctx context.Context) (io.ReadCloser, error) {
	body, err := h.fetch(ctx)
	if err != nil {
		return nil, err
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	pr, pw := io.Pipe()
	s := &pollStream{PipeReader: pr, cancel: cancel}

	go h.poll(pollCtx, pw, body)
	return s, nil
}

func (h *HTTPPoll) poll(ctx context.Context, pw *io.PipeWriter, first []byte) {
	body := first
	for {
		if _, err := pw.Write(body); err != nil {
			pw.CloseWithError(err)
			return
		}

		select {
		case <-ctx.Done():
			pw.CloseWithError(ctx.Err())
			return
		case <-time.After(h.interval()):
		}

		var err error
		body, err = h.fetch(ctx)
		if err != nil {
			h.logger().Debug("fetch failed", zap.String("url", h.URL), zap.Error(err))
			pw.CloseWithError(err)
			return
		}
	}
}

func (h *HTTPPoll) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("http poll %s: %w", h.URL, err)
	}

	resp, err := h.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("http poll %s: %w", h.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("http poll %s: status %s", h.URL, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPBody))
	if err != nil {
		return nil, fmt.Errorf("http poll %s: %w", h.URL, err)
	}
	h.logger().Debug("fetched", zap.String("url", h.URL), zap.String("size", humanize.Bytes(uint64(len(body)))))

	if h.Transform != nil {
		return h.Transform(body)
	}
	return body, nil
}

func (h *HTTPPoll) client() *http.Client {
	if h.Client != nil {
		return h.Client
	}
	return http.DefaultClient
}

func (h *HTTPPoll) interval() time.Duration {
	if h.Interval <= 0 {
		return time.Second
	}
	return h.Interval
}

func (h *HTTPPoll) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

func (h *HTTPPoll) String() string {
	return h.URL
}

// pollStream stops the poller when the stream is closed
type pollStream struct {
	*io.PipeReader
	cancel context.CancelFunc
}

func (s *pollStream) Close() error {
	s.cancel()
	return s.PipeReader.Close()
}
