package stream

import (
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/tphakala/wildwatch/internal/errors"
	"github.com/tphakala/wildwatch/internal/httpclient"
)

const (
	// MaxFrameBytes bounds a single decoded frame
	MaxFrameBytes = 8 << 20

	// DefaultSessionLength is how long one MJPEG connection is kept before
	// it is re-established
	DefaultSessionLength = 5 * time.Minute
)

// Frame is one still image taken from a stream
type Frame struct {
	Seq         uint64
	Data        []byte
	ContentType string
	At          time.Time
}

// FrameSource yields frames until closed. Implementations are used from a
// single worker goroutine.
type FrameSource interface {
	Next(ctx context.Context) (Frame, error)
	Close() error
}

// HTTPSource reads frames from an HTTP camera endpoint. A
// multipart/x-mixed-replace (MJPEG) response is consumed part by part over
// one connection; any other response is treated as a single snapshot and
// the URL is polled again on the next call.
type HTTPSource struct {
	client  *httpclient.Client
	url     string
	session time.Duration

	seq    uint64
	resp   *http.Response
	parts  *multipart.Reader
	cancel context.CancelFunc
}

// NewHTTPSource returns a source reading url through client
func NewHTTPSource(client *httpclient.Client, url string) *HTTPSource {
	return &HTTPSource{client: client, url: url, session: DefaultSessionLength}
}

// Next returns the next frame
func (s *HTTPSource) Next(ctx context.Context) (Frame, error) {
	if s.parts == nil {
		data, contentType, err := s.open(ctx)
		if err != nil {
			return Frame{}, err
		}
		if s.parts == nil {
			return s.frame(data, contentType), nil
		}
	}

	part, err := s.parts.NextPart()
	if err != nil {
		s.reset()
		return Frame{}, s.wrap(err, "read-part")
	}
	defer func() { _ = part.Close() }()

	data, err := readFrame(part)
	if err != nil {
		s.reset()
		return Frame{}, s.wrap(err, "read-part")
	}
	return s.frame(data, part.Header.Get("Content-Type")), nil
}

// open issues the request. It returns the body of a snapshot response, or
// leaves s.parts set for a multipart stream.
func (s *HTTPSource) open(ctx context.Context) ([]byte, string, error) {
	// A deadline on the session context keeps the client from applying its
	// short default to a long-lived stream.
	sessionCtx, cancelSession := context.WithTimeout(ctx, s.session)

	resp, cancelReq, err := s.client.Get(sessionCtx, s.url)
	if err != nil {
		cancelSession()
		return nil, "", s.wrap(err, "connect")
	}
	cancel := func() {
		cancelReq()
		cancelSession()
	}

	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		cancel()
		return nil, "", s.wrap(fmt.Errorf("unexpected status %d", resp.StatusCode), "connect")
	}

	contentType := resp.Header.Get("Content-Type")
	mediaType, params, perr := mime.ParseMediaType(contentType)
	if perr == nil && strings.HasPrefix(mediaType, "multipart/") && params["boundary"] != "" {
		s.resp = resp
		s.cancel = cancel
		s.parts = multipart.NewReader(resp.Body, params["boundary"])
		return nil, "", nil
	}

	defer cancel()
	defer func() { _ = resp.Body.Close() }()
	data, err := readFrame(resp.Body)
	if err != nil {
		return nil, "", s.wrap(err, "read-snapshot")
	}
	return data, contentType, nil
}

func readFrame(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxFrameBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxFrameBytes {
		return nil, fmt.Errorf("frame exceeds %d bytes", MaxFrameBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty frame")
	}
	return data, nil
}

func (s *HTTPSource) frame(data []byte, contentType string) Frame {
	s.seq++
	return Frame{Seq: s.seq, Data: data, ContentType: contentType, At: time.Now()}
}

func (s *HTTPSource) wrap(err error, op string) error {
	return errors.New(err).
		Component("stream").
		Category(errors.CategoryStream).
		Context("operation", op).
		Context("url", s.url).
		Build()
}

// reset drops the current multipart connection
func (s *HTTPSource) reset() {
	if s.resp != nil {
		_ = s.resp.Body.Close()
		s.resp = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.parts = nil
}

// Close releases the underlying connection
func (s *HTTPSource) Close() error {
	s.reset()
	return nil
}
