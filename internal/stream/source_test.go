package stream

import (
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/wildwatch/internal/errors"
	"github.com/tphakala/wildwatch/internal/httpclient"
)

func TestHTTPSourceSnapshots(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = fmt.Fprintf(w, "frame-%d", n)
	}))
	defer srv.Close()

	client := httpclient.New(&httpclient.Config{Timeout: time.Second})
	defer client.Close()
	src := NewHTTPSource(client, srv.URL)
	defer func() { _ = src.Close() }()

	ctx := context.Background()
	f1, err := src.Next(ctx)
	require.NoError(t, err)
	f2, err := src.Next(ctx)
	require.NoError(t, err)

	assert.Equal(t, "frame-1", string(f1.Data))
	assert.Equal(t, "frame-2", string(f2.Data))
	assert.Equal(t, uint64(2), f2.Seq)
	assert.Equal(t, "image/jpeg", f1.ContentType)
}

func TestHTTPSourceMJPEG(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mw := multipart.NewWriter(w)
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mw.Boundary())
		for i := 1; i <= 3; i++ {
			part, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"image/jpeg"}})
			if err != nil {
				return
			}
			_, _ = fmt.Fprintf(part, "jpeg-%d", i)
			w.(http.Flusher).Flush()
		}
		_ = mw.Close()
	}))
	defer srv.Close()

	client := httpclient.New(nil)
	defer client.Close()
	src := NewHTTPSource(client, srv.URL)
	defer func() { _ = src.Close() }()

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		f, err := src.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("jpeg-%d", i), string(f.Data))
		assert.Equal(t, "image/jpeg", f.ContentType)
	}

	// end of stream drops the connection; the next call reconnects
	_, err := src.Next(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryStream))

	f, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-1", string(f.Data))
}

func TestHTTPSourceErrors(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/empty" {
			return
		}
		http.Error(w, "camera offline", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := httpclient.New(nil)
	defer client.Close()

	for _, path := range []string{"/down", "/empty"} {
		src := NewHTTPSource(client, srv.URL+path)
		_, err := src.Next(context.Background())
		require.Error(t, err, path)
		assert.True(t, errors.IsCategory(err, errors.CategoryStream))
		require.NoError(t, src.Close())
	}
}
