package bandwidth

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/abduliffort/web-tester-iffort-sub000/internal/config"
	"github.com/abduliffort/web-tester-iffort-sub000/internal/httpclient"
)

const downloadChunkSize = 64 << 10

// Downloader streams a server resource and reports every read chunk. It is
// safe for concurrent use by several threads.
type Downloader struct {
	client  *http.Client
	builder *httpclient.RequestBuilder
	url     string
}

// NewDownloader returns a downloader for target. builder may be nil.
func NewDownloader(client *http.Client, builder *httpclient.RequestBuilder, target string) *Downloader {
	return &Downloader{client: client, builder: builder, url: target}
}

// Transfer performs one GET and reads the body to the end.
func (d *Downloader) Transfer(ctx context.Context, onData func(int)) error {
	req, err := d.builder.Build(ctx, http.MethodGet, d.url, nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	if err := httpclient.CheckResponse(resp); err != nil {
		return err
	}
	defer resp.Body.Close()

	buf := make([]byte, downloadChunkSize)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			onData(n)
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Uploader posts a fixed-size random payload. A request counts once it has
// completed.
type Uploader struct {
	client  *http.Client
	builder *httpclient.RequestBuilder
	url     string
	body    httpclient.BodySource
	size    int
}

// NewUploader returns an uploader sending size random bytes per request.
func NewUploader(client *http.Client, builder *httpclient.RequestBuilder, target string, size int64) *Uploader {
	return &Uploader{
		client:  client,
		builder: builder,
		url:     target,
		body:    httpclient.RandomBody(size),
		size:    int(size),
	}
}

// Transfer performs one POST.
func (u *Uploader) Transfer(ctx context.Context, onData func(int)) error {
	req, err := u.builder.Build(ctx, http.MethodPost, u.url, u.body)
	if err != nil {
		return err
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return err
	}
	if err := httpclient.CheckResponse(resp); err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	onData(u.size)
	return nil
}

// NewTransferer returns the HTTP transferer for a download or upload action.
// Without a resource, downloads use /download?size=<file_size> and uploads
// use /upload on the server.
func NewTransferer(kind config.ActionType, server config.Server, m config.MeasurementConfig, client *http.Client, builder *httpclient.RequestBuilder) (Transferer, error) {
	switch kind {
	case config.ActionDownload:
		target := m.Resource
		if target == "" {
			target = "download?size=" + strconv.FormatInt(m.FileSize, 10)
		}
		return NewDownloader(client, builder, server.Resolve(target)), nil
	case config.ActionUpload:
		target := m.Resource
		if target == "" {
			target = "upload"
		}
		return NewUploader(client, builder, server.Resolve(target), m.FileSize), nil
	default:
		return nil, errors.New("bandwidth: unsupported action " + string(kind))
	}
}

// TransferFunc adapts a function to Transferer.
type TransferFunc func(ctx context.Context, onData func(int)) error

func (f TransferFunc) Transfer(ctx context.Context, onData func(int)) error {
	return f(ctx, onData)
}
