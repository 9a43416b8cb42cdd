/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package webchannel

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
)

func newBytesReader(b []byte) io.Reader { return bytes.NewReader(b) }

// DownloadData performs a GET against relURL and returns the raw
// response body (spec.md 4.9's download_data).
func (c *Channel) DownloadData(ctx context.Context, relURL string, opts RequestOptions) ([]byte, error) {
	return c.Execute(ctx, http.MethodGet, relURL, nil, opts)
}

// DownloadString is DownloadData decoded as UTF-8 text.
func (c *Channel) DownloadString(ctx context.Context, relURL string, opts RequestOptions) (string, error) {
	b, err := c.DownloadData(ctx, relURL, opts)
	return string(b), err
}

// DownloadFile performs a GET against relURL and writes the response
// body to localPath.
func (c *Channel) DownloadFile(ctx context.Context, relURL, localPath string, opts RequestOptions) error {
	b, err := c.DownloadData(ctx, relURL, opts)
	if err != nil {
		return err
	}
	return os.WriteFile(localPath, b, 0o600)
}

// UploadData performs a PUT of data against relURL (spec.md 4.9's
// upload_data).
func (c *Channel) UploadData(ctx context.Context, relURL string, data []byte, opts RequestOptions) ([]byte, error) {
	return c.Execute(ctx, http.MethodPut, relURL, bytes.NewReader(data), opts)
}

// UploadString is UploadData over a UTF-8 string.
func (c *Channel) UploadString(ctx context.Context, relURL, data string, opts RequestOptions) ([]byte, error) {
	return c.UploadData(ctx, relURL, []byte(data), opts)
}

// UploadFile reads localPath and PUTs its contents to relURL.
func (c *Channel) UploadFile(ctx context.Context, relURL, localPath string, opts RequestOptions) ([]byte, error) {
	b, err := os.ReadFile(localPath)
	if err != nil {
		return nil, err
	}
	return c.UploadData(ctx, relURL, b, opts)
}

// Post performs a POST of data against relURL, used by the upload
// engine for segmented transfers.
func (c *Channel) Post(ctx context.Context, relURL string, data []byte, opts RequestOptions) ([]byte, error) {
	return c.Execute(ctx, http.MethodPost, relURL, bytes.NewReader(data), opts)
}

// Delete issues a DELETE against relURL, used by the upload engine to
// discard server-side partial state after a 400 mid-stream.
func (c *Channel) Delete(ctx context.Context, relURL string, opts RequestOptions) ([]byte, error) {
	return c.Execute(ctx, http.MethodDelete, relURL, nil, opts)
}
