// Package network sends streamed upload bodies over HTTP and to S3, reporting progress per chunk.
package network

import "context"

// Uploader ...
type Uploader interface {
	Upload(context.Context, UploadParams) (UploadResult, error)
}

var _ Uploader = (*Sender)(nil)
