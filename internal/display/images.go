package display

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"inapp-messaging/internal/remote"
)

// FetchReason classifies an image fetch failure.
type FetchReason int

const (
	FetchNetwork FetchReason = iota
	FetchStatus
	FetchDecode
	FetchCancelled
)

func (r FetchReason) String() string {
	switch r {
	case FetchNetwork:
		return "network"
	case FetchStatus:
		return "status"
	case FetchDecode:
		return "decode"
	case FetchCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("FetchReason(%d)", int(r))
}

// FetchError is the typed failure of ImageLoader.Load.
type FetchError struct {
	URL    string
	Reason FetchReason
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch image %s: %s: %v", e.URL, e.Reason, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Image is a fetched campaign image.
type Image struct {
	URL         string
	Data        []byte
	ContentType string
}

// ImageLoader fetches campaign images. Failures are *FetchError.
type ImageLoader interface {
	Load(ctx context.Context, url string) (*Image, error)
}

// FetchFunc downloads url, returning the body and its content type.
type FetchFunc func(ctx context.Context, url string) ([]byte, string, error)

type fetchLoader struct{ fetch FetchFunc }

// NewImageLoader wraps fetch, classifying its failures and rejecting bodies
// that are not images.
func NewImageLoader(fetch FetchFunc) ImageLoader { return fetchLoader{fetch: fetch} }

func (l fetchLoader) Load(ctx context.Context, url string) (*Image, error) {
	body, contentType, err := l.fetch(ctx, url)
	if err != nil {
		fe := &FetchError{URL: url, Reason: FetchNetwork, Err: err}
		switch {
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil:
			fe.Reason = FetchCancelled
		case remote.StatusCode(err) != 0:
			fe.Reason = FetchStatus
			fe.Status = remote.StatusCode(err)
		}
		return nil, fe
	}
	if len(body) == 0 {
		return nil, &FetchError{URL: url, Reason: FetchDecode, Err: errors.New("empty body")}
	}
	if contentType != "" && !strings.HasPrefix(contentType, "image/") {
		return nil, &FetchError{URL: url, Reason: FetchDecode, Err: fmt.Errorf("content type %q", contentType)}
	}
	return &Image{URL: url, Data: body, ContentType: contentType}, nil
}
