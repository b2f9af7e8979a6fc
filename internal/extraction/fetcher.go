package extraction

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/openclaw/wa-session-broker/internal/model"
)

var (
	ErrNoMedia       = errors.New("message has no media payload")
	ErrMediaTooLarge = errors.New("media exceeds size limit")
)

// HTTPFetcher resolves media from the inline base64 payload the driver
// attached, or from the download URL it reported.
type HTTPFetcher struct {
	client   *http.Client
	maxBytes int64
}

func NewHTTPFetcher(client *http.Client, maxBytes int64) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{client: client, maxBytes: maxBytes}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, msg model.RawMessage) ([]byte, string, error) {
	if msg.MediaError != "" {
		return nil, "", fmt.Errorf("driver: %s", msg.MediaError)
	}
	if msg.Media == nil {
		return nil, "", ErrNoMedia
	}

	if msg.Media.Data != "" {
		if int64(base64.StdEncoding.DecodedLen(len(msg.Media.Data))) > f.maxBytes+2 {
			return nil, "", ErrMediaTooLarge
		}
		data, err := base64.StdEncoding.DecodeString(msg.Media.Data)
		if err != nil {
			return nil, "", fmt.Errorf("decode inline media: %w", err)
		}
		if int64(len(data)) > f.maxBytes {
			return nil, "", ErrMediaTooLarge
		}
		return data, msg.Media.MimeType, nil
	}

	if msg.Media.URL == "" {
		return nil, "", ErrNoMedia
	}
	return f.download(ctx, msg.Media.URL, msg.Media.MimeType)
}

func (f *HTTPFetcher) download(ctx context.Context, url, mimeType string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build media request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("fetch media: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read media: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, "", ErrMediaTooLarge
	}

	if mimeType == "" {
		mimeType, _, _ = strings.Cut(resp.Header.Get("Content-Type"), ";")
		mimeType = strings.TrimSpace(mimeType)
	}
	return data, mimeType, nil
}
