package feed

import (
	"context"
	"fmt"
	"time"

	"MarketPulse/internal/domain/models"
	xhttp "MarketPulse/pkg/http"
)

// HTTPSnapshotFetcher pulls the snapshot endpoint over HTTP.
type HTTPSnapshotFetcher struct {
	url    string
	client *xhttp.Client
}

func NewHTTPSnapshotFetcher(url string, timeout time.Duration) *HTTPSnapshotFetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSnapshotFetcher{url: url, client: xhttp.NewClient(xhttp.WithTimeout(timeout))}
}

func (f *HTTPSnapshotFetcher) FetchSnapshot(ctx context.Context) ([]models.QuoteUpdate, error) {
	var body []byte
	err := f.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodGet,
		URL:     f.url,
		Headers: map[string]string{"Accept": "application/json"},
	}, &body)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", f.url, err)
	}
	return models.ParseSnapshot(body)
}

var _ SnapshotFetcher = (*HTTPSnapshotFetcher)(nil)
