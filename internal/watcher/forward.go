package watcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dvloznov/receipt-pipeline/internal/drive"
	"github.com/dvloznov/receipt-pipeline/internal/retry"
)

// Forwarder hands one candidate file to the intake gate. Forwarding is
// at-least-once: callers only mark a file as seen after Forward
// returns nil.
type Forwarder interface {
	Forward(ctx context.Context, folderID string, f drive.File) error
}

// errRejected marks a response the intake gate will never accept on
// retry (auth failure, malformed payload).
var errRejected = errors.New("intake rejected request")

// HTTPForwarder posts candidate descriptors to the intake gate with
// bounded retries. The gate sits outside the bus's redelivery
// guarantees, so retries are explicit here.
type HTTPForwarder struct {
	url    string
	apiKey string
	client *http.Client
	policy retry.Policy
}

// NewHTTPForwarder builds a forwarder for the given intake endpoint.
func NewHTTPForwarder(url, apiKey string) *HTTPForwarder {
	policy := retry.Default()
	policy.Retryable = func(err error) bool { return !errors.Is(err, errRejected) }
	return &HTTPForwarder{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: 15 * time.Second},
		policy: policy,
	}
}

// Forward implements Forwarder.
func (f *HTTPForwarder) Forward(ctx context.Context, folderID string, file drive.File) error {
	payload, err := json.Marshal(map[string]string{
		"fileId":      file.ID,
		"name":        file.Name,
		"mimeType":    file.MimeType,
		"createdTime": file.CreatedTime.UTC().Format(time.RFC3339),
		"folderId":    folderID,
	})
	if err != nil {
		return fmt.Errorf("forward %s: marshal: %w", file.ID, err)
	}

	return f.policy.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("forward %s: build request: %w", file.ID, err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-API-Key", f.apiKey)

		res, err := f.client.Do(req)
		if err != nil {
			return fmt.Errorf("forward %s: %w", file.ID, err)
		}
		defer res.Body.Close()

		switch {
		case res.StatusCode >= 200 && res.StatusCode < 300:
			return nil
		case res.StatusCode >= 400 && res.StatusCode < 500:
			return fmt.Errorf("forward %s: status %d: %w", file.ID, res.StatusCode, errRejected)
		default:
			return fmt.Errorf("forward %s: status %d", file.ID, res.StatusCode)
		}
	})
}

var _ Forwarder = (*HTTPForwarder)(nil)
