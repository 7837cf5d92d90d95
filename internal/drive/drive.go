// Package drive is the source file store boundary: listing newly
// created files in a folder and fetching their bytes.
package drive

import (
	"context"
	"fmt"
	"io"
	"time"

	gdrive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// File describes one item in the source store.
type File struct {
	ID          string
	Name        string
	MimeType    string
	CreatedTime time.Time
}

// Store is the read-only view the watcher and extractor need.
type Store interface {
	// ListCreatedSince returns files in folderID created strictly
	// after since, ordered by creation time.
	ListCreatedSince(ctx context.Context, folderID string, since time.Time) ([]File, error)

	// Download fetches the raw bytes of a file.
	Download(ctx context.Context, fileID string) ([]byte, error)
}

// Client implements Store against the Google Drive API.
type Client struct {
	svc *gdrive.Service
}

// NewClient builds a Drive client using Application Default Credentials.
func NewClient(ctx context.Context) (*Client, error) {
	svc, err := gdrive.NewService(ctx, option.WithScopes(gdrive.DriveReadonlyScope))
	if err != nil {
		return nil, fmt.Errorf("drive: create service: %w", err)
	}
	return &Client{svc: svc}, nil
}

// ListCreatedSince implements Store.
func (c *Client) ListCreatedSince(ctx context.Context, folderID string, since time.Time) ([]File, error) {
	query := fmt.Sprintf("'%s' in parents and trashed = false and createdTime > '%s'",
		folderID, since.UTC().Format(time.RFC3339))

	var files []File
	pageToken := ""
	for {
		call := c.svc.Files.List().
			Context(ctx).
			Q(query).
			OrderBy("createdTime").
			PageSize(200).
			Fields("files(id,name,mimeType,createdTime),nextPageToken").
			SupportsAllDrives(true).
			IncludeItemsFromAllDrives(true)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		res, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("drive: list folder %s: %w", folderID, err)
		}

		for _, f := range res.Files {
			created, err := time.Parse(time.RFC3339, f.CreatedTime)
			if err != nil {
				return nil, fmt.Errorf("drive: file %s has invalid createdTime %q: %w", f.Id, f.CreatedTime, err)
			}
			files = append(files, File{
				ID:          f.Id,
				Name:        f.Name,
				MimeType:    f.MimeType,
				CreatedTime: created,
			})
		}

		pageToken = res.NextPageToken
		if pageToken == "" {
			break
		}
	}
	return files, nil
}

// Download implements Store.
func (c *Client) Download(ctx context.Context, fileID string) ([]byte, error) {
	res, err := c.svc.Files.Get(fileID).Context(ctx).SupportsAllDrives(true).Download()
	if err != nil {
		return nil, fmt.Errorf("drive: download %s: %w", fileID, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("drive: read %s: %w", fileID, err)
	}
	return data, nil
}

var _ Store = (*Client)(nil)
