package sheet

import (
	"context"
	"errors"
	"fmt"

	"github.com/clintrovert/ticketsync/internal/graph"
)

const contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var (
	// ErrNotFound means the workbook does not exist yet
	ErrNotFound = errors.New("workbook not found")
	// ErrLocked means another writer holds the workbook
	ErrLocked = errors.New("workbook is locked")
)

// Document is a downloaded workbook
type Document struct {
	ItemID  string
	Content []byte
}

// Store reads and writes the whole workbook document
type Store interface {
	// Fetch returns the current workbook, or ErrNotFound.
	Fetch(ctx context.Context) (*Document, error)
	Create(ctx context.Context, content []byte) error
	Replace(ctx context.Context, itemID string, content []byte) error
}

// GraphStore keeps the workbook at a fixed path in OneDrive
type GraphStore struct {
	client *graph.Client
	path   string
}

// NewGraphStore creates a store for the workbook at path
func NewGraphStore(client *graph.Client, path string) *GraphStore {
	return &GraphStore{client: client, path: path}
}

// Fetch stats and downloads the workbook
func (s *GraphStore) Fetch(ctx context.Context) (*Document, error) {
	item, err := s.client.GetItemByPath(ctx, s.path)
	if err != nil {
		return nil, translate(err)
	}

	content, err := s.client.DownloadItem(ctx, item.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to download workbook: %w", translate(err))
	}
	return &Document{ItemID: item.ID, Content: content}, nil
}

// Create uploads a new workbook at the configured path
func (s *GraphStore) Create(ctx context.Context, content []byte) error {
	if err := s.client.UploadByPath(ctx, s.path, content, contentType); err != nil {
		return translate(err)
	}
	return nil
}

// Replace overwrites the existing workbook
func (s *GraphStore) Replace(ctx context.Context, itemID string, content []byte) error {
	if err := s.client.ReplaceItemContent(ctx, itemID, content, contentType); err != nil {
		return translate(err)
	}
	return nil
}

func translate(err error) error {
	switch {
	case graph.IsNotFound(err):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case graph.IsLocked(err):
		return fmt.Errorf("%w: %w", ErrLocked, err)
	default:
		return err
	}
}
