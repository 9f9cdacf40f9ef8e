package graph

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/clintrovert/ticketsync/pkg/types"
)

const ticketExtension = ".json"

// Drive reads ticket-request documents from a OneDrive folder and moves
// processed ones into an archive folder
type Drive struct {
	client      *Client
	folderPath  string
	archivePath string
	logger      *zap.Logger
}

// NewDrive creates a ticket source over folderPath
func NewDrive(client *Client, folderPath, archivePath string, logger *zap.Logger) *Drive {
	return &Drive{
		client:      client,
		folderPath:  folderPath,
		archivePath: archivePath,
		logger:      logger,
	}
}

// ListTicketFiles lists the JSON files waiting in the ticket folder
func (d *Drive) ListTicketFiles(ctx context.Context) ([]types.FileRef, error) {
	items, err := d.client.ListChildren(ctx, d.folderPath)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", d.folderPath, err)
	}

	files := make([]types.FileRef, 0, len(items))
	for _, item := range items {
		if item.Folder != nil || !strings.HasSuffix(strings.ToLower(item.Name), ticketExtension) {
			continue
		}
		files = append(files, types.FileRef{
			ID:           item.ID,
			Name:         item.Name,
			Size:         item.Size,
			LastModified: item.LastModifiedDateTime,
		})
	}

	d.logger.Debug("listed ticket files",
		zap.String("folder", d.folderPath),
		zap.Int("items", len(items)),
		zap.Int("tickets", len(files)),
	)

	return files, nil
}

// ReadFileContent returns the raw content of a ticket file
func (d *Drive) ReadFileContent(ctx context.Context, file types.FileRef) ([]byte, error) {
	data, err := d.client.DownloadItem(ctx, file.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", file.Name, err)
	}
	return data, nil
}

// DownloadBinary returns the content of an attachment by drive item id
func (d *Drive) DownloadBinary(ctx context.Context, itemID string) ([]byte, error) {
	data, err := d.client.DownloadItem(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to download item %s: %w", itemID, err)
	}
	return data, nil
}

// Archive moves a processed ticket file into the archive folder
func (d *Drive) Archive(ctx context.Context, file types.FileRef) error {
	if err := d.client.MoveItem(ctx, file.ID, d.archivePath); err != nil {
		return fmt.Errorf("failed to archive %s: %w", file.Name, err)
	}
	return nil
}
