package graph

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/clintrovert/ticketsync/internal/metrics"
	"github.com/clintrovert/ticketsync/pkg/types"
)

const serviceName = "graph"

// Client wraps the Microsoft Graph drive and chat endpoints
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewClient creates a new Graph client. Requests are authorized with
// tokens from ts and paced by limiter when it is non-nil.
func NewClient(baseURL string, ts oauth2.TokenSource, limiter *rate.Limiter, timeout time.Duration, logger *zap.Logger) *Client {
	httpClient := oauth2.NewClient(context.Background(), ts)
	httpClient.Timeout = timeout

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		limiter:    limiter,
		logger:     logger,
	}
}

// DriveItem is the subset of a Graph driveItem we read
type DriveItem struct {
	ID                   string     `json:"id"`
	Name                 string     `json:"name"`
	Size                 int64      `json:"size"`
	LastModifiedDateTime time.Time  `json:"lastModifiedDateTime"`
	File                 *struct{}  `json:"file,omitempty"`
	Folder               *struct{}  `json:"folder,omitempty"`
	ParentReference      *ParentRef `json:"parentReference,omitempty"`
}

// ParentRef locates a drive item's parent folder
type ParentRef struct {
	Path string `json:"path"`
}

type driveItemPage struct {
	Value    []DriveItem `json:"value"`
	NextLink string      `json:"@odata.nextLink"`
}

type moveRequest struct {
	ParentReference ParentRef `json:"parentReference"`
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ListChildren lists the items of the folder at path, following paging links
func (c *Client) ListChildren(ctx context.Context, folderPath string) ([]DriveItem, error) {
	next := "/me/drive/root:" + escapePath(folderPath) + ":/children"

	var items []DriveItem
	for next != "" {
		data, err := c.do(ctx, http.MethodGet, next, nil, "")
		if err != nil {
			return nil, err
		}

		var page driveItemPage
		if err := json.Unmarshal(data, &page); err != nil {
			return nil, fmt.Errorf("failed to decode children of %s: %w", folderPath, err)
		}
		items = append(items, page.Value...)
		next = page.NextLink
	}

	return items, nil
}

// GetItemByPath fetches the metadata of the item at path
func (c *Client) GetItemByPath(ctx context.Context, itemPath string) (*DriveItem, error) {
	data, err := c.do(ctx, http.MethodGet, "/me/drive/root:"+escapePath(itemPath), nil, "")
	if err != nil {
		return nil, err
	}

	var item DriveItem
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("failed to decode item %s: %w", itemPath, err)
	}
	return &item, nil
}

// DownloadItem returns the content of a drive item
func (c *Client) DownloadItem(ctx context.Context, itemID string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, "/me/drive/items/"+url.PathEscape(itemID)+"/content", nil, "")
}

// ReplaceItemContent overwrites the content of an existing drive item
func (c *Client) ReplaceItemContent(ctx context.Context, itemID string, content []byte, contentType string) error {
	_, err := c.do(ctx, http.MethodPut, "/me/drive/items/"+url.PathEscape(itemID)+"/content", bytes.NewReader(content), contentType)
	return err
}

// UploadByPath creates (or overwrites) the file at path
func (c *Client) UploadByPath(ctx context.Context, itemPath string, content []byte, contentType string) error {
	_, err := c.do(ctx, http.MethodPut, "/me/drive/root:"+escapePath(itemPath)+":/content", bytes.NewReader(content), contentType)
	return err
}

// MoveItem relocates a drive item into the folder at destPath
func (c *Client) MoveItem(ctx context.Context, itemID, destPath string) error {
	body, err := json.Marshal(moveRequest{
		ParentReference: ParentRef{Path: "/drive/root:" + destPath},
	})
	if err != nil {
		return fmt.Errorf("failed to encode move request: %w", err)
	}

	_, err = c.do(ctx, http.MethodPatch, "/me/drive/items/"+url.PathEscape(itemID), bytes.NewReader(body), "application/json")
	return err
}

type chatMessage struct {
	ID   string `json:"id,omitempty"`
	Body struct {
		Content     string `json:"content"`
		ContentType string `json:"contentType"`
	} `json:"body"`
}

// PostChatMessage posts an HTML message into a chat and returns its id
func (c *Client) PostChatMessage(ctx context.Context, chatID, html string) (string, error) {
	var msg chatMessage
	msg.Body.Content = html
	msg.Body.ContentType = "html"

	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to encode chat message: %w", err)
	}

	data, err := c.do(ctx, http.MethodPost, "/chats/"+url.PathEscape(chatID)+"/messages", bytes.NewReader(body), "application/json")
	if err != nil {
		return "", err
	}

	var created chatMessage
	if err := json.Unmarshal(data, &created); err != nil {
		return "", fmt.Errorf("failed to decode chat message: %w", err)
	}
	return created.ID, nil
}

// do performs one request. path is relative to the base URL unless it is
// already absolute (paging links are).
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &types.RemoteIOError{Service: serviceName, Method: method, Path: path, Err: err}
		}
	}

	target := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		target = c.baseURL + path
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RemoteRequests.WithLabelValues(serviceName, "error").Inc()
		return nil, &types.RemoteIOError{Service: serviceName, Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	metrics.RemoteRequests.WithLabelValues(serviceName, statusClass(resp.StatusCode)).Inc()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &types.RemoteIOError{Service: serviceName, Method: method, Path: path, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		remoteErr := &types.RemoteIOError{
			Service:    serviceName,
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
		}
		var envelope errorEnvelope
		if json.Unmarshal(data, &envelope) == nil && envelope.Error.Code != "" {
			remoteErr.Code = envelope.Error.Code
			remoteErr.Message = envelope.Error.Message
		} else {
			remoteErr.Message = strings.TrimSpace(string(data))
		}

		c.logger.Debug("graph request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("code", remoteErr.Code),
		)
		return nil, remoteErr
	}

	return data, nil
}

// IsNotFound reports whether err is a Graph 404
func IsNotFound(err error) bool {
	var remoteErr *types.RemoteIOError
	return errors.As(err, &remoteErr) && remoteErr.StatusCode == http.StatusNotFound
}

// IsLocked reports whether err means the item is locked by another writer
func IsLocked(err error) bool {
	var remoteErr *types.RemoteIOError
	if !errors.As(err, &remoteErr) {
		return false
	}
	return remoteErr.StatusCode == http.StatusLocked || remoteErr.Code == "resourceLocked"
}

// escapePath escapes each segment of a drive path, keeping the slashes
func escapePath(p string) string {
	segments := strings.Split(p, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}
