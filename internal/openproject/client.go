package openproject

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/clintrovert/ticketsync/internal/metrics"
	"github.com/clintrovert/ticketsync/pkg/types"
)

const (
	serviceName = "openproject"
	breakerName = "openproject-api"
	pageSize    = 100
)

// Client wraps the OpenProject API v3
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker[[]byte]
	logger     *zap.Logger
}

// NewClient creates a new OpenProject client authenticated with an API key
func NewClient(baseURL, token string, timeout time.Duration, logger *zap.Logger) *Client {
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Rejections of a single request say nothing about availability.
		IsSuccessful: func(err error) bool {
			var remoteErr *types.RemoteIOError
			if errors.As(err, &remoteErr) {
				return remoteErr.StatusCode >= 400 && remoteErr.StatusCode < 500
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		cb:         cb,
		logger:     logger,
	}
}

// BaseURL returns the OpenProject instance URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// CreateWorkPackage creates a work package
func (c *Client) CreateWorkPackage(ctx context.Context, req *WorkPackageRequest) (*WorkPackage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode work package: %w", err)
	}

	data, err := c.do(ctx, http.MethodPost, "/api/v3/work_packages", body, "application/json")
	if err != nil {
		return nil, err
	}

	var wp WorkPackage
	if err := json.Unmarshal(data, &wp); err != nil {
		return nil, fmt.Errorf("failed to decode work package: %w", err)
	}

	c.logger.Info("created work package",
		zap.Int("work_package_id", wp.ID),
		zap.String("subject", wp.Subject),
	)

	return &wp, nil
}

// UploadAttachment uploads a file as a container-less attachment, to be
// claimed by the next work package that links it
func (c *Client) UploadAttachment(ctx context.Context, fileName string, content []byte) (*Attachment, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	metadata, err := json.Marshal(map[string]string{"fileName": fileName})
	if err != nil {
		return nil, fmt.Errorf("failed to encode attachment metadata: %w", err)
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="metadata"`)
	header.Set("Content-Type", "application/json")
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata part: %w", err)
	}
	if _, err := part.Write(metadata); err != nil {
		return nil, fmt.Errorf("failed to write metadata part: %w", err)
	}

	filePart, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := filePart.Write(content); err != nil {
		return nil, fmt.Errorf("failed to write file part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart body: %w", err)
	}

	data, err := c.do(ctx, http.MethodPost, "/api/v3/attachments", buf.Bytes(), mw.FormDataContentType())
	if err != nil {
		return nil, err
	}

	var attachment Attachment
	if err := json.Unmarshal(data, &attachment); err != nil {
		return nil, fmt.Errorf("failed to decode attachment: %w", err)
	}
	return &attachment, nil
}

// ListCollection fetches every element of a collection endpoint such as
// "projects" or "priorities"
func (c *Client) ListCollection(ctx context.Context, endpoint string) ([]Element, error) {
	var elements []Element
	for offset := 1; ; offset++ {
		path := fmt.Sprintf("/api/v3/%s?offset=%d&pageSize=%d", endpoint, offset, pageSize)
		data, err := c.do(ctx, http.MethodGet, path, nil, "")
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s: %w", endpoint, err)
		}

		var page collection
		if err := json.Unmarshal(data, &page); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", endpoint, err)
		}

		if len(page.Embedded.Elements) == 0 {
			break
		}
		elements = append(elements, page.Embedded.Elements...)

		if len(elements) >= page.Total {
			break
		}
	}

	c.logger.Debug("fetched collection",
		zap.String("endpoint", endpoint),
		zap.Int("count", len(elements)),
	)

	return elements, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, contentType string) ([]byte, error) {
	return c.cb.Execute(func() ([]byte, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.SetBasicAuth("apikey", c.token)
		req.Header.Set("Accept", "application/hal+json")
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			metrics.RemoteRequests.WithLabelValues(serviceName, "error").Inc()
			return nil, &types.RemoteIOError{Service: serviceName, Method: method, Path: path, Err: err}
		}
		defer resp.Body.Close()

		metrics.RemoteRequests.WithLabelValues(serviceName, strconv.Itoa(resp.StatusCode/100)+"xx").Inc()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &types.RemoteIOError{Service: serviceName, Method: method, Path: path, StatusCode: resp.StatusCode, Err: err}
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, decodeError(method, path, resp.StatusCode, data)
		}
		return data, nil
	})
}

// decodeError turns an OpenProject error resource into a RemoteIOError.
// For MultipleErrors the messages are joined and the first attribute wins.
func decodeError(method, path string, status int, data []byte) error {
	remoteErr := &types.RemoteIOError{
		Service:    serviceName,
		Method:     method,
		Path:       path,
		StatusCode: status,
	}

	var apiErr apiError
	if err := json.Unmarshal(data, &apiErr); err != nil || apiErr.Type != "Error" {
		remoteErr.Message = strings.TrimSpace(string(data))
		return remoteErr
	}

	remoteErr.Code = apiErr.ErrorIdentifier
	remoteErr.Message = apiErr.Message
	remoteErr.Attribute = apiErr.Embedded.Details.Attribute

	if len(apiErr.Embedded.Errors) > 0 {
		messages := make([]string, 0, len(apiErr.Embedded.Errors))
		for _, nested := range apiErr.Embedded.Errors {
			messages = append(messages, nested.Message)
			if remoteErr.Attribute == "" {
				remoteErr.Attribute = nested.Embedded.Details.Attribute
			}
		}
		remoteErr.Message = strings.Join(messages, " ")
	}

	return remoteErr
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
