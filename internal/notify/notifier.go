package notify

import (
	"context"
	"fmt"
	"html"
	"time"

	"go.uber.org/zap"

	"github.com/clintrovert/ticketsync/internal/openproject"
	"github.com/clintrovert/ticketsync/pkg/types"
)

// Poster sends an HTML message to a chat
type Poster interface {
	PostChatMessage(ctx context.Context, chatID, html string) (string, error)
}

// Notifier announces created work items in Teams chats
type Notifier struct {
	poster         Poster
	openProjectURL string
	location       *time.Location
	logger         *zap.Logger
}

// NewNotifier creates a new notifier
func NewNotifier(poster Poster, openProjectURL string, location *time.Location, logger *zap.Logger) *Notifier {
	if location == nil {
		location = types.LoadLocation("")
	}
	return &Notifier{
		poster:         poster,
		openProjectURL: openProjectURL,
		location:       location,
		logger:         logger,
	}
}

// Notify posts a creation message for record and returns the message id
func (n *Notifier) Notify(ctx context.Context, record types.WorkItemRecord, chatID string) (string, error) {
	messageID, err := n.poster.PostChatMessage(ctx, chatID, n.Format(record))
	if err != nil {
		return "", fmt.Errorf("failed to notify chat %s: %w", chatID, err)
	}

	n.logger.Info("posted work item notification",
		zap.Int("work_item_id", record.ID),
		zap.String("chat_id", chatID),
		zap.String("message_id", messageID),
	)
	return messageID, nil
}

// Format renders the chat message body
func (n *Notifier) Format(record types.WorkItemRecord) string {
	link := openproject.WorkPackageURL(n.openProjectURL, record.Project, record.ID)
	return fmt.Sprintf("🎫 Work Package Created!\nID: #%d\nSubject: %s\nCreated: %s\n\n<a href=\"%s\">View in OpenProject</a>",
		record.ID,
		html.EscapeString(record.Subject),
		record.CreatedAt.In(n.location).Format(types.DisplayLayout),
		html.EscapeString(link),
	)
}
