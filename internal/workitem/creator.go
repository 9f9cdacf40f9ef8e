package workitem

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/clintrovert/ticketsync/internal/lookup"
	"github.com/clintrovert/ticketsync/internal/metrics"
	"github.com/clintrovert/ticketsync/internal/openproject"
	"github.com/clintrovert/ticketsync/pkg/types"
)

// permissionPhrase is how OpenProject words a rejected user on a work package
const permissionPhrase = "The chosen user is not allowed"

// Tracker creates work packages and attachments
type Tracker interface {
	CreateWorkPackage(ctx context.Context, req *openproject.WorkPackageRequest) (*openproject.WorkPackage, error)
	UploadAttachment(ctx context.Context, fileName string, content []byte) (*openproject.Attachment, error)
}

// Resolver maps names to OpenProject ids
type Resolver interface {
	Resolve(category lookup.Category, name string) (int, bool)
}

// Downloader fetches attachment content from the ticket source
type Downloader interface {
	DownloadBinary(ctx context.Context, itemID string) ([]byte, error)
}

// Options holds the OpenProject specifics of a new work package
type Options struct {
	TypeID int
	// DefaultPriorityID stands in for an unknown priority when non-zero.
	DefaultPriorityID int
	ReleaseDateField  string
	NoteField         string
}

// Creator turns ticket requests into OpenProject work packages
type Creator struct {
	tracker    Tracker
	resolver   Resolver
	downloader Downloader
	opts       Options
	logger     *zap.Logger
}

// NewCreator creates a new work item creator
func NewCreator(tracker Tracker, resolver Resolver, downloader Downloader, opts Options, logger *zap.Logger) *Creator {
	return &Creator{
		tracker:    tracker,
		resolver:   resolver,
		downloader: downloader,
		opts:       opts,
		logger:     logger,
	}
}

type references struct {
	project     int
	assignee    int
	priority    int
	responsible int
}

type uploadedAttachment struct {
	id   int
	name string
}

// Create submits a work package for req and returns its record. It does
// not touch the history workbook.
func (c *Creator) Create(ctx context.Context, req *types.TicketRequest) (*types.WorkItemRecord, error) {
	refs, err := c.resolve(req)
	if err != nil {
		return nil, err
	}

	attachments := c.uploadAttachments(ctx, req.Attachments)
	description := withAttachments(req.Description, attachments)

	wp, fallback, err := c.submit(ctx, req, refs, description, attachments)
	if err != nil {
		return nil, &CreationError{Subject: req.Subject, Fallback: fallback, Err: err}
	}

	metrics.WorkItemsCreated.WithLabelValues(strconv.FormatBool(fallback)).Inc()

	ticketType := req.Type
	if ticketType == "" {
		ticketType = types.DefaultTicketType
	}

	return &types.WorkItemRecord{
		ID:        wp.ID,
		Subject:   wp.Subject,
		CreatedAt: wp.CreatedAt,
		Project:   wp.Embedded.Project.Identifier,
		Type:      ticketType,
	}, nil
}

// resolve looks up every id the request needs. The accountable person is
// optional and falls back to a note on the work package.
func (c *Creator) resolve(req *types.TicketRequest) (references, error) {
	var refs references
	var missing []Reference

	if id, ok := c.resolver.Resolve(lookup.Projects, req.ProjectName); ok {
		refs.project = id
	} else {
		missing = append(missing, Reference{Field: "project", Name: req.ProjectName})
	}

	if id, ok := c.resolver.Resolve(lookup.Users, req.AssigneeName); ok {
		refs.assignee = id
	} else {
		missing = append(missing, Reference{Field: "assignee", Name: req.AssigneeName})
	}

	if id, ok := c.resolver.Resolve(lookup.Priorities, req.PriorityName); ok {
		refs.priority = id
	} else if c.opts.DefaultPriorityID > 0 {
		refs.priority = c.opts.DefaultPriorityID
	} else {
		missing = append(missing, Reference{Field: "priority", Name: req.PriorityName})
	}

	if id, ok := c.resolver.Resolve(lookup.Users, req.AccountableName); ok {
		refs.responsible = id
	}

	if len(missing) > 0 {
		return refs, &InvalidReferenceError{Refs: missing}
	}
	return refs, nil
}

// uploadAttachments copies each attachment into OpenProject. Failures
// are logged and the attachment is left out.
func (c *Creator) uploadAttachments(ctx context.Context, refs []types.AttachmentRef) []uploadedAttachment {
	uploaded := make([]uploadedAttachment, 0, len(refs))
	for _, ref := range refs {
		content, err := c.downloader.DownloadBinary(ctx, ref.ID)
		if err != nil {
			metrics.AttachmentFailures.Inc()
			c.logger.Warn("failed to download attachment",
				zap.String("attachment", ref.Name),
				zap.Error(err),
			)
			continue
		}

		attachment, err := c.tracker.UploadAttachment(ctx, ref.Name, content)
		if err != nil {
			metrics.AttachmentFailures.Inc()
			c.logger.Warn("failed to upload attachment",
				zap.String("attachment", ref.Name),
				zap.Error(err),
			)
			continue
		}

		uploaded = append(uploaded, uploadedAttachment{id: attachment.ID, name: ref.Name})
	}
	return uploaded
}

// submit sends the primary request and, when OpenProject rejects the chosen
// responsible or assignee, one fallback request
func (c *Creator) submit(
	ctx context.Context,
	req *types.TicketRequest,
	refs references,
	description string,
	attachments []uploadedAttachment,
) (*openproject.WorkPackage, bool, error) {
	primary := c.buildRequest(req, refs, description, attachments, false, false)
	wp, err := c.tracker.CreateWorkPackage(ctx, primary)
	if err == nil {
		return wp, false, nil
	}

	rejected, namesAssignee := classifyRejection(err)
	if !rejected {
		return nil, false, err
	}

	c.logger.Warn("work package rejected for user permissions, retrying with note",
		zap.String("subject", req.Subject),
		zap.Bool("drop_assignee", namesAssignee),
		zap.Error(err),
	)

	retry := c.buildRequest(req, refs, description, attachments, true, namesAssignee)
	wp, err = c.tracker.CreateWorkPackage(ctx, retry)
	if err != nil {
		return nil, true, err
	}
	return wp, true, nil
}

// buildRequest assembles a work package body. In fallback mode the
// accountable person only appears in the note field; dropAssignee also
// moves the assignee there.
func (c *Creator) buildRequest(
	req *types.TicketRequest,
	refs references,
	description string,
	attachments []uploadedAttachment,
	fallback, dropAssignee bool,
) *openproject.WorkPackageRequest {
	links := openproject.WorkPackageLinks{
		Project:     openproject.ProjectLink(refs.project),
		Type:        openproject.TypeLink(c.opts.TypeID),
		Priority:    openproject.PriorityLink(refs.priority),
		Attachments: make([]openproject.Link, 0, len(attachments)),
	}
	for _, a := range attachments {
		links.Attachments = append(links.Attachments, openproject.AttachmentLink(a.id))
	}

	var note string
	if req.AccountableName != "" {
		note = "\n\n**Accountable:**\n" + req.AccountableName
	}

	if dropAssignee {
		note += "\n\n**Assignee:**\n" + req.AssigneeName
	} else {
		links.Assignee = openproject.UserLink(refs.assignee)
	}

	custom := make(map[string]any, 2)
	if req.ReleaseDate != "" {
		custom[c.opts.ReleaseDateField] = req.ReleaseDate
	}

	if !fallback && refs.responsible != 0 {
		links.Responsible = openproject.UserLink(refs.responsible)
	} else if note != "" {
		custom[c.opts.NoteField] = openproject.Markdown(note)
	}

	return &openproject.WorkPackageRequest{
		Subject:      req.Subject,
		Description:  openproject.Markdown(description),
		Links:        links,
		CustomFields: custom,
	}
}

// classifyRejection decides whether err is OpenProject refusing the chosen
// responsible or assignee, and whether the assignee is the one named. The
// refusal itself is only recognisable from the message text; the field is
// taken from the structured error detail when present.
func classifyRejection(err error) (rejected, namesAssignee bool) {
	var remoteErr *types.RemoteIOError
	if !errors.As(err, &remoteErr) {
		return false, false
	}
	if !strings.Contains(remoteErr.Message, permissionPhrase) {
		return false, false
	}
	return true, remoteErr.Attribute == "assignee" || strings.Contains(remoteErr.Message, "Assignee")
}

// withAttachments appends inline image markup for uploaded attachments
func withAttachments(description string, attachments []uploadedAttachment) string {
	if len(attachments) == 0 {
		return description
	}

	var b strings.Builder
	b.WriteString(description)
	b.WriteString("\n\n**Attachments:**\n")
	for _, a := range attachments {
		fmt.Fprintf(&b, "<img class=\"op-uc-image\" src=\"/api/v3/attachments/%d/content\">\n", a.id)
	}
	return b.String()
}
