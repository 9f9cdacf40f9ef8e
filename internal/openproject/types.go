package openproject

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Link is a HAL resource link
type Link struct {
	Href  string `json:"href"`
	Title string `json:"title,omitempty"`
}

// ProjectLink links a project by id
func ProjectLink(id int) *Link {
	return &Link{Href: fmt.Sprintf("/api/v3/projects/%d", id)}
}

// UserLink links a user by id
func UserLink(id int) *Link {
	return &Link{Href: fmt.Sprintf("/api/v3/users/%d", id)}
}

// TypeLink links a work package type by id
func TypeLink(id int) *Link {
	return &Link{Href: fmt.Sprintf("/api/v3/types/%d", id)}
}

// PriorityLink links a priority by id
func PriorityLink(id int) *Link {
	return &Link{Href: fmt.Sprintf("/api/v3/priorities/%d", id)}
}

// AttachmentLink links an uploaded attachment by id
func AttachmentLink(id int) Link {
	return Link{Href: fmt.Sprintf("/api/v3/attachments/%d", id)}
}

// Formattable is a markdown text property
type Formattable struct {
	Format string `json:"format"`
	Raw    string `json:"raw"`
	HTML   string `json:"html"`
}

// Markdown wraps raw markdown text
func Markdown(raw string) *Formattable {
	return &Formattable{Format: "markdown", Raw: raw}
}

// WorkPackageLinks are the resources a new work package points at
type WorkPackageLinks struct {
	Project     *Link  `json:"project,omitempty"`
	Assignee    *Link  `json:"assignee,omitempty"`
	Responsible *Link  `json:"responsible,omitempty"`
	Type        *Link  `json:"type,omitempty"`
	Priority    *Link  `json:"priority,omitempty"`
	Attachments []Link `json:"attachments"`
}

// WorkPackageRequest is the body of a create work package call. Custom
// fields are flattened into the top-level object under their field names.
type WorkPackageRequest struct {
	Subject      string
	Description  *Formattable
	Links        WorkPackageLinks
	CustomFields map[string]any
}

// MarshalJSON renders the request in the HAL+JSON shape OpenProject expects
func (r WorkPackageRequest) MarshalJSON() ([]byte, error) {
	body := make(map[string]any, len(r.CustomFields)+4)
	for name, value := range r.CustomFields {
		body[name] = value
	}
	body["subject"] = r.Subject
	body["_type"] = "WorkPackage"
	if r.Description != nil {
		body["description"] = r.Description
	}
	links := r.Links
	if links.Attachments == nil {
		links.Attachments = []Link{}
	}
	body["_links"] = links
	return json.Marshal(body)
}

// WorkPackage is the subset of a created work package we keep
type WorkPackage struct {
	ID        int       `json:"id"`
	Subject   string    `json:"subject"`
	CreatedAt time.Time `json:"createdAt"`
	Embedded  struct {
		Project Element `json:"project"`
	} `json:"_embedded"`
}

// Attachment is an uploaded attachment
type Attachment struct {
	ID       int    `json:"id"`
	FileName string `json:"fileName"`
}

// Element is an entry of a collection used for name lookups
type Element struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	Identifier string `json:"identifier,omitempty"`
}

type collection struct {
	Total    int `json:"total"`
	Count    int `json:"count"`
	Embedded struct {
		Elements []Element `json:"elements"`
	} `json:"_embedded"`
}

// apiError is the error resource OpenProject returns
type apiError struct {
	Type            string `json:"_type"`
	ErrorIdentifier string `json:"errorIdentifier"`
	Message         string `json:"message"`
	Embedded        struct {
		Details struct {
			Attribute string `json:"attribute"`
		} `json:"details"`
		Errors []apiError `json:"errors"`
	} `json:"_embedded"`
}

// WorkPackageURL is the browser link to a work package
func WorkPackageURL(baseURL, project string, id int) string {
	return fmt.Sprintf("%s/projects/%s/work_packages/%d", strings.TrimRight(baseURL, "/"), project, id)
}
