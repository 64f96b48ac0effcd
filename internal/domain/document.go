package domain

import (
	"sort"
	"time"
)

// ============================================================
// Documents
// ============================================================

// Document statuses.
const (
	DocumentPending    = "pending"
	DocumentGenerating = "generating"
	DocumentCompleted  = "completed"
	DocumentError      = "error"
)

// Document is one generated marketing artifact tied to a Project and a DocumentType.
type Document struct {
	ID           string          `json:"id"`
	ProjectID    string          `json:"project_id"`
	UserID       string          `json:"user_id"`
	Type         string          `json:"type"`
	Title        string          `json:"title"`
	Status       string          `json:"status"`
	Content      DocumentContent `json:"content"`
	Progress     Progress        `json:"progress"`
	Version      int             `json:"version"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// DocumentContent is the generated body of a document.
type DocumentContent struct {
	Sections []Section `json:"sections"`
}

// Section is one generated markdown section.
type Section struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Order   int    `json:"order"`
}

// Progress reports how far generation has gone.
type Progress struct {
	Percent int    `json:"percent"`
	Stage   string `json:"stage"`
	Message string `json:"message,omitempty"`
}

// InProgress reports whether the document is queued or being generated.
func (d *Document) InProgress() bool {
	return d.Status == DocumentPending || d.Status == DocumentGenerating
}

// Abandoned reports whether an in-progress document has gone without an
// update for longer than timeout, which no live run allows. Rows left
// behind by a killed process end up here.
func (d *Document) Abandoned(now time.Time, timeout time.Duration) bool {
	if !d.InProgress() || timeout <= 0 || d.UpdatedAt.IsZero() {
		return false
	}
	return now.Sub(d.UpdatedAt) > timeout
}

// Ordered returns the sections sorted by Order (stable on ties).
func (c DocumentContent) Ordered() []Section {
	out := make([]Section, len(c.Sections))
	copy(out, c.Sections)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// Upsert replaces the section with the same ID or appends it.
func (c *DocumentContent) Upsert(s Section) {
	for i := range c.Sections {
		if c.Sections[i].ID == s.ID {
			c.Sections[i] = s
			return
		}
	}
	c.Sections = append(c.Sections, s)
}

// ProgressEvent is broadcast to realtime subscribers of a project.
type ProgressEvent struct {
	ProjectID  string   `json:"project_id"`
	DocumentID string   `json:"document_id"`
	Type       string   `json:"document_type"`
	Status     string   `json:"status"`
	Progress   Progress `json:"progress"`
	Version    int      `json:"version"`
}

// GenerateDocumentsRequest is the payload of POST /api/projects/{id}/documents/generate.
type GenerateDocumentsRequest struct {
	Types []string `json:"types" validate:"required,min=1,max=20,dive,required"`
}

// ExportLink is a temporary download URL for an archived export.
type ExportLink struct {
	URL       string    `json:"url"`
	Filename  string    `json:"filename"`
	ExpiresAt time.Time `json:"expires_at"`
}
