package redraft

import (
	"fmt"
	"strings"

	"github.com/oraraka-deko/redraft/llm"
)

// ActionMode selects the pipeline for a run.
type ActionMode string

const (
	// ModeAsk streams narration only.
	ModeAsk ActionMode = "ask"
	// ModeEdit streams narration and produces a change map.
	ModeEdit ActionMode = "edit"
)

// Turn is one conversation entry. History is append-only and ordered.
type Turn struct {
	Role    llm.Role `json:"role"`
	Content string   `json:"content"`
}

// Attachment is an inline image sent with the instructions.
type Attachment struct {
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

// Request is the input of one run. It is not modified once Run accepts it.
type Request struct {
	CurrentText      string       `json:"currentText"`
	Instructions     string       `json:"instructions"`
	History          []Turn       `json:"history,omitempty"`
	UserID           string       `json:"userId,omitempty"`
	DocumentID       string       `json:"documentId"`
	ModelChoice      string       `json:"model,omitempty"`
	ActionMode       ActionMode   `json:"actionMode,omitempty"`
	Images           []Attachment `json:"images,omitempty"`
	WebSearchEnabled bool         `json:"webSearchEnabled,omitempty"`
}

// ValidationError reports a malformed request. Run returns it before any
// event is emitted or any collaborator is called.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("redraft: invalid request: %s %s", e.Field, e.Reason)
}

// normalize validates r and fills defaults.
func (r Request) normalize(defaultTier string) (Request, error) {
	if strings.TrimSpace(r.Instructions) == "" {
		return r, &ValidationError{Field: "instructions", Reason: "is required"}
	}
	if strings.TrimSpace(r.DocumentID) == "" {
		return r, &ValidationError{Field: "documentId", Reason: "is required"}
	}

	switch r.ActionMode {
	case "":
		r.ActionMode = ModeEdit
	case ModeAsk, ModeEdit:
	default:
		return r, &ValidationError{Field: "actionMode", Reason: fmt.Sprintf("must be %q or %q, got %q", ModeAsk, ModeEdit, r.ActionMode)}
	}

	if r.ModelChoice == "" {
		r.ModelChoice = defaultTier
	}

	for i, t := range r.History {
		if t.Role != llm.RoleUser && t.Role != llm.RoleAssistant {
			return r, &ValidationError{Field: fmt.Sprintf("history[%d].role", i), Reason: fmt.Sprintf("must be user or assistant, got %q", t.Role)}
		}
	}
	for i, img := range r.Images {
		if len(img.Data) == 0 {
			return r, &ValidationError{Field: fmt.Sprintf("images[%d].data", i), Reason: "is empty"}
		}
		if !strings.HasPrefix(img.MIMEType, "image/") {
			return r, &ValidationError{Field: fmt.Sprintf("images[%d].mimeType", i), Reason: fmt.Sprintf("must be an image type, got %q", img.MIMEType)}
		}
	}

	r.History = append([]Turn(nil), r.History...)
	return r, nil
}

func (r Request) messages() []llm.Message {
	out := make([]llm.Message, len(r.History))
	for i, t := range r.History {
		out[i] = llm.Message{Role: t.Role, Content: t.Content}
	}
	return out
}

func (r Request) images() []llm.Image {
	if len(r.Images) == 0 {
		return nil
	}
	out := make([]llm.Image, len(r.Images))
	for i, a := range r.Images {
		out[i] = llm.Image{MIMEType: a.MIMEType, Data: a.Data}
	}
	return out
}
