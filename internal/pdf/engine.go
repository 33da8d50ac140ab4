// Package pdf wraps the PDF transform engine behind an interface so
// processors stay testable without real PDF bytes.
package pdf

import (
	"context"
)

// Metadata is the document-properties summary the metadata job persists.
type Metadata struct {
	PageCount int    `json:"pageCount"`
	Version   string `json:"version,omitempty"`
	Title     string `json:"title,omitempty"`
	Author    string `json:"author,omitempty"`
	Subject   string `json:"subject,omitempty"`
	Producer  string `json:"producer,omitempty"`
	Encrypted bool   `json:"encrypted"`
}

// Engine performs the PDF transforms the pipeline offers. All operations
// take and return whole documents as byte slices; derived artifacts are
// uploaded by the caller.
type Engine interface {
	// Split breaks a document into single-page documents, in page order.
	Split(ctx context.Context, data []byte) ([][]byte, error)

	// Merge concatenates documents in the given order.
	Merge(ctx context.Context, parts [][]byte) ([]byte, error)

	// Watermark stamps every page with diagonal text.
	Watermark(ctx context.Context, data []byte, text string) ([]byte, error)

	// Compress rewrites the document with optimized resources.
	Compress(ctx context.Context, data []byte) ([]byte, error)

	// ExtractPages produces a new document containing only the selected
	// pages (1-based page selection strings, e.g. "1", "3-5").
	ExtractPages(ctx context.Context, data []byte, pages []string) ([]byte, error)

	// SinglePage materializes one page as a standalone document.
	SinglePage(ctx context.Context, data []byte, page int) ([]byte, error)

	// Info reads document properties without transforming anything.
	Info(ctx context.Context, data []byte) (*Metadata, error)
}
