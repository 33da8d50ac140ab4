package database

import (
	"context"
	"docflow/internal/model"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// ErrDocumentNotFound is returned when no document exists for an id.
var ErrDocumentNotFound = errors.New("document not found")

// DocumentStore is the narrow slice of the document record the pipeline is
// allowed to touch: processing status, extracted text, thumbnail key and the
// namespaced metadata sub-objects. Identity and folder fields stay out of
// reach by construction.
type DocumentStore interface {
	// Get a document by ID
	GetDocument(ctx context.Context, id string) (*model.Document, error)

	// Apply a partial field update to a document
	UpdateDocument(ctx context.Context, id string, fields map[string]interface{}) error
}

// GetDocument retrieves a document by its ID
func (m *mongoDB) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	var doc model.Document
	err := m.documentsCol.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrDocumentNotFound
		}
		log.Error().Err(err).Str("documentID", id).Msg("Failed to get document")
		return nil, err
	}

	return &doc, nil
}

// UpdateDocument applies a partial field update to a document record.
// Metadata namespaces (metadata.ocr, metadata.embedding, ...) are written as
// whole sub-objects so retries replace rather than append.
func (m *mongoDB) UpdateDocument(ctx context.Context, id string, fields map[string]interface{}) error {
	set := bson.M{"updated_at": time.Now()}
	for k, v := range fields {
		set[k] = v
	}

	result, err := m.documentsCol.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		log.Error().Err(err).Str("documentID", id).Msg("Failed to update document")
		return err
	}

	if result.MatchedCount == 0 {
		return ErrDocumentNotFound
	}

	log.Debug().Str("documentID", id).Int("fields", len(fields)).Msg("Updated document")
	return nil
}
