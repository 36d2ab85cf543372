// Package qdrant wraps the Qdrant Go client with the read-only operations
// the research pipeline needs: dense and sparse passage queries, collection
// statistics and document listing.
package qdrant

// Payload keys written by the ingestion tooling.
const (
	PayloadDocumentName = "document_name"
	PayloadPageNumber   = "page_number"
	PayloadText         = "text"
)

// Passage is one indexed chunk returned by a query.
type Passage struct {
	// ID is the point identifier.
	ID string

	// DocumentName is the source file name.
	DocumentName string

	// PageNumber is the 1-based page the passage starts on.
	PageNumber int

	// Text is the passage content.
	Text string

	// Score is the provider-native relevance score.
	Score float32
}

// SparseVector is a bag of hashed terms for the keyword query.
type SparseVector struct {
	Indices []uint32
	Values  []float32
}

// CollectionInfo contains information about the passage collection.
type CollectionInfo struct {
	Name        string `json:"name"`
	PointsCount uint64 `json:"points_count"`
	Status      string `json:"status"`
}
