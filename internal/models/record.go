package models

import (
	"encoding/json"
	"time"
)

// Record is one normalized task document of a project collection.
type Record struct {
	ID        string          `json:"id"`
	Annotated bool            `json:"annotated"`
	Doc       json.RawMessage `json:"doc"`
}

// ImageBlob is the mirrored image of one task, keyed by the task id.
type ImageBlob struct {
	ID        string    `json:"id"`
	FileName  string    `json:"file_name"`
	Digest    string    `json:"digest"`
	SizeBytes int64     `json:"size_bytes"`
	Image     []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}
