package model

import "time"

// StoredImage is one ingested capture: the metadata row that points at the
// file written under the theme partition.
type StoredImage struct {
	ID          int64     `json:"id"`
	Name        string    `json:"nom"`
	Page        int       `json:"page"`
	Theme       string    `json:"theme"`
	StoragePath string    `json:"path"`
	CreatedAt   time.Time `json:"-"`
}

// IngestResponse is the JSON body returned by POST /images on success.
type IngestResponse struct {
	Message string       `json:"message"`
	Data    *StoredImage `json:"data"`
}

// ErrorResponse is the JSON body returned by POST /images on failure.
type ErrorResponse struct {
	Message string `json:"message"`
}
