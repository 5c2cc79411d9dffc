package models

import (
	"encoding/json"
	"time"
)

// Result is a processing result stored against the user who uploaded the file.
// Pipeline holds the serialized `pipeline` field of the OCR service response.
type Result struct {
	ID        int64           `json:"id"`
	UserID    int64           `json:"-"` // never echoed back to the client
	Pipeline  json.RawMessage `json:"pipeline"`
	CreatedAt time.Time       `json:"created_at"`
}
