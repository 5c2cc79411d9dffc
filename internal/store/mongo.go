package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// ArchiveStore keeps the full OCR service response documents in MongoDB for
// later inspection. Archive writes are best effort: the proxy logs and
// continues when one fails.
type ArchiveStore struct {
	col *mongo.Collection
}

func NewArchiveStore(db *mongo.Database) *ArchiveStore {
	return &ArchiveStore{col: db.Collection("responses")}
}

type archiveDoc struct {
	UserID    int64     `bson:"user_id"`
	ResultID  int64     `bson:"result_id"`
	UploadKey string    `bson:"upload_key,omitempty"`
	Response  bson.M    `bson:"response"`
	CreatedAt time.Time `bson:"created_at"`
}

// Insert archives the raw upstream response body against the result row it
// produced. The body must be valid JSON (the proxy has already decoded it).
func (s *ArchiveStore) Insert(ctx context.Context, userID, resultID int64, uploadKey string, body []byte) error {
	var response bson.M
	if err := json.Unmarshal(body, &response); err != nil {
		return fmt.Errorf("archive decode: %w", err)
	}
	_, err := s.col.InsertOne(ctx, archiveDoc{
		UserID:    userID,
		ResultID:  resultID,
		UploadKey: uploadKey,
		Response:  response,
		CreatedAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("archive insert: %w", err)
	}
	return nil
}
