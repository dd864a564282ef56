// Package library persists generated artifacts to the user's media
// library: bytes in S3, metadata row in PostgreSQL.
package library

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/driftline/postforge/internal/generation"
)

// S3API is the subset of the S3 client the library needs.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Item is one saved artifact.
type Item struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Kind      string    `json:"kind"`
	URL       string    `json:"url"`
	ModelID   string    `json:"model_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Library saves artifacts. Text artifacts skip S3 and store inline.
type Library struct {
	db        *sql.DB
	s3        S3API
	bucket    string
	cdnDomain string
}

// New creates a Library over the given DB handle and S3 client.
func New(db *sql.DB, s3Client S3API, bucket, cdnDomain string) *Library {
	return &Library{db: db, s3: s3Client, bucket: bucket, cdnDomain: cdnDomain}
}

// Save persists the artifact and returns its public URL (empty for text).
func (l *Library) Save(ctx context.Context, userID uuid.UUID, artifact generation.Artifact) (string, error) {
	itemID := uuid.New()
	var url string

	if len(artifact.Media) > 0 {
		key := fmt.Sprintf("library/%s/%s%s", userID, itemID, extensionFor(artifact.ContentType))
		_, err := l.s3.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(l.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(artifact.Media),
			ContentType: aws.String(artifact.ContentType),
		})
		if err != nil {
			return "", fmt.Errorf("upload artifact: %w", err)
		}
		url = fmt.Sprintf("https://%s/%s", l.cdnDomain, key)
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO library_items (id, user_id, kind, url, text_content, model_id, placeholder, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`, itemID, userID, string(artifact.Kind), url, artifact.Text, artifact.ModelID, artifact.Placeholder)
	if err != nil {
		return "", fmt.Errorf("record library item: %w", err)
	}

	return url, nil
}

// SaveAsync saves in the background. Persistence to the library is
// best-effort relative to the generation response; a failed save is
// logged, not surfaced.
func (l *Library) SaveAsync(userID uuid.UUID, artifact generation.Artifact) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := l.Save(ctx, userID, artifact); err != nil {
			log.Printf("[Library] Save failed for user %s: %v", userID, err)
		}
	}()
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "video/mp4":
		return ".mp4"
	}
	return ""
}
