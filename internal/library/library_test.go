package library

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftline/postforge/internal/generation"
)

type fakeS3 struct {
	keys  []string
	types []string
	body  []byte
	err   error
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.keys = append(f.keys, *in.Key)
	f.types = append(f.types, *in.ContentType)
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func TestSave_ImageUploadsAndRecords(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO library_items").
		WillReturnResult(sqlmock.NewResult(0, 1))

	s3c := &fakeS3{}
	lib := New(db, s3c, "postforge-media", "cdn.postforge.io")
	userID := uuid.New()

	url, err := lib.Save(context.Background(), userID, generation.Artifact{
		Kind:        generation.ArtifactImage,
		Media:       []byte{0x89, 0x50, 0x4e, 0x47},
		ContentType: "image/png",
		ModelID:     "amazon.titan-image-generator-v2:0",
	})
	require.NoError(t, err)

	require.Len(t, s3c.keys, 1)
	assert.True(t, strings.HasPrefix(s3c.keys[0], "library/"+userID.String()+"/"))
	assert.True(t, strings.HasSuffix(s3c.keys[0], ".png"))
	assert.Equal(t, "image/png", s3c.types[0])
	assert.Equal(t, "https://cdn.postforge.io/"+s3c.keys[0], url)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSave_TextSkipsS3(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO library_items").
		WillReturnResult(sqlmock.NewResult(0, 1))

	s3c := &fakeS3{}
	lib := New(db, s3c, "postforge-media", "cdn.postforge.io")

	url, err := lib.Save(context.Background(), uuid.New(), generation.Artifact{
		Kind: generation.ArtifactText,
		Text: "Launch week is here.",
	})
	require.NoError(t, err)
	assert.Empty(t, url)
	assert.Empty(t, s3c.keys)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSave_UploadErrorSkipsRecord(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s3c := &fakeS3{err: context.DeadlineExceeded}
	lib := New(db, s3c, "postforge-media", "cdn.postforge.io")

	_, err = lib.Save(context.Background(), uuid.New(), generation.Artifact{
		Kind:        generation.ArtifactImage,
		Media:       []byte{1, 2, 3},
		ContentType: "image/png",
	})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
