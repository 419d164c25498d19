package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockS3Client implements s3API for testing
type MockS3Client struct {
	mock.Mock
	uploaded map[string]string
}

func (m *MockS3Client) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, params)
	if err := args.Error(1); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	if m.uploaded == nil {
		m.uploaded = make(map[string]string)
	}
	m.uploaded[*params.Key] = string(body)
	return args.Get(0).(*s3.PutObjectOutput), nil
}

func (m *MockS3Client) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	args := m.Called(ctx, params)
	if err := args.Error(1); err != nil {
		return nil, err
	}
	return args.Get(0).(*s3.HeadObjectOutput), nil
}

func TestS3Storage_Store(t *testing.T) {
	client := &MockS3Client{}
	storage := newS3Storage(client, "bucket", "backups")
	ctx := context.Background()

	client.On("PutObject", ctx, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return *in.Bucket == "bucket" &&
			*in.Key == "backups/2024-05-01/IMG_0001.JPG" &&
			*in.ContentType == "image/jpeg" &&
			*in.ContentLength == int64(len("jpeg bytes"))
	})).Return(&s3.PutObjectOutput{}, nil)

	err := storage.Store(ctx, "2024-05-01/IMG_0001.JPG", strings.NewReader("jpeg bytes"), "image/jpeg")
	require.NoError(t, err)

	assert.Equal(t, "jpeg bytes", client.uploaded["backups/2024-05-01/IMG_0001.JPG"])
	client.AssertExpectations(t)
}

func TestS3Storage_StoreError(t *testing.T) {
	client := &MockS3Client{}
	storage := newS3Storage(client, "bucket", "")
	ctx := context.Background()

	client.On("PutObject", ctx, mock.Anything).Return(nil, errors.New("access denied"))

	err := storage.Store(ctx, "IMG_0001.JPG", strings.NewReader("x"), "image/jpeg")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestS3Storage_RejectsEscapingPaths(t *testing.T) {
	storage := newS3Storage(&MockS3Client{}, "bucket", "")

	for _, p := range []string{"../x", "/abs", "..", ""} {
		err := storage.Store(context.Background(), p, strings.NewReader("x"), "")
		assert.ErrorIs(t, err, ErrInvalidPath, p)
	}
}

func TestS3Storage_Exists(t *testing.T) {
	client := &MockS3Client{}
	storage := newS3Storage(client, "bucket", "")
	ctx := context.Background()

	client.On("HeadObject", ctx, mock.MatchedBy(func(in *s3.HeadObjectInput) bool {
		return *in.Key == "present.jpg"
	})).Return(&s3.HeadObjectOutput{}, nil)
	client.On("HeadObject", ctx, mock.MatchedBy(func(in *s3.HeadObjectInput) bool {
		return *in.Key == "missing.jpg"
	})).Return(nil, &s3types.NotFound{})
	client.On("HeadObject", ctx, mock.MatchedBy(func(in *s3.HeadObjectInput) bool {
		return *in.Key == "broken.jpg"
	})).Return(nil, errors.New("timeout"))

	exists, err := storage.Exists(ctx, "present.jpg")
	assert.NoError(t, err)
	assert.True(t, exists)

	exists, err = storage.Exists(ctx, "missing.jpg")
	assert.NoError(t, err)
	assert.False(t, exists)

	_, err = storage.Exists(ctx, "broken.jpg")
	assert.Error(t, err)
}
