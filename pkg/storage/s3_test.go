package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockS3 struct {
	mock.Mock
}

func (m *MockS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.PutObjectOutput), args.Error(1)
}

func (m *MockS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.GetObjectOutput), args.Error(1)
}

func TestS3StorePut(t *testing.T) {
	client := new(MockS3)
	store, err := NewS3Store(client, "certs", "/prod/")
	require.NoError(t, err)

	client.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return *in.Bucket == "certs" &&
			*in.Key == "prod/certificates/T1/CERT-1.pdf" &&
			*in.ContentType == "application/pdf" &&
			*in.ContentLength == 3
	})).Return(&s3.PutObjectOutput{}, nil)

	ref, err := store.Put(context.Background(), "certificates/T1/CERT-1.pdf", []byte("pdf"), "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "s3://certs/prod/certificates/T1/CERT-1.pdf", ref)
	client.AssertExpectations(t)
}

func TestS3StoreGet(t *testing.T) {
	client := new(MockS3)
	store, err := NewS3Store(client, "certs", "")
	require.NoError(t, err)

	client.On("GetObject", mock.Anything, mock.MatchedBy(func(in *s3.GetObjectInput) bool {
		return *in.Bucket == "certs" && *in.Key == "certificates/T1/CERT-1.pdf"
	})).Return(&s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader("pdf"))}, nil)
	client.On("GetObject", mock.Anything, mock.MatchedBy(func(in *s3.GetObjectInput) bool {
		return *in.Key == "missing.pdf"
	})).Return(nil, &types.NoSuchKey{})

	rc, err := store.Get(context.Background(), "s3://certs/certificates/T1/CERT-1.pdf")
	require.NoError(t, err)
	body, _ := io.ReadAll(rc)
	assert.Equal(t, "pdf", string(body))

	_, err = store.Get(context.Background(), "s3://certs/missing.pdf")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = store.Get(context.Background(), "certificates/T1/CERT-1.pdf")
	assert.Error(t, err)
}

func TestNewS3StoreRequiresBucket(t *testing.T) {
	_, err := NewS3Store(new(MockS3), "", "")
	assert.Error(t, err)
}
