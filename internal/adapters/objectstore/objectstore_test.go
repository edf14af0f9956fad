package objectstore

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"
)

type stubS3 struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (s *stubS3) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.input = params
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	s.body = body
	return &s3.PutObjectOutput{}, nil
}

type stubPresigner struct {
	key string
	err error
}

func (p *stubPresigner) PresignGetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.PresignOptions)) (*PresignedURL, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.key = *params.Key
	return &PresignedURL{URL: "https://signed.example.com/" + *params.Key + "?sig=1"}, nil
}

func TestS3UploadPublicBase(t *testing.T) {
	api := &stubS3{}
	store := newS3Storage(S3Config{Bucket: "docs", Prefix: "orders", PublicBase: "https://cdn.example.com/"}, api, &stubPresigner{})

	url, err := store.Upload(context.Background(), []byte("%PDF"), "tenant-a/invoice-ORD 1.pdf")
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example.com/orders/tenant-a/invoice-ORD%201.pdf", url)
	require.Equal(t, "docs", *api.input.Bucket)
	require.Equal(t, "orders/tenant-a/invoice-ORD 1.pdf", *api.input.Key)
	require.Equal(t, "application/pdf", *api.input.ContentType)
	require.Equal(t, int64(4), *api.input.ContentLength)
	require.Equal(t, []byte("%PDF"), api.body)
}

func TestS3UploadPresigned(t *testing.T) {
	presigner := &stubPresigner{}
	store := newS3Storage(S3Config{Bucket: "docs"}, &stubS3{}, presigner)

	url, err := store.Upload(context.Background(), []byte("x"), "/a/../estimate-1.pdf")
	require.NoError(t, err)
	require.Equal(t, "estimate-1.pdf", presigner.key)
	require.Equal(t, "https://signed.example.com/estimate-1.pdf?sig=1", url)
}

func TestS3UploadErrors(t *testing.T) {
	store := newS3Storage(S3Config{Bucket: "docs"}, &stubS3{err: errors.New("denied")}, &stubPresigner{})
	_, err := store.Upload(context.Background(), []byte("x"), "file.pdf")
	require.ErrorContains(t, err, "denied")

	_, err = store.Upload(context.Background(), []byte("x"), "  ")
	require.ErrorContains(t, err, "object name is required")

	store = newS3Storage(S3Config{Bucket: "docs"}, &stubS3{}, &stubPresigner{err: errors.New("no creds")})
	_, err = store.Upload(context.Background(), []byte("x"), "file.pdf")
	require.ErrorContains(t, err, "presign")
}

func TestNewS3StorageRequiresBucket(t *testing.T) {
	_, err := NewS3Storage(context.Background(), S3Config{Region: "eu-west-1"})
	require.Error(t, err)
}

func TestMemoryStorage(t *testing.T) {
	store := NewMemoryStorage("http://localhost:8080/files/")

	url, err := store.Upload(context.Background(), []byte("doc"), "tenant-a/invoice-1.pdf")
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8080/files/tenant-a/invoice-1.pdf", url)

	data, ok := store.Object("tenant-a/invoice-1.pdf")
	require.True(t, ok)
	require.Equal(t, []byte("doc"), data)

	_, err = store.Upload(context.Background(), nil, "")
	require.Error(t, err)
}
