// internal/services/storage_service_test.go
package services

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/datamarket-backend/internal/config"
)

type fakeS3 struct {
	s3iface.S3API
	puts   []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (f *fakeS3) PutObjectWithContext(ctx aws.Context, in *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.puts = append(f.puts, in)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func pngAvatar(t *testing.T) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))))
	return buf.Bytes()
}

func (suite *ServiceTestSuite) TestUploadAvatar() {
	cfg := &config.Config{AWS: config.AWSConfig{Region: "us-east-1", S3Bucket: "datamarket-assets"}}
	store := &fakeS3{}
	users := NewUserService(suite.db, NewStorageServiceWithClient(cfg, store))
	user := suite.user(1)
	avatar := pngAvatar(suite.T())

	updated, err := users.UploadAvatar(context.Background(), user.ID, bytes.NewReader(avatar))
	require.NoError(suite.T(), err)

	require.Len(suite.T(), store.puts, 1)
	put := store.puts[0]
	assert.Equal(suite.T(), "datamarket-assets", aws.StringValue(put.Bucket))
	assert.Equal(suite.T(), "image/png", aws.StringValue(put.ContentType))
	assert.Equal(suite.T(), s3.ObjectCannedACLPublicRead, aws.StringValue(put.ACL))
	assert.True(suite.T(), strings.HasPrefix(aws.StringValue(put.Key), "avatars/"+user.ID.String()+"/"), aws.StringValue(put.Key))
	assert.True(suite.T(), strings.HasSuffix(aws.StringValue(put.Key), ".png"))
	assert.Equal(suite.T(), avatar, store.bodies[0])

	want := "https://datamarket-assets.s3.us-east-1.amazonaws.com/" + aws.StringValue(put.Key)
	assert.Equal(suite.T(), want, updated.AvatarURL)
	stored, err := users.GetUserByID(user.ID)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), want, stored.AvatarURL)
}

func (suite *ServiceTestSuite) TestUploadAvatarRejections() {
	cfg := &config.Config{AWS: config.AWSConfig{Region: "us-east-1", S3Bucket: "datamarket-assets"}}
	store := &fakeS3{}
	users := NewUserService(suite.db, NewStorageServiceWithClient(cfg, store))
	user := suite.user(1)
	avatar := pngAvatar(suite.T())

	_, err := users.UploadAvatar(context.Background(), user.ID, strings.NewReader("wallet,amount\n0xabc,1.5\n"))
	assert.ErrorIs(suite.T(), err, ErrValidation, "csv is not an image")

	oversized := append(append([]byte{}, avatar...), make([]byte, AvatarMaxSize)...)
	_, err = users.UploadAvatar(context.Background(), user.ID, bytes.NewReader(oversized))
	assert.ErrorIs(suite.T(), err, ErrValidation)

	_, err = users.UploadAvatar(context.Background(), uuid.New(), bytes.NewReader(avatar))
	assert.ErrorIs(suite.T(), err, ErrNotFound)

	assert.Empty(suite.T(), store.puts, "rejected uploads never reach S3")

	store.err = errors.New("AccessDenied: bucket policy")
	_, err = users.UploadAvatar(context.Background(), user.ID, bytes.NewReader(avatar))
	require.Error(suite.T(), err)
	assert.NotErrorIs(suite.T(), err, ErrValidation)

	stored, err := users.GetUserByID(user.ID)
	require.NoError(suite.T(), err)
	assert.Empty(suite.T(), stored.AvatarURL)

	_, err = suite.users.UploadAvatar(context.Background(), user.ID, bytes.NewReader(avatar))
	assert.Error(suite.T(), err, "no storage configured")
}
