// internal/services/storage_service.go
package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/datamarket-backend/internal/config"
)

// AvatarMaxSize bounds an uploaded profile image.
const AvatarMaxSize = 2 << 20

// avatarExt maps the sniffed type of an accepted avatar to its key suffix.
var avatarExt = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
}

// StorageService keeps profile images in S3. Dataset payloads live on IPFS
// and never pass through here.
type StorageService struct {
	s3Client s3iface.S3API
	config   *config.Config
}

type StoredAvatar struct {
	URL      string `json:"url"`
	Key      string `json:"key"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
}

func NewStorageService(config *config.Config) (*StorageService, error) {
	if config.AWS.AccessKeyID == "" {
		// local development keeps avatars out of S3
		return &StorageService{config: config}, nil
	}

	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(config.AWS.Region),
		Credentials: credentials.NewStaticCredentials(
			config.AWS.AccessKeyID,
			config.AWS.SecretAccessKey,
			"",
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &StorageService{
		s3Client: s3.New(sess),
		config:   config,
	}, nil
}

// NewStorageServiceWithClient wires an existing S3 client.
func NewStorageServiceWithClient(config *config.Config, client s3iface.S3API) *StorageService {
	return &StorageService{s3Client: client, config: config}
}

// StoreAvatar uploads a user's profile image under avatars/<user id>/. The
// type is sniffed from the content; the client's file name and header are
// ignored.
func (s *StorageService) StoreAvatar(ctx context.Context, userID uuid.UUID, file io.Reader) (*StoredAvatar, error) {
	body, err := io.ReadAll(io.LimitReader(file, AvatarMaxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read avatar: %w", err)
	}
	if len(body) > AvatarMaxSize {
		return nil, fmt.Errorf("%w: avatar exceeds %d bytes", ErrValidation, AvatarMaxSize)
	}

	mimeType := http.DetectContentType(body)
	ext, ok := avatarExt[mimeType]
	if !ok {
		return nil, fmt.Errorf("%w: avatar type %s is not allowed", ErrValidation, mimeType)
	}

	key := fmt.Sprintf("avatars/%s/%s_%s%s", userID, time.Now().UTC().Format("20060102"), uuid.NewString()[:8], ext)
	stored := &StoredAvatar{
		Key:      key,
		Size:     int64(len(body)),
		MimeType: mimeType,
	}

	if s.s3Client == nil {
		logrus.WithField("key", key).Info("S3 not configured, avatar not persisted")
		stored.URL = fmt.Sprintf("http://localhost:%s/uploads/%s", s.config.Server.Port, key)
		return stored, nil
	}

	if _, err := s.s3Client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.config.AWS.S3Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String(mimeType),
		ContentLength: aws.Int64(stored.Size),
		ACL:           aws.String(s3.ObjectCannedACLPublicRead),
	}); err != nil {
		return nil, fmt.Errorf("failed to upload avatar: %w", err)
	}

	stored.URL = s.publicURL(key)
	return stored, nil
}

func (s *StorageService) publicURL(key string) string {
	if s.config.AWS.CloudFrontURL != "" {
		return fmt.Sprintf("%s/%s", s.config.AWS.CloudFrontURL, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.config.AWS.S3Bucket, s.config.AWS.Region, key)
}
