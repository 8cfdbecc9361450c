// Package media copies short-lived WhatsApp media into durable S3 storage.
package media

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/wolfman30/whatsapp-assistant-relay/internal/apperrors"
	"github.com/wolfman30/whatsapp-assistant-relay/pkg/logging"
)

// S3API is the subset of the S3 client used by S3Mirror.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Downloader fetches the bytes behind a gateway media URL.
type Downloader interface {
	DownloadMedia(ctx context.Context, url string) ([]byte, error)
}

// Object describes one media item to mirror.
type Object struct {
	ConversationID string
	MediaID        string
	SourceURL      string
	MimeType       string
	Filename       string
}

// Stored is the durable location of a mirrored object.
type Stored struct {
	Key  string
	URL  string
	Size int64
}

// S3Mirror downloads gateway media and writes it to a bucket.
type S3Mirror struct {
	bucket        string
	publicBaseURL string
	s3Client      S3API
	downloader    Downloader
	logger        *logging.Logger
}

// NewS3Mirror creates a mirror. If bucket is empty the mirror is disabled.
func NewS3Mirror(s3Client S3API, downloader Downloader, bucket, publicBaseURL string, logger *logging.Logger) *S3Mirror {
	if logger == nil {
		logger = logging.Default()
	}
	return &S3Mirror{
		bucket:        strings.TrimSpace(bucket),
		publicBaseURL: strings.TrimRight(strings.TrimSpace(publicBaseURL), "/"),
		s3Client:      s3Client,
		downloader:    downloader,
		logger:        logger,
	}
}

// Enabled returns true if a bucket and both collaborators are configured.
func (m *S3Mirror) Enabled() bool {
	return m != nil && m.bucket != "" && m.s3Client != nil && m.downloader != nil
}

// Key returns the object key for a conversation's media item.
func Key(conversationID, mediaID string) string {
	return path.Join("media", conversationID, mediaID)
}

// Mirror copies obj.SourceURL into the bucket under media/<conversation>/<media>.
func (m *S3Mirror) Mirror(ctx context.Context, obj Object) (*Stored, error) {
	if !m.Enabled() {
		return nil, fmt.Errorf("media: mirror not configured")
	}
	if obj.ConversationID == "" || obj.MediaID == "" || obj.SourceURL == "" {
		return nil, apperrors.Validation("conversation id, media id and source url are required")
	}

	data, err := m.downloader.DownloadMedia(ctx, obj.SourceURL)
	if err != nil {
		return nil, fmt.Errorf("media: download %s: %w", obj.MediaID, err)
	}

	key := Key(obj.ConversationID, obj.MediaID)
	input := &s3.PutObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if obj.MimeType != "" {
		input.ContentType = aws.String(obj.MimeType)
	}
	if obj.Filename != "" {
		input.ContentDisposition = aws.String(fmt.Sprintf("inline; filename=%q", obj.Filename))
	}
	if _, err := m.s3Client.PutObject(ctx, input); err != nil {
		return nil, fmt.Errorf("media: s3 put %s: %w", key, apperrors.Storage("put media object", err))
	}

	stored := &Stored{Key: key, URL: m.urlFor(key), Size: int64(len(data))}
	m.logger.Info("mirrored media to S3",
		"conversation_id", obj.ConversationID,
		"media_id", obj.MediaID,
		"s3_key", key,
		"bytes", stored.Size,
	)
	return stored, nil
}

func (m *S3Mirror) urlFor(key string) string {
	if m.publicBaseURL == "" {
		return "s3://" + m.bucket + "/" + key
	}
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return m.publicBaseURL + "/" + strings.Join(parts, "/")
}
