package bootstrap

import (
	"strings"

	appconfig "github.com/wolfman30/whatsapp-assistant-relay/internal/config"
	"github.com/wolfman30/whatsapp-assistant-relay/internal/media"
	"github.com/wolfman30/whatsapp-assistant-relay/pkg/logging"
)

// BuildMediaMirror returns an S3 mirror when MEDIA_BUCKET is set, nil otherwise.
func BuildMediaMirror(cfg *appconfig.Config, s3Client media.S3API, downloader media.Downloader, logger *logging.Logger) *media.S3Mirror {
	if cfg == nil || strings.TrimSpace(cfg.MediaBucket) == "" || s3Client == nil || downloader == nil {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	logger.Info("media mirror enabled", "bucket", cfg.MediaBucket)
	return media.NewS3Mirror(s3Client, downloader, cfg.MediaBucket, cfg.MediaPublicBaseURL, logger)
}
