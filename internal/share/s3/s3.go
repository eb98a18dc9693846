// Package s3 shares transcripts by uploading them to S3-compatible object
// storage and handing back a presigned download link.
package s3

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/exiyom/ihear/internal/config"
	"github.com/exiyom/ihear/internal/share"
	"github.com/exiyom/ihear/internal/speech"
)

const defaultLinkTTL = 24 * time.Hour

// Sharer implements share.Sharer with minio-go.
type Sharer struct {
	client  *minio.Client
	bucket  string
	linkTTL time.Duration
	now     func() time.Time
	newID   func() string
}

// New creates an S3 sharer. No request is made until the first Share.
func New(cfg config.S3Config) (*Sharer, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	ttl := cfg.LinkTTL
	if ttl <= 0 {
		ttl = defaultLinkTTL
	}
	return &Sharer{
		client:  client,
		bucket:  cfg.Bucket,
		linkTTL: ttl,
		now:     time.Now,
		newID:   uuid.NewString,
	}, nil
}

// Name returns the backend identifier.
func (s *Sharer) Name() string { return "s3" }

// Share uploads item as a UTF-8 text object.
func (s *Sharer) Share(ctx context.Context, item share.Item) (share.Receipt, error) {
	key := s.objectKey(item.Owner)
	body := strings.NewReader(item.Text)

	_, err := s.client.PutObject(ctx, s.bucket, key, body, body.Size(), minio.PutObjectOptions{
		ContentType:  "text/plain; charset=utf-8",
		UserMetadata: map[string]string{"language": string(item.Language)},
	})
	if err != nil {
		return share.Receipt{}, speech.Wrap(s.Name(), "share", fmt.Errorf("upload %s: %w", key, err))
	}

	link, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.linkTTL, url.Values{})
	if err != nil {
		return share.Receipt{}, speech.Wrap(s.Name(), "share", fmt.Errorf("presign %s: %w", key, err))
	}

	slog.Debug("s3 share uploaded", "bucket", s.bucket, "key", key, "size", humanize.Bytes(uint64(len(item.Text))))
	return share.Receipt{Location: link.String()}, nil
}

// objectKey returns transcripts/<owner>/<date>/<time>-<id>.txt.
func (s *Sharer) objectKey(owner string) string {
	if owner == "" {
		owner = "anonymous"
	}
	now := s.now().UTC()
	name := fmt.Sprintf("%s-%s.txt", now.Format("150405"), s.newID())
	return path.Join("transcripts", url.PathEscape(owner), now.Format("2006-01-02"), name)
}
