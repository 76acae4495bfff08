package objectstore

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"example.com/backstage/services/provenance/contenthash"
	"example.com/backstage/services/provenance/internal/metrics"
)

// Upload errors
var (
	ErrTooLarge    = errors.New("upload exceeds size limit")
	ErrEmptyUpload = errors.New("empty upload")
)

// Object describes a stored upload
type Object struct {
	URI         string `json:"uri"`
	ContentHash string `json:"content_hash"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

// Source is one upload body
type Source struct {
	Reader      io.Reader
	ContentType string
}

// Views is the result of a first/second view upload
type Views struct {
	FirstView  Object `json:"first_view"`
	SecondView Object `json:"second_view"`
}

// Uploader names objects by the sha256 of their bytes, so a URI commits
// to the content it points at
type Uploader struct {
	store   Store
	maxSize int64
}

// NewUploader creates an uploader. maxSize <= 0 means 10 MiB.
func NewUploader(store Store, maxSize int64) *Uploader {
	if maxSize <= 0 {
		maxSize = 10 << 20
	}
	return &Uploader{store: store, maxSize: maxSize}
}

// Upload stores one object
func (u *Uploader) Upload(ctx context.Context, src Source) (Object, error) {
	start := time.Now()
	obj, err := u.upload(ctx, src)
	metrics.GetCollector().RecordOperation(metrics.OperationUpload, err == nil, time.Since(start))
	return obj, err
}

func (u *Uploader) upload(ctx context.Context, src Source) (Object, error) {
	data, err := io.ReadAll(io.LimitReader(src.Reader, u.maxSize+1))
	if err != nil {
		return Object{}, errors.Wrap(err, "failed to read upload")
	}
	if int64(len(data)) > u.maxSize {
		return Object{}, ErrTooLarge
	}
	if len(data) == 0 {
		return Object{}, ErrEmptyUpload
	}

	contentType := src.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}

	hash := contenthash.Sum(data)
	name := hash + extension(contentType)

	uri, err := u.store.Put(ctx, name, contentType, data)
	if err != nil {
		return Object{}, errors.Wrap(err, "failed to store upload")
	}

	log.Info().Str("content_hash", hash).Int("size", len(data)).Str("uri", uri).Msg("Object stored")
	return Object{
		URI:         uri,
		ContentHash: hash,
		Size:        int64(len(data)),
		ContentType: contentType,
	}, nil
}

// UploadViews stores the first and second view concurrently
func (u *Uploader) UploadViews(ctx context.Context, first, second Source) (Views, error) {
	var views Views
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		obj, err := u.Upload(ctx, first)
		if err != nil {
			return errors.Wrap(err, "first view")
		}
		views.FirstView = obj
		return nil
	})
	g.Go(func() error {
		obj, err := u.Upload(ctx, second)
		if err != nil {
			return errors.Wrap(err, "second view")
		}
		views.SecondView = obj
		return nil
	})

	if err := g.Wait(); err != nil {
		return Views{}, err
	}
	return views, nil
}

func extension(contentType string) string {
	mediaType, _, _ := strings.Cut(contentType, ";")
	switch strings.TrimSpace(strings.ToLower(mediaType)) {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ""
	}
}
