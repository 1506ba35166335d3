package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/minqiao/notepress-backend/pkg/ark"
	"github.com/minqiao/notepress-backend/pkg/config"
	"github.com/minqiao/notepress-backend/pkg/db/models"
	pkgerrors "github.com/minqiao/notepress-backend/pkg/errors"
	"github.com/minqiao/notepress-backend/pkg/logger"
	"github.com/minqiao/notepress-backend/pkg/metrics"
	"github.com/minqiao/notepress-backend/pkg/storage/oss"
)

// MediaUploader pushes media to the note platform's storage.
type MediaUploader interface {
	UploadVideo(ctx context.Context, src io.Reader) (string, error)
	UploadCover(ctx context.Context, src io.Reader) (string, error)
}

// NotePublisher submits the assembled note.
type NotePublisher interface {
	CreateNote(ctx context.Context, payload *ark.NotePayload) (string, error)
}

// BlobStore reads stored media for a publish attempt.
type BlobStore interface {
	GetObject(ctx context.Context, key string) (io.ReadCloser, *oss.ObjectInfo, error)
}

// Service sweeps due content and runs the publish workflow.
type Service interface {
	Sweep(ctx context.Context) (*SweepResult, error)
}

// SweepResult summarizes one sweep pass.
type SweepResult struct {
	Due       int
	Published int
	Retried   int
	Failed    int
}

type ServiceParams struct {
	Repo      *Repository
	Store     BlobStore
	Uploader  MediaUploader
	Publisher NotePublisher
	Config    config.PipelineConfig
	Metrics   *metrics.PipelineMetrics
	Logger    *logger.Logger
}

type service struct {
	repo      *Repository
	store     BlobStore
	uploader  MediaUploader
	publisher NotePublisher
	cfg       config.PipelineConfig
	metrics   *metrics.PipelineMetrics
	logg      *logger.Logger
	now       func() time.Time
}

func NewService(p ServiceParams) (Service, error) {
	if p.Repo == nil {
		return nil, fmt.Errorf("publish repository required")
	}
	if p.Store == nil {
		return nil, fmt.Errorf("blob store required")
	}
	if p.Uploader == nil {
		return nil, fmt.Errorf("media uploader required")
	}
	if p.Publisher == nil {
		return nil, fmt.Errorf("note publisher required")
	}
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	cfg := p.Config
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 5
	}
	if cfg.MaxPublishAttempts <= 0 {
		cfg.MaxPublishAttempts = 3
	}
	return &service{
		repo:      p.Repo,
		store:     p.Store,
		uploader:  p.Uploader,
		publisher: p.Publisher,
		cfg:       cfg,
		metrics:   p.Metrics,
		logg:      p.Logger,
		now:       time.Now,
	}, nil
}

// Sweep publishes every due item in slot order. One item failing never
// stops the rest of the batch; its attempt counter decides whether it
// is retried on a later sweep or parked as PUBLISH_FAILED.
func (s *service) Sweep(ctx context.Context) (*SweepResult, error) {
	ctx = s.logg.WithJob(ctx, "publish_sweep")

	due, err := s.repo.DuePending(ctx, s.now(), s.cfg.SweepBatchSize)
	if err != nil {
		return nil, err
	}

	result := &SweepResult{Due: len(due)}
	for i := range due {
		item := &due[i]
		itemCtx := s.logg.WithContentID(ctx, item.ID.String())

		if err := s.publishOne(itemCtx, item); err != nil {
			s.logg.Error(itemCtx, "publish attempt failed", err)
			status, recErr := s.repo.RecordFailure(ctx, item.ID, err.Error(), s.cfg.MaxPublishAttempts)
			if recErr != nil {
				s.logg.Error(itemCtx, "recording publish failure", recErr)
				continue
			}
			if status.IsInFlight() {
				result.Retried++
				s.metrics.IncPublishRetry()
			} else {
				result.Failed++
				s.metrics.IncPublished("failure")
			}
			continue
		}
		result.Published++
		s.metrics.IncPublished("success")
	}

	if result.Due > 0 {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"due":       result.Due,
			"published": result.Published,
			"retried":   result.Retried,
			"failed":    result.Failed,
		}), "publish sweep finished")
	}
	return result, nil
}

func (s *service) publishOne(ctx context.Context, item *models.ContentItem) error {
	asset, err := s.repo.EnabledAsset(ctx, item.CatalogItemID)
	if err != nil {
		return err
	}
	if asset == nil {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "no enabled media asset for item")
	}

	video, _, err := s.store.GetObject(ctx, asset.OSSKey)
	if err != nil {
		return err
	}
	defer func() { _ = video.Close() }()

	fileID, err := s.uploader.UploadVideo(ctx, video)
	if err != nil {
		return err
	}

	coverFileID, err := s.uploadCover(ctx, asset)
	if err != nil {
		return err
	}
	if coverFileID == "" {
		// no stored cover, let the platform cut the first frame
		coverFileID = fileID
	}

	payload, err := s.buildNote(item, asset, fileID, coverFileID)
	if err != nil {
		return err
	}

	noteID, err := s.publisher.CreateNote(ctx, payload)
	if err != nil {
		return err
	}

	return s.repo.FinishPublish(ctx, item.ID, asset.ID, noteID, s.now().Unix())
}

// uploadCover pushes the asset's stored cover image when one exists. A
// missing cover object is not an error.
func (s *service) uploadCover(ctx context.Context, asset *models.MediaAsset) (string, error) {
	cover, _, err := s.store.GetObject(ctx, coverKey(asset.OSSKey))
	if err != nil {
		if errors.Is(err, oss.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	defer func() { _ = cover.Close() }()
	return s.uploader.UploadCover(ctx, cover)
}

func (s *service) buildNote(item *models.ContentItem, asset *models.MediaAsset, fileID, coverFileID string) (*ark.NotePayload, error) {
	builder := ark.NewNoteBuilder().
		Title(item.Title).
		Description(item.Body)
	for _, tag := range item.Tags {
		builder.AddHashTag("", tag, "")
	}

	video := ark.NoteVideo{
		FileID:      fileID,
		CoverFileID: coverFileID,
		Width:       asset.Width,
		Height:      asset.Height,
		DurationMS:  int(asset.DurationMS),
		Format:      asset.Format,
		Bitrate:     int(asset.Bitrate),
		FrameRate:   int(asset.FrameRate),
		ColorSpace:  asset.ColorSpace,
	}
	if asset.AudioCodec != nil {
		video.AudioFormat = *asset.AudioCodec
		video.AudioDurationMS = int(asset.DurationMS)
		video.AudioChannels = 2
	}
	return builder.Video(video).Build()
}

// coverKey maps a video object key to its sidecar cover image written
// by the media ingest step.
func coverKey(videoKey string) string {
	return strings.TrimSuffix(videoKey, path.Ext(videoKey)) + ".cover.jpg"
}

