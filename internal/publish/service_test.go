package publish

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/minqiao/notepress-backend/pkg/ark"
	"github.com/minqiao/notepress-backend/pkg/config"
	"github.com/minqiao/notepress-backend/pkg/db/models"
	dbtypes "github.com/minqiao/notepress-backend/pkg/db/types"
	"github.com/minqiao/notepress-backend/pkg/enums"
	pkgerrors "github.com/minqiao/notepress-backend/pkg/errors"
	"github.com/minqiao/notepress-backend/pkg/logger"
	"github.com/minqiao/notepress-backend/pkg/storage/oss"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&models.CatalogItem{}, &models.MediaAsset{}, &models.ContentItem{}))
	return conn
}

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	reads   []string
}

func (f *fakeStore) GetObject(ctx context.Context, key string) (io.ReadCloser, *oss.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, key)
	payload, ok := f.objects[key]
	if !ok {
		return nil, nil, fmt.Errorf("object %s: %w", key, oss.ErrNotFound)
	}
	info := &oss.ObjectInfo{Key: key, Size: int64(len(payload))}
	return io.NopCloser(bytes.NewReader(payload)), info, nil
}

type fakeUploader struct {
	videoErr   error
	videoCount int
	coverCount int
}

func (f *fakeUploader) UploadVideo(ctx context.Context, src io.Reader) (string, error) {
	if f.videoErr != nil {
		return "", f.videoErr
	}
	if _, err := io.Copy(io.Discard, src); err != nil {
		return "", err
	}
	f.videoCount++
	return fmt.Sprintf("video-file-%d", f.videoCount), nil
}

func (f *fakeUploader) UploadCover(ctx context.Context, src io.Reader) (string, error) {
	if _, err := io.Copy(io.Discard, src); err != nil {
		return "", err
	}
	f.coverCount++
	return fmt.Sprintf("cover-file-%d", f.coverCount), nil
}

type fakePublisher struct {
	err      error
	payloads []*ark.NotePayload
}

func (f *fakePublisher) CreateNote(ctx context.Context, payload *ark.NotePayload) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.payloads = append(f.payloads, payload)
	return fmt.Sprintf("note-%d", len(f.payloads)), nil
}

type fixture struct {
	conn      *gorm.DB
	store     *fakeStore
	uploader  *fakeUploader
	publisher *fakePublisher
	svc       *service
}

func newFixture(t *testing.T, cfg config.PipelineConfig) *fixture {
	t.Helper()
	f := &fixture{
		conn:      openTestDB(t),
		store:     &fakeStore{objects: map[string][]byte{}},
		uploader:  &fakeUploader{},
		publisher: &fakePublisher{},
	}
	svc, err := NewService(ServiceParams{
		Repo:      NewRepository(f.conn),
		Store:     f.store,
		Uploader:  f.uploader,
		Publisher: f.publisher,
		Config:    cfg,
		Logger:    logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	require.NoError(t, err)
	f.svc = svc.(*service)
	return f
}

func (f *fixture) seedItemWithAsset(t *testing.T, key string) *models.CatalogItem {
	t.Helper()
	item := &models.CatalogItem{
		ItemID:  "item-" + uuid.NewString()[:8],
		Name:    "Test item",
		Buyable: true,
		State:   enums.CatalogStateManaged,
	}
	require.NoError(t, f.conn.Create(item).Error)
	require.NoError(t, f.conn.Create(&models.MediaAsset{
		CatalogItemID: item.ID,
		OSSKey:        key,
		ContentHash:   uuid.NewString(),
		FileName:      "clip.mp4",
		MimeType:      "video/mp4",
		SizeBytes:     8,
		DurationMS:    22867,
		Width:         1080,
		Height:        1920,
		Format:        "mp4",
		Enabled:       true,
	}).Error)
	f.store.objects[key] = []byte("videodat")
	return item
}

func (f *fixture) seedContent(t *testing.T, item *models.CatalogItem, scheduledAt int64, attempts int) *models.ContentItem {
	t.Helper()
	content := &models.ContentItem{
		CatalogItemID:   item.ID,
		Title:           "入冬好物",
		Body:            "这是一段正文。",
		Tags:            dbtypes.StringArray{"好物分享", "测评"},
		Author:          "deepseek-chat",
		Status:          enums.ContentStatusPendingPublish,
		ScheduledAt:     &scheduledAt,
		PublishAttempts: attempts,
	}
	require.NoError(t, f.conn.Create(content).Error)
	return content
}

func (f *fixture) reload(t *testing.T, id uuid.UUID) *models.ContentItem {
	t.Helper()
	var item models.ContentItem
	require.NoError(t, f.conn.First(&item, "id = ?", id).Error)
	return &item
}

func TestSweepPublishesDueContent(t *testing.T) {
	f := newFixture(t, config.PipelineConfig{})
	item := f.seedItemWithAsset(t, "videos/a.mp4")
	content := f.seedContent(t, item, time.Now().Add(-time.Minute).Unix(), 0)

	result, err := f.svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Due)
	assert.Equal(t, 1, result.Published)

	got := f.reload(t, content.ID)
	assert.Equal(t, enums.ContentStatusPublished, got.Status)
	require.NotNil(t, got.PublishedAt)
	assert.Greater(t, *got.PublishedAt, int64(0))
	require.NotNil(t, got.NoteID)
	assert.Equal(t, "note-1", *got.NoteID)

	var asset models.MediaAsset
	require.NoError(t, f.conn.First(&asset, "catalog_item_id = ?", item.ID).Error)
	assert.Equal(t, 1, asset.PublishCount)

	require.Len(t, f.publisher.payloads, 1)
	payload := f.publisher.payloads[0]
	assert.Equal(t, "入冬好物", payload.Common.Title)
	assert.Equal(t, "这是一段正文。", payload.Common.Desc)
	require.Len(t, payload.Common.HashTag, 2)
	assert.Equal(t, "好物分享", payload.Common.HashTag[0].Name)
	require.NotNil(t, payload.VideoInfo)
	assert.Equal(t, "video-file-1", payload.VideoInfo.FileID)
}

func TestSweepIgnoresFutureAndUnscheduledContent(t *testing.T) {
	f := newFixture(t, config.PipelineConfig{})
	item := f.seedItemWithAsset(t, "videos/a.mp4")
	f.seedContent(t, item, time.Now().Add(time.Hour).Unix(), 0)
	require.NoError(t, f.conn.Create(&models.ContentItem{
		CatalogItemID: item.ID,
		Title:         "未排期",
		Body:          "正文",
		Author:        "deepseek-chat",
		Status:        enums.ContentStatusPendingPublish,
	}).Error)

	result, err := f.svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Due)
	assert.Empty(t, f.publisher.payloads)
}

func TestSweepProcessesOldestSlotsFirst(t *testing.T) {
	f := newFixture(t, config.PipelineConfig{SweepBatchSize: 2})
	now := time.Now()
	first := f.seedContent(t, f.seedItemWithAsset(t, "videos/a.mp4"), now.Add(-3*time.Hour).Unix(), 0)
	second := f.seedContent(t, f.seedItemWithAsset(t, "videos/b.mp4"), now.Add(-2*time.Hour).Unix(), 0)
	third := f.seedContent(t, f.seedItemWithAsset(t, "videos/c.mp4"), now.Add(-time.Hour).Unix(), 0)

	result, err := f.svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Due)
	assert.Equal(t, 2, result.Published)

	assert.Equal(t, enums.ContentStatusPublished, f.reload(t, first.ID).Status)
	assert.Equal(t, enums.ContentStatusPublished, f.reload(t, second.ID).Status)
	assert.Equal(t, enums.ContentStatusPendingPublish, f.reload(t, third.ID).Status)
}

func TestFailedUploadLeavesContentForRetry(t *testing.T) {
	f := newFixture(t, config.PipelineConfig{MaxPublishAttempts: 3})
	item := f.seedItemWithAsset(t, "videos/a.mp4")
	content := f.seedContent(t, item, time.Now().Add(-time.Minute).Unix(), 0)
	f.uploader.videoErr = pkgerrors.New(pkgerrors.CodeTransport, "storage host unreachable")

	result, err := f.svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Retried)
	assert.Equal(t, 0, result.Published)

	got := f.reload(t, content.ID)
	assert.Equal(t, enums.ContentStatusPendingPublish, got.Status)
	assert.Equal(t, 1, got.PublishAttempts)
	require.NotNil(t, got.LastError)
	assert.Contains(t, *got.LastError, "storage host unreachable")
	assert.Nil(t, got.PublishedAt)

	// the note must never be submitted when the upload failed
	assert.Empty(t, f.publisher.payloads)
}

func TestExhaustedAttemptsParkContentAsFailed(t *testing.T) {
	f := newFixture(t, config.PipelineConfig{MaxPublishAttempts: 3})
	item := f.seedItemWithAsset(t, "videos/a.mp4")
	content := f.seedContent(t, item, time.Now().Add(-time.Minute).Unix(), 2)
	f.publisher.err = pkgerrors.New(pkgerrors.CodeUpstream, "note rejected: risk control")

	result, err := f.svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	got := f.reload(t, content.ID)
	assert.Equal(t, enums.ContentStatusPublishFailed, got.Status)
	assert.Equal(t, 3, got.PublishAttempts)

	var asset models.MediaAsset
	require.NoError(t, f.conn.First(&asset, "catalog_item_id = ?", item.ID).Error)
	assert.Equal(t, 0, asset.PublishCount)
}

func TestMissingAssetCountsAsFailedAttempt(t *testing.T) {
	f := newFixture(t, config.PipelineConfig{})
	item := &models.CatalogItem{
		ItemID:  "item-no-asset",
		Name:    "No asset",
		Buyable: true,
		State:   enums.CatalogStateManaged,
	}
	require.NoError(t, f.conn.Create(item).Error)
	content := f.seedContent(t, item, time.Now().Add(-time.Minute).Unix(), 0)

	result, err := f.svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Retried)

	got := f.reload(t, content.ID)
	require.NotNil(t, got.LastError)
	assert.Contains(t, *got.LastError, "no enabled media asset")
}

func TestStoredCoverIsUploadedWhenPresent(t *testing.T) {
	f := newFixture(t, config.PipelineConfig{})
	item := f.seedItemWithAsset(t, "videos/a.mp4")
	f.store.objects["videos/a.cover.jpg"] = []byte("coverdat")
	f.seedContent(t, item, time.Now().Add(-time.Minute).Unix(), 0)

	_, err := f.svc.Sweep(context.Background())
	require.NoError(t, err)

	require.Len(t, f.publisher.payloads, 1)
	assert.Equal(t, "cover-file-1", f.publisher.payloads[0].VideoInfo.Cover.FileID)
}

func TestMissingCoverFallsBackToVideoFrame(t *testing.T) {
	f := newFixture(t, config.PipelineConfig{})
	item := f.seedItemWithAsset(t, "videos/a.mp4")
	f.seedContent(t, item, time.Now().Add(-time.Minute).Unix(), 0)

	_, err := f.svc.Sweep(context.Background())
	require.NoError(t, err)

	require.Len(t, f.publisher.payloads, 1)
	payload := f.publisher.payloads[0]
	assert.Equal(t, payload.VideoInfo.FileID, payload.VideoInfo.Cover.FileID)
	assert.Equal(t, 0, f.uploader.coverCount)
}

func TestFinishPublishRejectsAlreadyPublishedContent(t *testing.T) {
	f := newFixture(t, config.PipelineConfig{})
	item := f.seedItemWithAsset(t, "videos/a.mp4")
	content := f.seedContent(t, item, time.Now().Add(-time.Minute).Unix(), 0)
	require.NoError(t, f.conn.Model(content).Updates(map[string]any{
		"status":       enums.ContentStatusPublished,
		"published_at": time.Now().Unix(),
	}).Error)

	var asset models.MediaAsset
	require.NoError(t, f.conn.First(&asset, "catalog_item_id = ?", item.ID).Error)

	err := f.svc.repo.FinishPublish(context.Background(), content.ID, asset.ID, "note-late", time.Now().Unix())
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeStateConflict, typed.Code())

	got := f.reload(t, content.ID)
	assert.Equal(t, enums.ContentStatusPublished, got.Status)
	assert.Nil(t, got.NoteID)

	var after models.MediaAsset
	require.NoError(t, f.conn.First(&after, "id = ?", asset.ID).Error)
	assert.Equal(t, 0, after.PublishCount)
}

func TestRecordFailureRejectsPublishedContent(t *testing.T) {
	f := newFixture(t, config.PipelineConfig{})
	item := f.seedItemWithAsset(t, "videos/a.mp4")
	content := f.seedContent(t, item, time.Now().Add(-time.Minute).Unix(), 0)
	require.NoError(t, f.conn.Model(content).Updates(map[string]any{
		"status":       enums.ContentStatusPublished,
		"published_at": time.Now().Unix(),
	}).Error)

	_, err := f.svc.repo.RecordFailure(context.Background(), content.ID, "late failure", 3)
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeStateConflict, typed.Code())

	got := f.reload(t, content.ID)
	assert.Equal(t, enums.ContentStatusPublished, got.Status)
	assert.Equal(t, 0, got.PublishAttempts)
	assert.Nil(t, got.LastError)
}
