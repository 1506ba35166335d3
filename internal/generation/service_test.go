package generation

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/minqiao/notepress-backend/internal/schedule"
	"github.com/minqiao/notepress-backend/pkg/ai"
	"github.com/minqiao/notepress-backend/pkg/config"
	"github.com/minqiao/notepress-backend/pkg/db/models"
	"github.com/minqiao/notepress-backend/pkg/enums"
	pkgerrors "github.com/minqiao/notepress-backend/pkg/errors"
	"github.com/minqiao/notepress-backend/pkg/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&models.PublishWindow{},
		&models.CatalogItem{},
		&models.MediaAsset{},
		&models.ContentItem{},
		&models.PromptTemplate{},
	))
	return conn
}

func seedWindow(t *testing.T, conn *gorm.DB, dailyLimit int, enabled bool) {
	t.Helper()
	require.NoError(t, conn.Create(&models.PublishWindow{
		ID:             models.PublishWindowID,
		StartMinute:    9 * 60,
		EndMinute:      22 * 60,
		GenerateMinute: 8 * 60,
		DailyLimit:     dailyLimit,
		Enabled:        enabled,
	}).Error)
}

func seedItem(t *testing.T, conn *gorm.DB, itemID string, createdAt int64, withAsset bool) *models.CatalogItem {
	t.Helper()
	item := &models.CatalogItem{
		ItemID:        itemID,
		Name:          "Item " + itemID,
		Buyable:       true,
		State:         enums.CatalogStateManaged,
		ItemCreatedAt: createdAt,
	}
	require.NoError(t, conn.Create(item).Error)
	if withAsset {
		require.NoError(t, conn.Create(&models.MediaAsset{
			CatalogItemID: item.ID,
			OSSKey:        "videos/" + itemID + ".mp4",
			ContentHash:   uuid.NewString(),
			FileName:      itemID + ".mp4",
			MimeType:      "video/mp4",
			SizeBytes:     1024,
			DurationMS:    15000,
			Enabled:       true,
		}).Error)
	}
	return item
}

// fakeGenerator answers every prompt with a canned article and records
// the prompts it saw. failFor makes prompts mentioning that item fail.
type fakeGenerator struct {
	mu      sync.Mutex
	prompts []string
	failFor string
	calls   int
}

func (f *fakeGenerator) GenerateArticle(ctx context.Context, prompt string) (*ai.Article, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.prompts = append(f.prompts, prompt)
	if f.failFor != "" && strings.Contains(prompt, f.failFor) {
		return nil, pkgerrors.New(pkgerrors.CodeTransport, "model unavailable")
	}
	return &ai.Article{
		Title:   fmt.Sprintf("标题 %d", f.calls),
		Content: "这是一段种草笔记正文。",
		Tags:    []string{"好物分享", "测评"},
	}, nil
}

func (f *fakeGenerator) Model() string { return "deepseek-chat" }

func newTestService(t *testing.T, conn *gorm.DB, gen Generator) *service {
	t.Helper()
	scheduleSvc, err := schedule.NewService(schedule.NewRepository(conn))
	require.NoError(t, err)
	svc, err := NewService(ServiceParams{
		Repo:     NewRepository(conn),
		Schedule: scheduleSvc,
		AI:       gen,
		Config:   config.PipelineConfig{GenerateConcurrent: 4},
		Logger:   logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	require.NoError(t, err)
	impl := svc.(*service)
	impl.jitter = func() time.Duration { return 0 }
	// 08:02 local, inside the generate gate for an 08:00 window
	impl.now = func() time.Time {
		now := time.Now()
		return time.Date(now.Year(), now.Month(), now.Day(), 8, 2, 0, 0, now.Location())
	}
	return impl
}

func minuteOfDay(t *testing.T, unix int64) int {
	t.Helper()
	at := time.Unix(unix, 0)
	return at.Hour()*60 + at.Minute()
}

func TestRunGeneratesUpToDailyLimit(t *testing.T) {
	conn := openTestDB(t)
	seedWindow(t, conn, 3, true)
	for i := 1; i <= 5; i++ {
		seedItem(t, conn, fmt.Sprintf("item-%d", i), int64(i*1000), true)
	}

	svc := newTestService(t, conn, &fakeGenerator{})
	result, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Equal(t, 3, result.Planned)
	assert.Equal(t, 3, result.Generated)
	assert.Equal(t, 0, result.Failed)

	var contents []models.ContentItem
	require.NoError(t, conn.Order("scheduled_at ASC").Find(&contents).Error)
	require.Len(t, contents, 3)

	seen := map[string]bool{}
	minutes := []int{}
	for _, c := range contents {
		assert.Equal(t, enums.ContentStatusPendingPublish, c.Status)
		assert.Equal(t, "deepseek-chat", c.Author)
		assert.NotEmpty(t, c.Title)
		assert.NotEmpty(t, c.Body)
		assert.NotEmpty(t, []string(c.Tags))
		require.NotNil(t, c.ScheduledAt)
		minutes = append(minutes, minuteOfDay(t, *c.ScheduledAt))
		seen[c.CatalogItemID.String()] = true
	}
	// one note per catalog item, spread evenly across 09:00-22:00
	assert.Len(t, seen, 3)
	assert.Equal(t, []int{9 * 60, 15*60 + 30, 22 * 60}, minutes)
}

func TestRunSkipsWhenWindowDisabled(t *testing.T) {
	conn := openTestDB(t)
	seedWindow(t, conn, 3, false)
	seedItem(t, conn, "item-1", 1000, true)

	svc := newTestService(t, conn, &fakeGenerator{})
	result, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Equal(t, "window disabled", result.Reason)
}

func TestRunSkipsOutsideGenerateGate(t *testing.T) {
	conn := openTestDB(t)
	seedWindow(t, conn, 3, true)
	seedItem(t, conn, "item-1", 1000, true)

	svc := newTestService(t, conn, &fakeGenerator{})
	svc.now = func() time.Time {
		now := time.Now()
		return time.Date(now.Year(), now.Month(), now.Day(), 13, 0, 0, 0, now.Location())
	}
	result, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Equal(t, "outside generate window", result.Reason)
}

func TestRunChargesPendingSlotsAgainstLimit(t *testing.T) {
	conn := openTestDB(t)
	seedWindow(t, conn, 3, true)
	busy := seedItem(t, conn, "item-busy", 9000, true)
	seedItem(t, conn, "item-free", 1000, true)

	svc := newTestService(t, conn, &fakeGenerator{})
	pendingAt := svc.now().Add(2 * time.Hour).Unix()
	for i := 0; i < 2; i++ {
		at := pendingAt + int64(i)
		require.NoError(t, conn.Create(&models.ContentItem{
			CatalogItemID: busy.ID,
			Title:         "排队中",
			Body:          "正文",
			Author:        "deepseek-chat",
			Status:        enums.ContentStatusPendingPublish,
			ScheduledAt:   &at,
		}).Error)
	}

	result, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Planned)
	assert.Equal(t, 1, result.Generated)

	// the busy item already has in-flight content, so the new note
	// must belong to the free item
	var fresh []models.ContentItem
	require.NoError(t, conn.Where("catalog_item_id <> ?", busy.ID).Find(&fresh).Error)
	require.Len(t, fresh, 1)
}

func TestRunChargesOvernightSlotsAgainstLimit(t *testing.T) {
	conn := openTestDB(t)
	require.NoError(t, conn.Create(&models.PublishWindow{
		ID:             models.PublishWindowID,
		StartMinute:    23 * 60,
		EndMinute:      2 * 60,
		GenerateMinute: 23 * 60,
		DailyLimit:     3,
		Enabled:        true,
	}).Error)
	for i := 1; i <= 6; i++ {
		seedItem(t, conn, fmt.Sprintf("item-%d", i), int64(i*1000), true)
	}

	svc := newTestService(t, conn, &fakeGenerator{})
	svc.now = func() time.Time {
		now := time.Now()
		return time.Date(now.Year(), now.Month(), now.Day(), 23, 1, 0, 0, now.Location())
	}

	first, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, first.Generated)

	// slots rolled past midnight still charge today's quota, so a
	// second tick inside the gate must not top the limit back up
	second, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Equal(t, "daily limit reached", second.Reason)

	var count int64
	require.NoError(t, conn.Model(&models.ContentItem{}).Count(&count).Error)
	assert.Equal(t, int64(3), count)
}

func TestRunCapsSlotsAtEligibleItems(t *testing.T) {
	conn := openTestDB(t)
	seedWindow(t, conn, 3, true)
	seedItem(t, conn, "item-1", 1000, true)
	seedItem(t, conn, "item-no-asset", 2000, false)

	svc := newTestService(t, conn, &fakeGenerator{})
	result, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Planned)
	assert.Equal(t, 1, result.Generated)

	var count int64
	require.NoError(t, conn.Model(&models.ContentItem{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestRunToleratesSlotFailures(t *testing.T) {
	conn := openTestDB(t)
	seedWindow(t, conn, 3, true)
	seedItem(t, conn, "item-1", 1000, true)
	seedItem(t, conn, "item-2", 2000, true)

	svc := newTestService(t, conn, &fakeGenerator{failFor: "Item item-2"})
	result, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Planned)
	assert.Equal(t, 1, result.Generated)
	assert.Equal(t, 1, result.Failed)
}

func TestRunUsesActivePromptTemplate(t *testing.T) {
	conn := openTestDB(t)
	seedWindow(t, conn, 1, true)
	desc := "会发热的桌垫"
	item := seedItem(t, conn, "item-1", 1000, true)
	require.NoError(t, conn.Model(item).Update("description", desc).Error)
	require.NoError(t, conn.Create(&models.PromptTemplate{
		Name:     "seasonal",
		Body:     "推广 $item_name：$description",
		IsActive: true,
	}).Error)

	gen := &fakeGenerator{}
	svc := newTestService(t, conn, gen)
	_, err := svc.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, gen.prompts, 1)
	assert.Equal(t, "推广 Item item-1："+desc, gen.prompts[0])
}
