package sweeper

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/castline/castline/internal/config"
	"github.com/castline/castline/internal/models"
	"github.com/castline/castline/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, store.Migrate(db))
	return store.New(db, zap.NewNop())
}

func TestSweepUsesConfiguredWindow(t *testing.T) {
	st := newTestStore(t)

	old := time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, st.DB().Create(&models.Content{
		ContentID: "c-old", ContentsJSON: `{}`, CreatedAt: old,
	}).Error)
	require.NoError(t, st.DB().Create(&models.Task{
		TaskID: "t-old", ContentID: "c-old", Platforms: []string{"x"},
		ScheduledTime: old, Status: models.StatusCompleted, CreatedAt: old,
	}).Error)

	s := New(&config.RetentionConfig{Window: "24h"}, st, zap.NewNop())

	counts, err := s.Sweep(0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Contents)
	assert.Equal(t, int64(1), counts.Tasks)
}

func TestSweepExplicitWindowOverrides(t *testing.T) {
	st := newTestStore(t)

	old := time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, st.DB().Create(&models.Content{
		ContentID: "c1", ContentsJSON: `{}`, CreatedAt: old,
	}).Error)

	// Configured window would keep the row; the explicit one reclaims it.
	s := New(&config.RetentionConfig{Window: "720h"}, st, zap.NewNop())

	counts, err := s.Sweep(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Contents)
}
