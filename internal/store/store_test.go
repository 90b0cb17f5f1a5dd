package store

import (
	"fmt"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/pasargadprints/webhook-svc/internal/models"
)

func newStoreDBForTest(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&models.WebhookEvent{},
		&models.WebhookSecurityLog{},
	); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	return db
}

func newEventStoreForTest(t *testing.T) *EventStore {
	t.Helper()
	return NewEventStore(newStoreDBForTest(t), zap.NewNop(), 3)
}
