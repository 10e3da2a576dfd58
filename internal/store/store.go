package store

import (
	"fmt"
	"sync"

	"fundingai-pipeline/internal/config"
	"fundingai-pipeline/internal/models"
	"fundingai-pipeline/internal/pkg/logger"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Store is the single source of truth for opportunities, profiles, scores,
// marks, alerts and run records. Readers run concurrently; writers serialize
// per entity key through striped locks, not one global lock.
type Store struct {
	db     *gorm.DB
	logger *logger.Logger

	keyLocks sync.Map // key string -> *sync.Mutex
}

func Open(cfg config.StoreConfig, log *logger.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(cfg.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open store at %s: %w", cfg.DSN, err)
	}

	if err := db.AutoMigrate(
		&models.Opportunity{},
		&models.UserProfile{},
		&models.RelevanceScore{},
		&models.FavoriteMark{},
		&models.SeenMark{},
		&models.Alert{},
		&models.AgentRunRecord{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate store schema: %w", err)
	}

	store := &Store{
		db:     db,
		logger: log,
	}

	log.Info("Opportunity Store Initialized Successfully", "dsn", cfg.DSN)
	return store, nil
}

func (store *Store) Close() error {
	sqlDB, err := store.db.DB()
	if err != nil {
		return fmt.Errorf("failed to access underlying database: %w", err)
	}
	return sqlDB.Close()
}

// lockKey serializes writers touching the same entity key. The "is this new
// information" decision inside an upsert happens under this critical section.
func (store *Store) lockKey(key string) func() {
	value, _ := store.keyLocks.LoadOrStore(key, &sync.Mutex{})
	mu := value.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
