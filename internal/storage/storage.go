package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/go-redis/redis/v8"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"terminsync/internal/config"
	"terminsync/internal/models"
)

// ConnectDatabase открывает подключение к Postgres.
func ConnectDatabase(cfg config.Database) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("подключение к базе данных: %w", err)
	}
	return db, nil
}

// ConnectMemoryDatabase открывает SQLite в памяти для STORE_DRIVER=memory и тестов.
func ConnectMemoryDatabase() (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("подключение к sqlite: %w", err)
	}
	// Каждое новое соединение к :memory: это отдельная пустая база.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// Migrate создаёт таблицы владельцев и документов.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Owner{}, &models.Document{}); err != nil {
		return fmt.Errorf("миграция: %w", err)
	}
	return nil
}

// InitRedis подключается к Redis и проверяет соединение.
func InitRedis(ctx context.Context, cfg config.Redis) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("подключение к redis %s: %w", cfg.Addr, err)
	}
	return client, nil
}
