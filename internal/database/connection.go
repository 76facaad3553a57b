// internal/database/connection.go
package database

import (
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/javajoker/marketsync/internal/config"
	"github.com/javajoker/marketsync/internal/models"
)

func Initialize(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(gormLogLevel(cfg.LogLevel)),
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), gormConfig)
	if err != nil {
		logrus.WithField("dsn", cfg.RedactedDSN()).Error("Database connection failed")
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying sql.DB
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	// Configure connection pool
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.MaxLifetime) * time.Second)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logrus.Info("Database connection established")
	return db, nil
}

func gormLogLevel(level string) logger.LogLevel {
	switch level {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

func Close(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		logrus.WithError(err).Error("Error getting underlying sql.DB")
		return
	}

	if err := sqlDB.Close(); err != nil {
		logrus.WithError(err).Error("Error closing database connection")
		return
	}
	logrus.Info("Database connection closed")
}

func RunMigrations(db *gorm.DB) error {
	logrus.Info("Running database migrations...")

	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS \"uuid-ossp\"").Error; err != nil {
		return fmt.Errorf("failed to create UUID extension: %w", err)
	}

	err := db.AutoMigrate(
		&models.Account{},
		&models.Marketplace{},
		&models.BrandBan{},
		&models.Operator{},
		&models.Product{},
		&models.BomLine{},
		&models.SupplierInfo{},
		&models.PurchaseLine{},
		&models.Listing{},
		&models.Offer{},
		&models.OfferSnapshot{},
		&models.SnapshotOffer{},
		&models.OfferNotification{},
		&models.FeedRequest{},
		&models.ProductToCreate{},
		&models.Job{},
	)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	createIndexes(db)

	logrus.Info("Database migrations completed")
	return nil
}

func createIndexes(db *gorm.DB) {
	indexes := []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_marketplaces_account_code ON marketplaces(account_id, code)",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_listings_marketplace_sku ON listings(marketplace_id, sku)",
		"CREATE INDEX IF NOT EXISTS idx_listings_account_asin ON listings(account_id, asin)",
		"CREATE INDEX IF NOT EXISTS idx_offer_notifications_pending ON offer_notifications(processed, created_at)",
		"CREATE INDEX IF NOT EXISTS idx_feed_requests_pending ON feed_requests(launched, created_at)",
		"CREATE INDEX IF NOT EXISTS idx_jobs_claim ON jobs(state, priority, not_before)",
		"CREATE INDEX IF NOT EXISTS idx_purchase_lines_product_state ON purchase_lines(product_id, state, date_planned)",
	}

	for _, index := range indexes {
		if err := db.Exec(index).Error; err != nil {
			logrus.WithError(err).WithField("index", index).Warn("Failed to create index")
		}
	}
}

// SeedInitialData creates the configured account, its first marketplace and
// an admin operator on an empty database.
func SeedInitialData(db *gorm.DB, cfg config.SeedConfig, defaultFeePercent float64) error {
	if !cfg.Enabled {
		return nil
	}

	var count int64
	if err := db.Model(&models.Account{}).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to count accounts: %w", err)
	}
	if count > 0 {
		return nil
	}
	if cfg.SellerID == "" {
		logrus.Warn("SEED_SELLER_ID is empty, skipping initial data")
		return nil
	}

	return WithTransaction(db, func(tx *gorm.DB) error {
		account := &models.Account{
			Name:              cfg.AccountName,
			SellerID:          cfg.SellerID,
			MarketplaceCodes:  pq.StringArray{cfg.MarketplaceCode},
			StockSync:         true,
			StepType:          models.StepTypePrice,
			DefaultFeePercent: decimal.NewNullDecimal(decimal.NewFromFloat(defaultFeePercent)),
		}
		if err := tx.Create(account).Error; err != nil {
			return fmt.Errorf("failed to create account: %w", err)
		}

		marketplace := &models.Marketplace{
			AccountID:        account.ID,
			Code:             cfg.MarketplaceCode,
			Country:          cfg.Country,
			Currency:         cfg.Currency,
			DecimalSeparator: ".",
		}
		if err := tx.Create(marketplace).Error; err != nil {
			return fmt.Errorf("failed to create marketplace: %w", err)
		}

		if cfg.OperatorPassword == "" {
			logrus.Warn("SEED_OPERATOR_PASSWORD is empty, no operator created")
			return nil
		}
		operator := &models.Operator{
			AccountID: account.ID,
			Username:  cfg.OperatorUsername,
			Role:      models.OperatorRoleAdmin,
		}
		if err := operator.SetPassword(cfg.OperatorPassword); err != nil {
			return fmt.Errorf("failed to set operator password: %w", err)
		}
		if err := tx.Create(operator).Error; err != nil {
			return fmt.Errorf("failed to create operator: %w", err)
		}

		logrus.WithFields(logrus.Fields{
			"account":  account.Name,
			"operator": operator.Username,
		}).Info("Initial data seeded")
		return nil
	})
}

func WithTransaction(db *gorm.DB, fn func(*gorm.DB) error) error {
	tx := db.Begin()
	if tx.Error != nil {
		return tx.Error
	}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}
