// Package database holds the TimescaleDB client used by the optional
// readings archive.
package database

import (
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pajenicko/explora-gateway/internal/log"
	"go.uber.org/zap"
)

// Client holds the connection to a TimescaleDB database
type Client struct {
	dsn string
	DB  *gorm.DB // Exported so it can be accessed from other packages
}

// NewClient creates a new database client
func NewClient(dsn string) *Client {
	return &Client{dsn: dsn}
}

// Connect connects to the TimescaleDB database and ensures the readings
// table exists.
func (c *Client) Connect() error {
	var err error

	// Create a logger for gorm
	dbLogger := logger.New(
		zap.NewStdLog(log.GetZapLogger()),
		logger.Config{
			SlowThreshold:             time.Second, // Slow SQL threshold
			LogLevel:                  logger.Warn, // Log level
			IgnoreRecordNotFoundError: true,        // Ignore ErrRecordNotFound error for logger
			Colorful:                  true,        // Use colors
		},
	)

	config := &gorm.Config{
		Logger: dbLogger,
	}

	log.Info("connecting to TimescaleDB...")
	c.DB, err = gorm.Open(postgres.Open(c.dsn), config)
	if err != nil {
		log.Warn("warning: unable to create a TimescaleDB connection:", err)
		return err
	}

	if err := c.DB.AutoMigrate(&ArchivedReading{}); err != nil {
		log.Warn("warning: unable to migrate readings table:", err)
		return err
	}

	log.Info("TimescaleDB connection successful")
	return nil
}

// SaveReading inserts one archived reading.
func (c *Client) SaveReading(r *ArchivedReading) error {
	return c.DB.Create(r).Error
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	sqlDB, err := c.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
