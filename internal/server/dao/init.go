package dao

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Kshitijknk07/CicadaCI/internal/common"
	"github.com/Kshitijknk07/CicadaCI/internal/server/model"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var db *gorm.DB

// Init opens the catalog database selected by cfg.DBDriver and migrates it.
func Init(cfg common.Config) error {
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)
		dialector = mysql.Open(dsn)
	case "sqlite", "":
		if dir := filepath.Dir(cfg.SQLitePath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		dialector = sqlite.Open(cfg.SQLitePath)
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}

	database, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("open %s database: %w", cfg.DBDriver, err)
	}
	return Setup(database)
}

// Setup migrates database and makes it the one every DAO uses.
func Setup(database *gorm.DB) error {
	if err := database.AutoMigrate(&model.Pipeline{}, &model.PipelineVersion{}, &model.User{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	db = database
	return nil
}
