package data

import (
	"fmt"
	"time"

	"cortex/pkg/cache"

	"github.com/go-kratos/kratos/v2/log"
	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DBConfig 数据库连接参数
type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Data 数据访问层
type Data struct {
	db    *gorm.DB
	cache cache.Cache
}

// NewDB 建立Postgres连接
func NewDB(cfg DBConfig) (*gorm.DB, error) {
	// DriverName固定走lib/pq，唯一冲突按*pq.Error识别
	db, err := gorm.Open(postgres.New(postgres.Config{
		DriverName: "postgres",
		DSN:        cfg.DSN,
	}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return db, nil
}

// Migrate 建控制表
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&CollectionPO{}, &ProviderPO{})
}

// NewData 创建Data实例
// cache可为nil，schema读取退化为直连数据库
func NewData(db *gorm.DB, c cache.Cache, logger log.Logger) (*Data, func(), error) {
	cleanup := func() {
		log.NewHelper(logger).Info("closing the data resources")
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
		if c != nil {
			c.Close()
		}
	}
	return &Data{db: db, cache: c}, cleanup, nil
}
