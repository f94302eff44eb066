package db

import (
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/zulandar/mailslot/internal/config"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MySQLDSN builds a DSN for a MySQL-compatible server.
func MySQLDSN(c config.MySQLConfig) string {
	mc := mysql.NewConfig()
	mc.User = c.User
	mc.Passwd = c.Password
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", c.Host, c.Port)
	mc.DBName = c.Database
	mc.ParseTime = true
	return mc.FormatDSN()
}

// SQLiteDSN appends a busy timeout to a SQLite path so concurrent writers
// wait for the lock instead of failing immediately.
func SQLiteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_busy_timeout=5000"
}

// Open opens a GORM connection for the configured SQL driver. The file
// driver is not handled here.
func Open(cfg config.StorageConfig) (*gorm.DB, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		return OpenSQLite(cfg.Path)
	case config.DriverMySQL:
		return ConnectMySQL(cfg.MySQL)
	default:
		return nil, fmt.Errorf("db: driver %q is not a SQL driver", cfg.Driver)
	}
}

// OpenSQLite opens (creating if needed) a SQLite database file. The pool is
// limited to one connection; SQLite serializes writers anyway.
func OpenSQLite(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(SQLiteDSN(path)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: open sqlite %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("db: sqlite pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// ConnectMySQL opens a GORM connection to a MySQL-compatible database.
func ConnectMySQL(c config.MySQLConfig) (*gorm.DB, error) {
	db, err := gorm.Open(gormmysql.Open(MySQLDSN(c)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect to %s:%d/%s: %w", c.Host, c.Port, c.Database, err)
	}
	return db, nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("db: close: %w", err)
	}
	return sqlDB.Close()
}
