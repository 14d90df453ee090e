package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/iabetor/aquestalk/internal/logger"
)

// FileName 是数据目录下的数据库文件名。
const FileName = "aquestalk.db"

// DB 是 aquestalk 的 SQLite 数据库连接。
type DB struct {
	*sql.DB
	path string
}

// Open 打开或创建 dataDir 下的数据库。
func Open(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	dbPath := filepath.Join(dataDir, FileName)
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	// 写操作由缓存串行完成，单连接避免 SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("设置 WAL 模式失败: %w", err)
	}

	logger.Infof("[database] 数据库已打开: %s", dbPath)

	d := &DB{DB: db, path: dbPath}
	if err := d.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// Path 返回数据库文件路径。
func (db *DB) Path() string {
	return db.path
}

// Migrate 创建表和索引，可重复执行。
func (db *DB) Migrate() error {
	migrations := []string{
		// 合成结果缓存
		`CREATE TABLE IF NOT EXISTS waves (
			key TEXT PRIMARY KEY,
			voice TEXT NOT NULL,
			speed INTEGER NOT NULL,
			text TEXT NOT NULL,
			data BLOB NOT NULL,
			size INTEGER NOT NULL,
			hits INTEGER DEFAULT 0,
			created_at INTEGER NOT NULL,
			last_used INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_waves_last_used ON waves(last_used)`,
		`CREATE INDEX IF NOT EXISTS idx_waves_voice ON waves(voice)`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("数据库迁移失败: %w", err)
		}
	}
	logger.Debugf("[database] 数据库迁移完成")
	return nil
}

// Close 关闭数据库连接。
func (db *DB) Close() error {
	if db.DB != nil {
		return db.DB.Close()
	}
	return nil
}
