// Package cache 把合成结果按（声种, 速度, 文本）缓存在 SQLite 中。
//
// AquesTalk 对同一输入的输出是确定的，命中缓存时无需再调用原生库。
// 缓存总大小超过上限时，按 last_used 从旧到新淘汰。
package cache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/iabetor/aquestalk/internal/database"
	"github.com/iabetor/aquestalk/internal/logger"
)

// Key 计算缓存键。
func Key(voice string, speed int, text string) string {
	h := sha256.New()
	h.Write([]byte(voice))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(speed)))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// Entry 是一条缓存记录的元数据。
type Entry struct {
	Key      string
	Voice    string
	Speed    int
	Text     string
	Size     int64
	Hits     int64
	Created  time.Time
	LastUsed time.Time
}

// Stats 缓存统计。
type Stats struct {
	Entries   int64
	TotalSize int64
	MaxSize   int64
}

// Cache 是合成结果缓存。maxSize 为 0 时缓存被禁用。
type Cache struct {
	mu      sync.Mutex
	db      *database.DB
	maxSize int64
	now     func() time.Time
}

// New 创建缓存。db 为 nil 或 maxSizeMB 为 0 时返回一个禁用的缓存。
func New(db *database.DB, maxSizeMB int64) *Cache {
	c := &Cache{db: db, now: time.Now}
	if db != nil && maxSizeMB > 0 {
		c.maxSize = maxSizeMB * 1024 * 1024
	}
	return c
}

// Enabled 返回缓存是否启用。
func (c *Cache) Enabled() bool {
	return c.db != nil && c.maxSize > 0
}

// Get 查找缓存，命中时更新 last_used 和命中次数。
func (c *Cache) Get(voice string, speed int, text string) ([]byte, bool, error) {
	if !c.Enabled() {
		return nil, false, nil
	}
	key := Key(voice, speed, text)

	c.mu.Lock()
	defer c.mu.Unlock()

	var data []byte
	err := c.db.QueryRow("SELECT data FROM waves WHERE key = ?", key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("查询缓存失败: %w", err)
	}

	if _, err := c.db.Exec("UPDATE waves SET last_used = ?, hits = hits + 1 WHERE key = ?",
		c.now().UnixNano(), key); err != nil {
		logger.Warnf("[cache] 更新使用时间失败: %v", err)
	}
	return data, true, nil
}

// Put 写入缓存并在超出上限时淘汰旧条目。单条数据超过上限时不缓存。
func (c *Cache) Put(voice string, speed int, text string, data []byte) error {
	if !c.Enabled() {
		return nil
	}
	size := int64(len(data))
	if size > c.maxSize {
		logger.Debugf("[cache] 数据 %d 字节超过上限 %d，不缓存", size, c.maxSize)
		return nil
	}
	key := Key(voice, speed, text)
	now := c.now().UnixNano()

	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.Exec(`INSERT INTO waves (key, voice, speed, text, data, size, created_at, last_used)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET data = excluded.data, size = excluded.size, last_used = excluded.last_used`,
		key, voice, speed, text, data, size, now, now)
	if err != nil {
		return fmt.Errorf("写入缓存失败: %w", err)
	}

	return c.evictLocked()
}

// Delete 删除一条缓存，返回是否存在。
func (c *Cache) Delete(voice string, speed int, text string) (bool, error) {
	if !c.Enabled() {
		return false, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.Exec("DELETE FROM waves WHERE key = ?", Key(voice, speed, text))
	if err != nil {
		return false, fmt.Errorf("删除缓存失败: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Purge 删除全部缓存（voice 非空时只删除该声种），返回删除条数。
func (c *Cache) Purge(voice string) (int64, error) {
	if !c.Enabled() {
		return 0, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		res sql.Result
		err error
	)
	if voice == "" {
		res, err = c.db.Exec("DELETE FROM waves")
	} else {
		res, err = c.db.Exec("DELETE FROM waves WHERE voice = ?", voice)
	}
	if err != nil {
		return 0, fmt.Errorf("清空缓存失败: %w", err)
	}
	n, _ := res.RowsAffected()
	logger.Infof("[cache] 已清除 %d 条缓存", n)
	return n, nil
}

// List 按最近使用时间倒序列出缓存条目（不含音频数据）。
func (c *Cache) List(limit int) ([]Entry, error) {
	if !c.Enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.db.Query(`SELECT key, voice, speed, text, size, hits, created_at, last_used
		FROM waves ORDER BY last_used DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("列出缓存失败: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                 Entry
			created, lastUsed int64
		)
		if err := rows.Scan(&e.Key, &e.Voice, &e.Speed, &e.Text, &e.Size, &e.Hits, &created, &lastUsed); err != nil {
			return nil, fmt.Errorf("读取缓存条目失败: %w", err)
		}
		e.Created = time.Unix(0, created)
		e.LastUsed = time.Unix(0, lastUsed)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Stats 返回缓存统计。
func (c *Cache) Stats() (Stats, error) {
	s := Stats{MaxSize: c.maxSize}
	if !c.Enabled() {
		return s, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.db.QueryRow("SELECT COUNT(*), COALESCE(SUM(size), 0) FROM waves").Scan(&s.Entries, &s.TotalSize)
	if err != nil {
		return s, fmt.Errorf("统计缓存失败: %w", err)
	}
	return s, nil
}

// evictLocked 总大小超过上限时按 last_used 升序淘汰（调用方需持有锁）。
func (c *Cache) evictLocked() error {
	var total int64
	if err := c.db.QueryRow("SELECT COALESCE(SUM(size), 0) FROM waves").Scan(&total); err != nil {
		return fmt.Errorf("统计缓存大小失败: %w", err)
	}
	if total <= c.maxSize {
		return nil
	}

	rows, err := c.db.Query("SELECT key, size FROM waves ORDER BY last_used ASC, created_at ASC")
	if err != nil {
		return fmt.Errorf("查询淘汰候选失败: %w", err)
	}
	var victims []string
	for rows.Next() && total > c.maxSize {
		var (
			key  string
			size int64
		)
		if err := rows.Scan(&key, &size); err != nil {
			rows.Close()
			return fmt.Errorf("读取淘汰候选失败: %w", err)
		}
		victims = append(victims, key)
		total -= size
	}
	rows.Close()

	for _, key := range victims {
		if _, err := c.db.Exec("DELETE FROM waves WHERE key = ?", key); err != nil {
			return fmt.Errorf("淘汰缓存失败: %w", err)
		}
	}
	if len(victims) > 0 {
		logger.Infof("[cache] LRU 淘汰 %d 条，剩余 %d 字节", len(victims), total)
	}
	return nil
}
