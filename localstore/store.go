// Package localstore 本地对象存储：按集合存放 JSON 文档的 SQLite 文件，是界面读取的唯一来源
package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"LongVideoAssistant/apperr"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

type Collection string

const (
	Projects     Collection = "projects"
	Inspirations Collection = "inspirations"
	Tools        Collection = "tools"
)

var collections = []Collection{Projects, Inspirations, Tools}

// 文档区的配置键
const (
	DocCustomAPIKey   = "lva_custom_api_key"
	DocLastUploadTime = "lva_last_upload_time"
	DocLastChangeTime = "lva_last_local_change_time"
	DocPrompts        = "lva_prompts"
	DocAuthExpiry     = "lva_auth_expiry"
)

// schemaVersion 记录在 PRAGMA user_version 中。
// v1 只有 projects 与 documents，v2 增加 inspirations 与 tools
const schemaVersion = 2

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

type Store struct {
	db   *sql.DB
	path string
	lock *flock.Flock
}

// Open 打开 dir 下的 store.db，并持有独占文件锁直到 Close
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, unavailable("创建数据目录失败", err)
	}
	lock := flock.New(filepath.Join(dir, "store.lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, unavailable("获取数据目录锁失败", err)
	}
	if !ok {
		return nil, apperr.New(apperr.KindLocalStoreUnavailable, "数据目录已被其他进程占用: "+dir)
	}

	path := filepath.Join(dir, "store.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		_ = lock.Unlock()
		return nil, unavailable("打开本地数据库失败", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			_ = lock.Unlock()
			return nil, unavailable(fmt.Sprintf("设置 %q 失败", pragma), execErr)
		}
	}

	s := &Store{db: db, path: path, lock: lock}
	if err := s.upgrade(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) Close() error {
	err := s.db.Close()
	if uerr := s.lock.Unlock(); err == nil {
		err = uerr
	}
	return err
}

// upgrade 补建缺失的集合，不修改已有数据
func (s *Store) upgrade(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return unavailable("读取本地库版本失败", err)
	}
	if version >= schemaVersion {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("升级本地库失败", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{"CREATE TABLE IF NOT EXISTS documents (key TEXT PRIMARY KEY, value TEXT NOT NULL)"}
	for _, c := range collections {
		stmts = append(stmts, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (id TEXT PRIMARY KEY, data TEXT NOT NULL)", c))
	}
	stmts = append(stmts, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion))
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return unavailable("升级本地库失败", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return unavailable("升级本地库失败", err)
	}
	return nil
}

// Get 按 id 读取，不存在时 found 为 false
func (s *Store) Get(ctx context.Context, c Collection, id string) (data []byte, found bool, err error) {
	if err := checkCollection(c); err != nil {
		return nil, false, err
	}
	err = s.db.QueryRowContext(ensureContext(ctx), fmt.Sprintf("SELECT data FROM %s WHERE id = ?", c), id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("读取本地数据失败", err)
	}
	return data, true, nil
}

// GetAll 读取整个集合，空集合返回空切片
func (s *Store) GetAll(ctx context.Context, c Collection) ([][]byte, error) {
	if err := checkCollection(c); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ensureContext(ctx), fmt.Sprintf("SELECT data FROM %s ORDER BY rowid", c))
	if err != nil {
		return [][]byte{}, unavailable("读取本地数据失败", err)
	}
	defer rows.Close()
	out := [][]byte{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return [][]byte{}, unavailable("读取本地数据失败", err)
		}
		out = append(out, data)
	}
	if err := rows.Err(); err != nil {
		return [][]byte{}, unavailable("读取本地数据失败", err)
	}
	return out, nil
}

// Put 覆盖写入，提交后返回
func (s *Store) Put(ctx context.Context, c Collection, id string, data []byte) error {
	if err := checkCollection(c); err != nil {
		return err
	}
	q := fmt.Sprintf("INSERT INTO %s (id, data) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET data = excluded.data", c)
	return s.exec(ctx, q, id, string(data))
}

// Batch 单个事务内的写入，只在 Update 的回调里有效
type Batch struct {
	ctx context.Context
	tx  *sql.Tx
}

func (b *Batch) Put(c Collection, id string, data []byte) error {
	if err := checkCollection(c); err != nil {
		return err
	}
	if id == "" {
		return apperr.New(apperr.KindValidation, "缺少 id")
	}
	q := fmt.Sprintf("INSERT INTO %s (id, data) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET data = excluded.data", c)
	if _, err := b.tx.ExecContext(b.ctx, q, id, string(data)); err != nil {
		return unavailable("写入本地数据失败", err)
	}
	return nil
}

func (b *Batch) SetDoc(key, value string) error {
	_, err := b.tx.ExecContext(b.ctx, "INSERT INTO documents (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value", key, value)
	if err != nil {
		return unavailable("写入本地配置失败", err)
	}
	return nil
}

// Update 在一个事务里执行 fn；fn 返回错误时整体回滚
func (s *Store) Update(ctx context.Context, fn func(b *Batch) error) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return unavailable("写入本地数据失败", err)
		}
		defer func() { _ = tx.Rollback() }()
		if err := fn(&Batch{ctx: ctx, tx: tx}); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return unavailable("写入本地数据失败", err)
		}
		return nil
	})
}

func (s *Store) Delete(ctx context.Context, c Collection, id string) error {
	if err := checkCollection(c); err != nil {
		return err
	}
	return s.exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", c), id)
}

// GetDoc 读取文档区的字符串值
func (s *Store) GetDoc(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ensureContext(ctx), "SELECT value FROM documents WHERE key = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable("读取本地配置失败", err)
	}
	return v, true, nil
}

func (s *Store) SetDoc(ctx context.Context, key, value string) error {
	return s.exec(ctx, "INSERT INTO documents (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value", key, value)
}

func (s *Store) DeleteDoc(ctx context.Context, key string) error {
	return s.exec(ctx, "DELETE FROM documents WHERE key = ?", key)
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	ctx = ensureContext(ctx)
	err := retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindLocalStoreUnavailable {
			return err
		}
		return unavailable("写入本地数据失败", err)
	}
	return nil
}

func checkCollection(c Collection) error {
	for _, known := range collections {
		if known == c {
			return nil
		}
	}
	return apperr.New(apperr.KindValidation, "未知的集合: "+string(c))
}

func unavailable(msg string, err error) error {
	return apperr.Wrap(apperr.KindLocalStoreUnavailable, msg, err)
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
