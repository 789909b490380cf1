package models

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"LongVideoAssistant/config"

	_ "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// PushChunkSize 每个事务内的语句条数
const PushChunkSize = 10

var DB *sql.DB
var GormDB *gorm.DB

// ProjectRow 远端 projects 表，data 为完整的项目 JSON
type ProjectRow struct {
	ID        string         `gorm:"primaryKey;type:varchar(64)"`
	Title     string         `gorm:"type:varchar(255)"`
	Status    string         `gorm:"type:varchar(32)"`
	CreatedAt int64          `gorm:"autoCreateTime:false"`
	UpdatedAt int64          `gorm:"autoUpdateTime:false"`
	Data      datatypes.JSON `gorm:"type:json"`
}

func (ProjectRow) TableName() string { return "projects" }

type InspirationRow struct {
	ID        string         `gorm:"primaryKey;type:varchar(64)"`
	Category  string         `gorm:"type:varchar(128)"`
	CreatedAt int64          `gorm:"autoCreateTime:false"`
	Data      datatypes.JSON `gorm:"type:json"`
}

func (InspirationRow) TableName() string { return "inspirations" }

type PromptRow struct {
	ID   string         `gorm:"primaryKey;type:varchar(64)"`
	Data datatypes.JSON `gorm:"type:json"`
}

func (PromptRow) TableName() string { return "prompts" }

type ToolRow struct {
	ID   string         `gorm:"primaryKey;type:varchar(64)"`
	Data datatypes.JSON `gorm:"type:json"`
}

func (ToolRow) TableName() string { return "tools" }

// OpenDB 按驱动打开远端表存储：mysql 用于生产，sqlite 用于单机与测试
func OpenDB(driver, dsn string) (*gorm.DB, *sql.DB, error) {
	gcfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}
	switch driver {
	case "mysql":
		db, err := sql.Open("mysql", dsn)
		if err != nil {
			return nil, nil, errors.Wrap(err, "打开数据库失败")
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)
		if err := db.Ping(); err != nil {
			return nil, nil, errors.Wrap(err, "连接数据库失败")
		}
		gdb, err := gorm.Open(mysql.New(mysql.Config{Conn: db}), gcfg)
		if err != nil {
			return nil, nil, errors.Wrap(err, "GORM 初始化失败")
		}
		return gdb, db, nil
	case "sqlite", "":
		if dir := filepath.Dir(dsn); dsn != ":memory:" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, errors.Wrap(err, "创建数据目录失败")
			}
		}
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, nil, errors.Wrap(err, "打开数据库失败")
		}
		// sqlite 单连接，避免 database is locked
		db.SetMaxOpenConns(1)
		gdb, err := gorm.Open(sqlite.New(sqlite.Config{Conn: db}), gcfg)
		if err != nil {
			return nil, nil, errors.Wrap(err, "GORM 初始化失败")
		}
		return gdb, db, nil
	default:
		return nil, nil, fmt.Errorf("不支持的数据库驱动: %s", driver)
	}
}

// InitDB 使用全局配置初始化 DB / GormDB 并建表
func InitDB() error {
	if config.AppConfig == nil {
		return errors.New("config.AppConfig is nil, call config.InitConfig first")
	}
	gdb, db, err := OpenDB(config.AppConfig.Database.Driver, config.AppConfig.Database.DSN)
	if err != nil {
		return err
	}
	DB = db
	GormDB = gdb
	return EnsureTables(GormDB)
}

// EnsureTables 缺表时建表，可重复调用
func EnsureTables(db *gorm.DB) error {
	m := db.Migrator()
	for _, model := range []interface{}{&ProjectRow{}, &InspirationRow{}, &PromptRow{}, &ToolRow{}} {
		if m.HasTable(model) {
			continue
		}
		if err := m.CreateTable(model); err != nil {
			return errors.Wrapf(err, "建表失败 %T", model)
		}
	}
	return nil
}

type statement func(tx *gorm.DB) error

// ApplyPush 将推送内容转为 upsert 语句，每 PushChunkSize 条一个事务执行。
// 任一分片失败立即返回，之前已提交的分片保留
func ApplyPush(db *gorm.DB, bundle SyncBundle) error {
	stmts, err := pushStatements(bundle)
	if err != nil {
		return err
	}
	for start := 0; start < len(stmts); start += PushChunkSize {
		end := start + PushChunkSize
		if end > len(stmts) {
			end = len(stmts)
		}
		chunk := stmts[start:end]
		err := db.Transaction(func(tx *gorm.DB) error {
			for _, s := range chunk {
				if err := s(tx); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return errors.Wrapf(err, "写入分片 %d-%d 失败", start, end)
		}
	}
	return nil
}

func pushStatements(bundle SyncBundle) ([]statement, error) {
	var stmts []statement
	for _, p := range bundle.Projects {
		data, err := json.Marshal(p)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		row := ProjectRow{ID: p.ID, Title: p.Title, Status: p.Status, CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt, Data: datatypes.JSON(data)}
		stmts = append(stmts, func(tx *gorm.DB) error {
			// created_at 只在首次插入时写入
			return errors.WithStack(tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{"title", "status", "updated_at", "data"}),
			}).Create(&row).Error)
		})
	}
	for _, insp := range bundle.Inspirations {
		insp = insp.Normalize()
		data, err := json.Marshal(insp)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		row := InspirationRow{ID: insp.ID, Category: insp.Category, CreatedAt: insp.CreatedAt, Data: datatypes.JSON(data)}
		stmts = append(stmts, func(tx *gorm.DB) error {
			return errors.WithStack(tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{"category", "data"}),
			}).Create(&row).Error)
		})
	}
	if bundle.Prompts != nil {
		data, err := json.Marshal(bundle.Prompts)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		row := PromptRow{ID: GlobalPromptsID, Data: datatypes.JSON(data)}
		stmts = append(stmts, func(tx *gorm.DB) error {
			return errors.WithStack(tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{"data"}),
			}).Create(&row).Error)
		})
	}
	for _, t := range bundle.Tools {
		data := []byte(t.Data)
		if len(data) == 0 {
			data = []byte("null")
		}
		row := ToolRow{ID: t.ID, Data: datatypes.JSON(data)}
		stmts = append(stmts, func(tx *gorm.DB) error {
			return errors.WithStack(tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{"data"}),
			}).Create(&row).Error)
		})
	}
	return stmts, nil
}

// Pull 读取四张表的全部内容
func Pull(db *gorm.DB) (PullResponse, error) {
	resp := PullResponse{Projects: []Project{}, Inspirations: []Inspiration{}, Tools: []ToolRecord{}}

	var projects []ProjectRow
	if err := db.Order("updated_at DESC").Find(&projects).Error; err != nil {
		return resp, errors.Wrap(err, "查询 projects 失败")
	}
	for _, r := range projects {
		p, err := DecodeProject(r.Data)
		if err != nil {
			return resp, errors.Wrapf(err, "项目 %s 数据损坏", r.ID)
		}
		resp.Projects = append(resp.Projects, p)
	}

	var insps []InspirationRow
	if err := db.Order("created_at DESC").Find(&insps).Error; err != nil {
		return resp, errors.Wrap(err, "查询 inspirations 失败")
	}
	for _, r := range insps {
		var i Inspiration
		if err := json.Unmarshal(r.Data, &i); err != nil {
			return resp, errors.Wrapf(err, "灵感 %s 数据损坏", r.ID)
		}
		resp.Inspirations = append(resp.Inspirations, i)
	}

	var prompt PromptRow
	err := db.Where("id = ?", GlobalPromptsID).Take(&prompt).Error
	switch {
	case err == nil:
		b, err := DecodePromptBundle(prompt.Data)
		if err != nil {
			return resp, errors.Wrap(err, "提示词数据损坏")
		}
		resp.Prompts = b
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return resp, errors.Wrap(err, "查询 prompts 失败")
	}

	var tools []ToolRow
	if err := db.Find(&tools).Error; err != nil {
		return resp, errors.Wrap(err, "查询 tools 失败")
	}
	for _, r := range tools {
		resp.Tools = append(resp.Tools, ToolRecord{ID: r.ID, Data: json.RawMessage(r.Data)})
	}
	return resp, nil
}

// GetProjectRow 单项目查询，不存在时 found 为 false
func GetProjectRow(db *gorm.DB, id string) (p Project, found bool, err error) {
	var row ProjectRow
	err = db.Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return p, false, nil
	}
	if err != nil {
		return p, false, errors.Wrap(err, "查询项目失败")
	}
	p, err = DecodeProject(row.Data)
	if err != nil {
		return p, false, errors.Wrapf(err, "项目 %s 数据损坏", id)
	}
	return p, true, nil
}

func DeleteProjectRow(db *gorm.DB, id string) error {
	return errors.WithStack(db.Where("id = ?", id).Delete(&ProjectRow{}).Error)
}

func DeleteInspirationRow(db *gorm.DB, id string) error {
	return errors.WithStack(db.Where("id = ?", id).Delete(&InspirationRow{}).Error)
}

// GetToolData 返回工具的 data 列，不存在时返回 nil
func GetToolData(db *gorm.DB, id string) (json.RawMessage, error) {
	var row ToolRow
	err := db.Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "查询工具失败")
	}
	return json.RawMessage(row.Data), nil
}
