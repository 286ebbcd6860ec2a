package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"recruit-radar/internal/model"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// ErrNotFound 表示按 idx 查询的公告不存在。
var ErrNotFound = errors.New("job not found")

// Config 定义数据库配置，Driver 支持 sqlite 与 postgres。
type Config struct {
	Driver string `yaml:"driver" json:"driver"`
	Path   string `yaml:"path" json:"path"`
	DSN    string `yaml:"dsn" json:"-"`
}

// Store 封装 gorm 数据库访问，负责公告的写入、查询与删除。
type Store struct {
	db *gorm.DB
}

// WriteOp 描述一次写入的类型。
type WriteOp int

const (
	// OpUpsert 全字段写入，已存在则覆盖（created_at 除外）。
	OpUpsert WriteOp = iota
	// OpUpdateAttachments 只更新 attachments 与 updated_at。
	OpUpdateAttachments
	// OpDelete 按 idx 删除。
	OpDelete
)

func (o WriteOp) String() string {
	switch o {
	case OpUpsert:
		return "upsert"
	case OpUpdateAttachments:
		return "update_attachments"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Write 是一条待提交的写入。
type Write struct {
	Op  WriteOp
	Job model.Job
}

// JobQueryOptions 提供公告查询过滤条件。
type JobQueryOptions struct {
	Limit          int
	Since          string // reg_date 下限（含），YYYY-MM-DD
	Search         string
	EmploymentType string
	ActiveOnly     bool
}

// upsertColumns 为冲突时覆盖的列，created_at 保持首次写入值。
var upsertColumns = []string{
	"title",
	"dept_name",
	"work_region",
	"employment_type",
	"recruit_type",
	"recruit_num",
	"ncs_category",
	"work_field",
	"education",
	"salary_info",
	"preference",
	"detail_content",
	"src_url",
	"reg_date",
	"end_date",
	"recruit_period",
	"status",
	"source",
	"attachments",
	"raw_payload",
	"updated_at",
}

// distinctColumns 限定 DistinctValues 可查询的列。
var distinctColumns = map[string]struct{}{
	"dept_name":       {},
	"employment_type": {},
	"work_region":     {},
	"recruit_type":    {},
}

// NewStore 使用 SQLite 文件创建 Store。
func NewStore(dbPath string) (*Store, error) {
	return Open(Config{Driver: "sqlite", Path: dbPath})
}

// Open 根据配置打开数据库并自动迁移数据表。
func Open(cfg Config) (*Store, error) {
	gcfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}

	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite":
		path := cfg.Path
		if path == "" {
			path = "data/jobs.db"
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
		dialector = sqlite.Open(path)
	case "postgres", "postgresql":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("open postgres: empty dsn")
		}
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, gcfg)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialector.Name(), err)
	}

	if err := db.AutoMigrate(&model.Job{}, &model.RunLease{}); err != nil {
		return nil, fmt.Errorf("auto migrate models: %w", err)
	}

	return &Store{db: db}, nil
}

// Close 关闭底层数据库连接。
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get sql DB: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("close db: %w", err)
	}
	return nil
}

// Ping 检查数据库连接。
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get sql DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// ListIdentifiers 只读取 idx 列，用于构建去重缓存。
func (s *Store) ListIdentifiers(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&model.Job{}).Pluck("idx", &ids).Error; err != nil {
		return nil, fmt.Errorf("list identifiers: %w", err)
	}
	return ids, nil
}

// GetJob 根据 idx 获取公告，不存在时返回 ErrNotFound。
func (s *Store) GetJob(ctx context.Context, idx string) (*model.Job, error) {
	var job model.Job
	if err := s.db.WithContext(ctx).First(&job, "idx = ?", idx).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &job, nil
}

// NeedsAttachmentUpdate 通过单点读取判断已存公告是否需要重新采集附件。
func (s *Store) NeedsAttachmentUpdate(ctx context.Context, idx string) (bool, error) {
	var job model.Job
	err := s.db.WithContext(ctx).
		Select("idx", "attachments").
		First(&job, "idx = ?", idx).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("read attachments: %w", err)
	}
	return job.NeedsAttachmentUpdate(), nil
}

// ApplyBatch 在单个事务中提交一组写入，任何一条失败则整体回滚。
func (s *Store) ApplyBatch(ctx context.Context, writes []Write) error {
	if len(writes) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, w := range writes {
			if err := applyWrite(tx, w); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply batch of %d: %w", len(writes), err)
	}
	return nil
}

// Apply 单条提交，用于批量失败后的逐条降级。
func (s *Store) Apply(ctx context.Context, w Write) error {
	return applyWrite(s.db.WithContext(ctx), w)
}

func applyWrite(db *gorm.DB, w Write) error {
	job := w.Job
	switch w.Op {
	case OpUpsert:
		if job.IDX == "" {
			return fmt.Errorf("upsert: empty idx")
		}
		tx := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "idx"}},
			DoUpdates: clause.AssignmentColumns(upsertColumns),
		}).Create(&job)
		if tx.Error != nil {
			return fmt.Errorf("upsert job %s: %w", job.IDX, tx.Error)
		}
	case OpUpdateAttachments:
		tx := db.Model(&model.Job{}).
			Where("idx = ?", job.IDX).
			Select("attachments", "updated_at").
			Updates(&model.Job{Attachments: job.Attachments, UpdatedAt: time.Now()})
		if tx.Error != nil {
			return fmt.Errorf("update attachments %s: %w", job.IDX, tx.Error)
		}
		if tx.RowsAffected == 0 {
			return fmt.Errorf("update attachments %s: %w", job.IDX, ErrNotFound)
		}
	case OpDelete:
		if err := db.Where("idx = ?", job.IDX).Delete(&model.Job{}).Error; err != nil {
			return fmt.Errorf("delete job %s: %w", job.IDX, err)
		}
	default:
		return fmt.Errorf("unknown write op %d", w.Op)
	}
	return nil
}

// ListIdentifiersBefore 返回 reg_date 早于 cutoff 的公告 idx，reg_date 为空的不参与。
func (s *Store) ListIdentifiersBefore(ctx context.Context, cutoff string) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&model.Job{}).
		Where("reg_date <> '' AND reg_date < ?", cutoff).
		Order("reg_date ASC").
		Pluck("idx", &ids).Error; err != nil {
		return nil, fmt.Errorf("list expired identifiers: %w", err)
	}
	return ids, nil
}

// ListJobs 返回按 reg_date 倒序的公告列表。
func (s *Store) ListJobs(ctx context.Context, opts JobQueryOptions) ([]model.Job, error) {
	var jobs []model.Job
	query := applyJobFilters(s.db.WithContext(ctx).Model(&model.Job{}), opts).
		Order("reg_date DESC").
		Order("idx DESC")
	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}
	if err := query.Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// ListNeedingAttachments 返回附件信息不完整的公告，最新的优先。
// 附件状态存放在 JSON 列中，按 reg_date 倒序分页扫描后在内存中判断。
func (s *Store) ListNeedingAttachments(ctx context.Context, limit int) ([]model.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	const pageSize = 200

	var out []model.Job
	for offset := 0; len(out) < limit; offset += pageSize {
		var page []model.Job
		if err := s.db.WithContext(ctx).Model(&model.Job{}).
			Select("idx", "title", "dept_name", "reg_date", "attachments").
			Order("reg_date DESC").
			Order("idx DESC").
			Offset(offset).
			Limit(pageSize).
			Find(&page).Error; err != nil {
			return nil, fmt.Errorf("list jobs needing attachments: %w", err)
		}
		for _, job := range page {
			if job.NeedsAttachmentUpdate() {
				out = append(out, job)
				if len(out) >= limit {
					break
				}
			}
		}
		if len(page) < pageSize {
			break
		}
	}
	return out, nil
}

// CountJobs 返回公告总数。
func (s *Store) CountJobs(ctx context.Context) (int64, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&model.Job{}).Count(&total).Error; err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return total, nil
}

// DistinctValues 返回指定列的去重非空值，按字典序排列。
func (s *Store) DistinctValues(ctx context.Context, column string) ([]string, error) {
	if _, ok := distinctColumns[column]; !ok {
		return nil, fmt.Errorf("distinct values: unsupported column %q", column)
	}
	var values []string
	if err := s.db.WithContext(ctx).Model(&model.Job{}).
		Where(column+" <> ''").
		Distinct(column).
		Order(column+" ASC").
		Pluck(column, &values).Error; err != nil {
		return nil, fmt.Errorf("distinct %s: %w", column, err)
	}
	return values, nil
}

// AcquireLease 尝试获取命名租约。租约不存在、已过期或本就属于 owner 时成功。
func (s *Store) AcquireLease(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	now := time.Now()
	acquired := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		create := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&model.RunLease{Name: name, Owner: owner, ExpiresAt: now.Add(ttl)})
		if create.Error != nil {
			return create.Error
		}
		if create.RowsAffected == 1 {
			acquired = true
			return nil
		}
		upd := tx.Model(&model.RunLease{}).
			Where("name = ? AND (expires_at < ? OR owner = ?)", name, now, owner).
			Updates(map[string]any{"owner": owner, "expires_at": now.Add(ttl)})
		if upd.Error != nil {
			return upd.Error
		}
		acquired = upd.RowsAffected == 1
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", name, err)
	}
	return acquired, nil
}

// ReleaseLease 释放 owner 持有的租约。
func (s *Store) ReleaseLease(ctx context.Context, name, owner string) error {
	if err := s.db.WithContext(ctx).
		Where("name = ? AND owner = ?", name, owner).
		Delete(&model.RunLease{}).Error; err != nil {
		return fmt.Errorf("release lease %s: %w", name, err)
	}
	return nil
}

func applyJobFilters(db *gorm.DB, opts JobQueryOptions) *gorm.DB {
	if opts.Since != "" {
		db = db.Where("reg_date <> '' AND reg_date >= ?", opts.Since)
	}
	if search := strings.TrimSpace(opts.Search); search != "" {
		pattern := "%" + escapeLike(search) + "%"
		db = db.Where("(title LIKE ? ESCAPE '\\' OR dept_name LIKE ? ESCAPE '\\')", pattern, pattern)
	}
	if opts.EmploymentType != "" {
		db = db.Where("employment_type = ?", opts.EmploymentType)
	}
	if opts.ActiveOnly {
		db = db.Where("status = ?", model.StatusActive)
	}
	return db
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
