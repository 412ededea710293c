// Package relational implements repository.Store on gorm with postgres,
// sqlite or mysql dialects.
package relational

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/deepfake-detector/internal/apperror"
	"github.com/example/deepfake-detector/internal/config"
	"github.com/example/deepfake-detector/internal/model"
	"github.com/example/deepfake-detector/internal/repository"
)

var _ repository.Store = (*Store)(nil)

// Store is the relational backend.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
	retry  *repository.Retrier
}

// Open connects using cfg, applies pool settings, pings and migrates.
func Open(ctx context.Context, cfg config.RelationalConfig, logLevel string, logger *zap.Logger) (*Store, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormLogLevel(logLevel)),
		TranslateError: true,
		NowFunc:        func() time.Time { return model.Timestamp(time.Now()) },
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("access db handle: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	if cfg.Driver == "sqlite" {
		// one writer; also keeps a shared in-memory database on a single connection
		sqlDB.SetMaxOpenConns(1)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	store := New(db, logger)
	if err := store.AutoMigrate(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	logger.Info("relational store ready", zap.String("driver", cfg.Driver))
	return store, nil
}

// New wraps an existing gorm handle.
func New(db *gorm.DB, logger *zap.Logger) *Store {
	logger = logger.Named("relational_store")
	return &Store{db: db, logger: logger, retry: repository.NewRetrier(logger)}
}

func dialectorFor(cfg config.RelationalConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "postgres":
		return postgres.Open(cfg.DSN), nil
	case "mysql":
		return mysql.Open(cfg.DSN), nil
	case "sqlite":
		if dir := sqliteDir(cfg.DSN); dir != "" {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		return sqlite.Open(sqliteDSN(cfg.DSN)), nil
	}
	return nil, fmt.Errorf("unsupported relational driver %q", cfg.Driver)
}

func sqliteDir(dsn string) string {
	if strings.HasPrefix(dsn, "file:") || strings.Contains(dsn, ":memory:") {
		return ""
	}
	path, _, _ := strings.Cut(dsn, "?")
	dir := filepath.Dir(path)
	if dir == "." {
		return ""
	}
	return dir
}

// sqliteDSN enables foreign key enforcement, which SQLite leaves off unless
// each connection asks for it.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys=") || strings.Contains(dsn, "_fk=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=on"
}

func gormLogLevel(level string) gormlogger.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return gormlogger.Info
	case "info", "warn":
		return gormlogger.Warn
	}
	return gormlogger.Error
}

// AutoMigrate ensures the schema is available.
func (s *Store) AutoMigrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&userRecord{}, &detectionRecord{})
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying pool.
func (s *Store) Close(context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var errOwnerMissing = errors.New("owner does not exist")

// CreateDetection inserts d. The foreign key on user_id rejects a missing
// owner atomically, including one deleted concurrently.
func (s *Store) CreateDetection(ctx context.Context, d *model.Detection) error {
	const op = "relational.create_detection"
	rec := detectionFromModel(d)
	return s.retry.DoWrite(ctx, op, d.ID, func(retried bool) error {
		err := s.db.WithContext(ctx).Omit("Owner").Create(&rec).Error
		switch {
		case err == nil:
			return nil
		case errors.Is(err, gorm.ErrForeignKeyViolated):
			return apperror.New(apperror.ErrPersistence, op, "storage operation failed", errOwnerMissing)
		case errors.Is(err, gorm.ErrDuplicatedKey):
			if retried && s.detectionExists(ctx, rec.ID, rec.UserID) {
				return nil
			}
			return apperror.New(apperror.ErrPersistence, op, "storage operation failed", err)
		}
		return err
	})
}

func (s *Store) detectionExists(ctx context.Context, id, userID string) bool {
	var n int64
	err := s.db.WithContext(ctx).Model(&detectionRecord{}).Where("id = ? AND user_id = ?", id, userID).Count(&n).Error
	return err == nil && n > 0
}

// ListDetections returns one page of userID's detections, newest first.
func (s *Store) ListDetections(ctx context.Context, userID string, page, limit int) (*model.DetectionPage, error) {
	const op = "relational.list_detections"
	if !model.ValidPage(page, limit) {
		return nil, apperror.Validation(op, "Invalid pagination parameters")
	}

	var (
		total int64
		recs  []detectionRecord
	)
	err := s.retry.Do(ctx, op, userID, func() error {
		db := s.db.WithContext(ctx)
		if err := db.Model(&detectionRecord{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
			return err
		}
		recs = recs[:0]
		return db.Where("user_id = ?", userID).
			Order("created_at DESC").
			Order("id ASC").
			Offset(model.Offset(page, limit)).
			Limit(limit).
			Find(&recs).Error
	})
	if err != nil {
		return nil, err
	}

	items := make([]model.Detection, 0, len(recs))
	for _, rec := range recs {
		items = append(items, rec.toModel())
	}
	return &model.DetectionPage{
		Items:       items,
		Total:       total,
		Pages:       model.PageCount(total, limit),
		CurrentPage: page,
	}, nil
}

// GetDetection returns the detection when userID owns it.
func (s *Store) GetDetection(ctx context.Context, id, userID string) (*model.Detection, error) {
	const op = "relational.get_detection"
	var rec detectionRecord
	err := s.retry.Do(ctx, op, id, func() error {
		err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperror.NotFound(op, "Detection not found")
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	d := rec.toModel()
	return &d, nil
}

// DeleteDetection removes the detection when userID owns it.
func (s *Store) DeleteDetection(ctx context.Context, id, userID string) error {
	const op = "relational.delete_detection"
	return s.retry.DoWrite(ctx, op, id, func(retried bool) error {
		res := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&detectionRecord{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 && !retried {
			return apperror.NotFound(op, "Detection not found")
		}
		return nil
	})
}

type statsRow struct {
	Total         int64
	RealCount     int64
	DeepfakeCount int64
	AvgConfidence sql.NullFloat64
}

// AggregateDetections computes the stats in a single SQL aggregate.
func (s *Store) AggregateDetections(ctx context.Context, userID string) (*model.DetectionStats, error) {
	const op = "relational.aggregate_detections"
	var row statsRow
	err := s.retry.Do(ctx, op, userID, func() error {
		return s.db.WithContext(ctx).
			Model(&detectionRecord{}).
			Select(`COUNT(*) AS total,
				COALESCE(SUM(CASE WHEN prediction = ? THEN 1 ELSE 0 END), 0) AS real_count,
				COALESCE(SUM(CASE WHEN prediction = ? THEN 1 ELSE 0 END), 0) AS deepfake_count,
				AVG(confidence) AS avg_confidence`,
				string(model.PredictionReal), string(model.PredictionDeepfake)).
			Where("user_id = ? AND prediction IN ?", userID,
				[]string{string(model.PredictionReal), string(model.PredictionDeepfake)}).
			Scan(&row).Error
	})
	if err != nil {
		return nil, err
	}

	stats := &model.DetectionStats{
		Total:         row.Total,
		RealCount:     row.RealCount,
		DeepfakeCount: row.DeepfakeCount,
	}
	if row.Total > 0 && row.AvgConfidence.Valid {
		stats.AverageConfidence = row.AvgConfidence.Float64
	}
	return stats, nil
}

// CreateUser inserts u. Duplicate username or email is a conflict.
func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	const op = "relational.create_user"
	rec := userFromModel(u)
	return s.retry.DoWrite(ctx, op, u.ID, func(retried bool) error {
		err := s.db.WithContext(ctx).Create(&rec).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			if retried && s.userExists(ctx, rec.ID) {
				return nil
			}
			return apperror.Conflict(op, "User already exists")
		}
		return err
	})
}

func (s *Store) userExists(ctx context.Context, id string) bool {
	var n int64
	err := s.db.WithContext(ctx).Model(&userRecord{}).Where("id = ?", id).Count(&n).Error
	return err == nil && n > 0
}

// GetUser loads a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	return s.findUser(ctx, "relational.get_user", "id = ?", id)
}

// FindUserByLogin loads a user by username or email.
func (s *Store) FindUserByLogin(ctx context.Context, login string) (*model.User, error) {
	return s.findUser(ctx, "relational.find_user_by_login", "username = ? OR email = ?", login, login)
}

func (s *Store) findUser(ctx context.Context, op, query string, args ...any) (*model.User, error) {
	var rec userRecord
	err := s.retry.Do(ctx, op, "", func() error {
		err := s.db.WithContext(ctx).Where(query, args...).First(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperror.NotFound(op, "User not found")
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	u := rec.toModel()
	return &u, nil
}

// UpdatePasswordHash replaces the stored hash.
func (s *Store) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	const op = "relational.update_password_hash"
	return s.retry.DoWrite(ctx, op, id, func(retried bool) error {
		res := s.db.WithContext(ctx).Model(&userRecord{}).Where("id = ?", id).Updates(map[string]any{
			"password_hash": hash,
			"updated_at":    model.Timestamp(time.Now()),
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 && !retried {
			return apperror.NotFound(op, "User not found")
		}
		return nil
	})
}

// DeleteUser removes the user and its detections in one transaction and
// returns the storage keys of the removed detections. Keys seen by an attempt
// whose commit outcome is unknown are kept, so a retry never loses them.
func (s *Store) DeleteUser(ctx context.Context, id string) ([]string, error) {
	const op = "relational.delete_user"
	var keys []string
	err := s.retry.DoWrite(ctx, op, id, func(retried bool) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var batch []string
			if err := tx.Model(&detectionRecord{}).Where("user_id = ?", id).Pluck("filename", &batch).Error; err != nil {
				return err
			}
			keys = repository.MergeKeys(keys, batch)
			if err := tx.Where("user_id = ?", id).Delete(&detectionRecord{}).Error; err != nil {
				return err
			}
			res := tx.Where("id = ?", id).Delete(&userRecord{})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 && !retried {
				return apperror.NotFound(op, "User not found")
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// ListUsers pages through all users in creation order.
func (s *Store) ListUsers(ctx context.Context, offset, limit int) ([]model.User, error) {
	const op = "relational.list_users"
	var recs []userRecord
	err := s.retry.Do(ctx, op, "", func() error {
		recs = recs[:0]
		return s.db.WithContext(ctx).Order("created_at ASC").Order("id ASC").Offset(offset).Limit(limit).Find(&recs).Error
	})
	if err != nil {
		return nil, err
	}
	users := make([]model.User, 0, len(recs))
	for _, rec := range recs {
		users = append(users, rec.toModel())
	}
	return users, nil
}
