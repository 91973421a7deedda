package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/logoforge/logoforge/pkg/config"
)

// ErrRunNotFound is returned when no run exists for a given run id, or
// when the caller is not the run's owner.
var ErrRunNotFound = errors.New("run not found")

// Store provides persistence for API resources.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// User CRUD.
	GetUserByID(ctx context.Context, id uint) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	CreateUser(ctx context.Context, user *User) error

	// Session CRUD.
	CreateSession(ctx context.Context, session *Session) error
	GetSessionByToken(ctx context.Context, token string) (*Session, error)
	UpdateSessionLastActive(ctx context.Context, id uint, t time.Time) error
	DeleteSession(ctx context.Context, token string) error
	DeleteExpiredSessions(ctx context.Context) error

	// Run persistence.
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context, ownerID uint) ([]Run, error)
	ListActiveRuns(ctx context.Context) ([]Run, error)
	MergeRunUpdate(ctx context.Context, runID string, upd RunUpdate) (*Run, error)

	// Seeding from config.
	SeedUsers(ctx context.Context, users []config.BasicAuthUser) error
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB

	// mergeMu serializes run merges within this process. Postgres
	// additionally takes a row lock inside the merge transaction so
	// multi-process deployments keep the same atomicity.
	mergeMu sync.Mutex
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var (
		dialector gorm.Dialector
		err       error
	)

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	s.db, err = gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	if err := s.db.WithContext(ctx).AutoMigrate(
		&User{},
		&Session{},
		&Run{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// --- User CRUD ---

func (s *store) GetUserByID(
	ctx context.Context, id uint,
) (*User, error) {
	var user User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, fmt.Errorf("getting user by id: %w", err)
	}

	return &user, nil
}

func (s *store) GetUserByUsername(
	ctx context.Context, username string,
) (*User, error) {
	var user User
	if err := s.db.WithContext(ctx).
		Where("username = ?", username).
		First(&user).Error; err != nil {
		return nil, fmt.Errorf("getting user by username: %w", err)
	}

	return &user, nil
}

func (s *store) CreateUser(ctx context.Context, user *User) error {
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("creating user: %w", err)
	}

	return nil
}

// --- Session CRUD ---

func (s *store) CreateSession(
	ctx context.Context, session *Session,
) error {
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	return nil
}

func (s *store) GetSessionByToken(
	ctx context.Context, token string,
) (*Session, error) {
	var session Session
	if err := s.db.WithContext(ctx).
		Where("token = ?", token).
		First(&session).Error; err != nil {
		return nil, fmt.Errorf("getting session by token: %w", err)
	}

	return &session, nil
}

func (s *store) UpdateSessionLastActive(
	ctx context.Context, id uint, t time.Time,
) error {
	if err := s.db.WithContext(ctx).
		Model(&Session{}).
		Where("id = ?", id).
		Update("last_active_at", t).Error; err != nil {
		return fmt.Errorf("updating session last active: %w", err)
	}

	return nil
}

func (s *store) DeleteSession(ctx context.Context, token string) error {
	if err := s.db.WithContext(ctx).
		Where("token = ?", token).
		Delete(&Session{}).Error; err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}

	return nil
}

func (s *store) DeleteExpiredSessions(ctx context.Context) error {
	result := s.db.WithContext(ctx).
		Where("expires_at < ?", time.Now().UTC()).
		Delete(&Session{})
	if result.Error != nil {
		return fmt.Errorf("deleting expired sessions: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		s.log.WithField("count", result.RowsAffected).
			Debug("Cleaned up expired sessions")
	}

	return nil
}

// --- Run persistence ---

func (s *store) CreateRun(ctx context.Context, run *Run) error {
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("creating run: %w", err)
	}

	return nil
}

func (s *store) GetRun(ctx context.Context, runID string) (*Run, error) {
	var run Run
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		First(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRunNotFound
		}

		return nil, fmt.Errorf("getting run: %w", err)
	}

	return &run, nil
}

// ListRuns returns all runs for the given owner, newest first.
func (s *store) ListRuns(ctx context.Context, ownerID uint) ([]Run, error) {
	var runs []Run
	if err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	return runs, nil
}

// ListActiveRuns returns every run that has not yet reached a terminal
// status and has no resolved image, oldest first. Used by the
// background watcher to sweep runs whose webhook events were lost.
func (s *store) ListActiveRuns(ctx context.Context) ([]Run, error) {
	var runs []Run
	if err := s.db.WithContext(ctx).
		Where(
			"image_url = '' AND status NOT IN ?",
			[]string{StatusSuccess, StatusFailed, StatusCancelled, StatusTimeout},
		).
		Order("created_at ASC").
		Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing active runs: %w", err)
	}

	return runs, nil
}

// MergeRunUpdate applies a partial update to a run under the state
// invariants: a terminal status is never reverted by a later
// non-terminal event, and a resolved image is never overwritten or
// cleared. All other fields are last-writer-wins. The merge is atomic
// with respect to concurrent callers.
func (s *store) MergeRunUpdate(
	ctx context.Context, runID string, upd RunUpdate,
) (*Run, error) {
	s.mergeMu.Lock()
	defer s.mergeMu.Unlock()

	var run Run

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx
		if s.cfg.Driver == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		if err := q.Where("run_id = ?", runID).
			First(&run).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRunNotFound
			}

			return fmt.Errorf("reading run for merge: %w", err)
		}

		fields := mergeFields(&run, upd)
		if len(fields) == 0 {
			return nil
		}

		if err := tx.Model(&Run{}).
			Where("run_id = ?", runID).
			Updates(fields).Error; err != nil {
			return fmt.Errorf("merging run update: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return &run, nil
}

// mergeFields computes the column updates that respect the run state
// invariants, applies them to run in place, and returns them keyed by
// column name.
func mergeFields(run *Run, upd RunUpdate) map[string]any {
	fields := make(map[string]any, 4)

	// A terminal run only ever accepts a late-arriving image; status,
	// live status, and progress are frozen.
	terminal := run.Terminal()

	if !terminal {
		if upd.Status != nil && *upd.Status != run.Status {
			run.Status = *upd.Status
			fields["status"] = *upd.Status
		}

		if upd.LiveStatus != nil && *upd.LiveStatus != run.LiveStatus {
			run.LiveStatus = *upd.LiveStatus
			fields["live_status"] = *upd.LiveStatus
		}

		if upd.Progress != nil {
			run.Progress = upd.Progress
			fields["progress"] = *upd.Progress
		}
	}

	// Image is write-once regardless of terminal state: a success
	// event may land after the terminal status was recorded.
	if upd.ImageURL != nil && *upd.ImageURL != "" && run.ImageURL == "" {
		run.ImageURL = *upd.ImageURL
		fields["image_url"] = *upd.ImageURL
	}

	return fields
}

// --- Seeding ---

// SeedUsers upserts config-sourced users. Only users with
// source="config" are updated; users created by admins are preserved.
func (s *store) SeedUsers(
	ctx context.Context, users []config.BasicAuthUser,
) error {
	for _, u := range users {
		hash, err := bcrypt.GenerateFromPassword(
			[]byte(u.Password), bcrypt.DefaultCost,
		)
		if err != nil {
			return fmt.Errorf("hashing password for %q: %w", u.Username, err)
		}

		var existing User

		result := s.db.WithContext(ctx).
			Where("username = ? AND source = ?", u.Username, SourceConfig).
			First(&existing)

		if result.Error == nil {
			existing.PasswordHash = string(hash)
			existing.Role = u.Role

			if err := s.db.WithContext(ctx).Save(&existing).Error; err != nil {
				return fmt.Errorf("updating config user %q: %w", u.Username, err)
			}
		} else {
			newUser := User{
				Username:     u.Username,
				PasswordHash: string(hash),
				Role:         u.Role,
				Source:       SourceConfig,
			}

			if err := s.db.WithContext(ctx).
				Where("username = ?", u.Username).
				FirstOrCreate(&newUser).Error; err != nil {
				return fmt.Errorf("seeding config user %q: %w", u.Username, err)
			}
		}
	}

	s.log.WithField("count", len(users)).
		Info("Seeded users from config")

	return nil
}
