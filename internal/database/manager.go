package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/mattn/go-sqlite3"

	dbconfig "rosterbot/pkg/database"
	"rosterbot/pkg/interfaces"
	"rosterbot/pkg/types"
)

const (
	charactersTable  = "characters"
	writeQueueSize   = 100
	writeTimeout     = 30 * time.Second
	writeRetryDelay  = time.Second
	nameMatchNoCase  = "character_name = ? COLLATE NOCASE"
	defaultListLimit = 500
)

var characterColumns = []string{
	"id", "user_id", "user_name", "character_name", "realm", "class",
	"role", "armor", "profile_url", "score", "available", "updated_at",
}

// Manager implements interfaces.CharacterStore on SQLite. Reads run on the
// pool; every write goes through a single writer goroutine.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	logger       *slog.Logger
	qb           sq.StatementBuilderType
	writeChannel chan writeOperation
	writeTimeout time.Duration
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex

	// listMu is the advisory lock shared by listing reads and multi-row
	// writes so a listing never observes half of a bulk update.
	listMu sync.Mutex
}

type writeOperation struct {
	ctx       context.Context
	operation func(context.Context, *sql.DB) error
	result    chan error
}

// NewManager opens the database, applies connection pragmas and starts the
// writer goroutine. Migrations are applied separately by the caller.
func NewManager(config *dbconfig.Config, logger *slog.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := applySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	return newManagerWithDB(db, config, logger), nil
}

func newManagerWithDB(db *sql.DB, config *dbconfig.Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		db:           db,
		config:       config,
		logger:       logger.With("component", "database"),
		qb:           sq.StatementBuilder.PlaceholderFormat(sq.Question),
		writeChannel: make(chan writeOperation, writeQueueSize),
		writeTimeout: writeTimeout,
		shutdown:     make(chan struct{}),
	}
	m.wg.Add(1)
	go m.writeLoop()
	return m
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(op.ctx, m.db)
			if isBusy(err) {
				m.logger.Warn("database busy, retrying write", "delay", writeRetryDelay, "error", err)
				time.Sleep(writeRetryDelay)
				err = op.operation(op.ctx, m.db)
			}
			if err != nil && !isExpectedWriteError(err) {
				m.logger.Error("database write failed", "error", err)
			}
			op.result <- err

		case <-m.shutdown:
			m.logger.Info("database write loop shutting down")
			return
		}
	}
}

func (m *Manager) executeWrite(ctx context.Context, operation func(context.Context, *sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("database manager is closed")
	}
	m.mu.RUnlock()

	timer := time.NewTimer(m.writeTimeout)
	defer timer.Stop()

	result := make(chan error, 1)
	select {
	case m.writeChannel <- writeOperation{ctx: ctx, operation: operation, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("write operation timeout")
	case <-m.shutdown:
		return fmt.Errorf("database manager is shutting down")
	}

	select {
	case err := <-result:
		return err
	case <-m.shutdown:
		return fmt.Errorf("database manager is shutting down")
	}
}

// GetCharacter returns one of userID's characters by name.
func (m *Manager) GetCharacter(ctx context.Context, userID, name string) (*types.Character, error) {
	query, args, err := m.qb.Select(characterColumns...).
		From(charactersTable).
		Where(sq.Eq{"user_id": userID}).
		Where(nameMatchNoCase, name).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	return m.queryOne(ctx, query, args...)
}

// FindCharacterByName returns the character registered under name by any user.
func (m *Manager) FindCharacterByName(ctx context.Context, name string) (*types.Character, error) {
	query, args, err := m.qb.Select(characterColumns...).
		From(charactersTable).
		Where(nameMatchNoCase, name).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	return m.queryOne(ctx, query, args...)
}

// CountCharacters returns how many characters userID has.
func (m *Manager) CountCharacters(ctx context.Context, userID string) (int, error) {
	query, args, err := m.qb.Select("COUNT(*)").
		From(charactersTable).
		Where(sq.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build query: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count characters: %w", err)
	}
	return count, nil
}

// UpsertCharacter inserts c, or overwrites the row userID already has under
// the same name. Replaying the same character is idempotent.
func (m *Manager) UpsertCharacter(ctx context.Context, c *types.Character) (bool, error) {
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}

	var created bool
	err := m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		lookup, args, err := m.qb.Select("id").
			From(charactersTable).
			Where(sq.Eq{"user_id": c.UserID}).
			Where(nameMatchNoCase, c.Name).
			ToSql()
		if err != nil {
			return err
		}

		var id int64
		err = tx.QueryRowContext(ctx, lookup, args...).Scan(&id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			insert, args, err := m.qb.Insert(charactersTable).
				Columns(characterColumns[1:]...).
				Values(c.UserID, c.UserName, c.Name, c.Realm, c.Class,
					string(c.Role), string(c.Armor), c.ProfileURL, c.Score, c.Available, c.UpdatedAt).
				ToSql()
			if err != nil {
				return err
			}
			res, err := tx.ExecContext(ctx, insert, args...)
			if err != nil {
				return mapConstraintError(err)
			}
			id, _ = res.LastInsertId()
			created = true
		case err != nil:
			return fmt.Errorf("failed to look up existing character: %w", err)
		default:
			update, args, err := m.qb.Update(charactersTable).
				SetMap(map[string]interface{}{
					"user_name":      c.UserName,
					"character_name": c.Name,
					"realm":          c.Realm,
					"class":          c.Class,
					"role":           string(c.Role),
					"armor":          string(c.Armor),
					"profile_url":    c.ProfileURL,
					"score":          c.Score,
					"available":      c.Available,
					"updated_at":     c.UpdatedAt,
				}).
				Where(sq.Eq{"id": id}).
				ToSql()
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, update, args...); err != nil {
				return mapConstraintError(err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit upsert: %w", err)
		}
		c.ID = id
		return nil
	})
	return created, err
}

// UpdateCharacter applies update to one character.
func (m *Manager) UpdateCharacter(ctx context.Context, userID, name string, update types.CharacterUpdate) error {
	if update.IsEmpty() {
		return nil
	}
	query, args, err := m.qb.Update(charactersTable).
		SetMap(updateColumns(update)).
		Where(sq.Eq{"user_id": userID}).
		Where(nameMatchNoCase, name).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update: %w", err)
	}

	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		res, err := db.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to update character: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return interfaces.ErrCharacterNotFound
		}
		return nil
	})
}

// UpdateUserCharacters applies update to every character of userID.
func (m *Manager) UpdateUserCharacters(ctx context.Context, userID string, update types.CharacterUpdate) (int64, error) {
	if update.IsEmpty() {
		return 0, nil
	}
	query, args, err := m.qb.Update(charactersTable).
		SetMap(updateColumns(update)).
		Where(sq.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build update: %w", err)
	}

	m.listMu.Lock()
	defer m.listMu.Unlock()

	var affected int64
	err = m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		res, err := db.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to update characters: %w", err)
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	return affected, err
}

// DeleteCharacter removes one of userID's characters.
func (m *Manager) DeleteCharacter(ctx context.Context, userID, name string) error {
	query, args, err := m.qb.Delete(charactersTable).
		Where(sq.Eq{"user_id": userID}).
		Where(nameMatchNoCase, name).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build delete: %w", err)
	}

	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		res, err := db.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to delete character: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return interfaces.ErrCharacterNotFound
		}
		return nil
	})
}

// ListCharacters returns characters matching filter under the advisory lock.
func (m *Manager) ListCharacters(ctx context.Context, filter types.CharacterFilter) ([]*types.Character, error) {
	builder := m.qb.Select(characterColumns...).From(charactersTable)
	if filter.UserID != "" {
		builder = builder.Where(sq.Eq{"user_id": filter.UserID})
	}
	if filter.AvailableOnly {
		builder = builder.Where(sq.Eq{"available": true})
	}
	if filter.OrderByScore {
		builder = builder.OrderBy("score DESC", "character_name ASC")
	} else {
		builder = builder.OrderBy("character_name ASC")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	builder = builder.Limit(uint64(limit))

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	m.listMu.Lock()
	defer m.listMu.Unlock()

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list characters: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var characters []*types.Character
	for rows.Next() {
		c, err := scanCharacter(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan character row: %w", err)
		}
		characters = append(characters, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating character rows: %w", err)
	}
	return characters, nil
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM characters LIMIT 1").Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying database connection for migrations
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close stops the writer goroutine and closes the database.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func (m *Manager) queryOne(ctx context.Context, query string, args ...interface{}) (*types.Character, error) {
	c, err := scanCharacter(m.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrCharacterNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query character: %w", err)
	}
	return c, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCharacter(row rowScanner) (*types.Character, error) {
	var c types.Character
	var role, armor string
	err := row.Scan(
		&c.ID, &c.UserID, &c.UserName, &c.Name, &c.Realm, &c.Class,
		&role, &armor, &c.ProfileURL, &c.Score, &c.Available, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Role = types.Role(role)
	c.Armor = types.ArmorType(armor)
	return &c, nil
}

func updateColumns(update types.CharacterUpdate) map[string]interface{} {
	cols := make(map[string]interface{}, 5)
	if update.Available != nil {
		cols["available"] = *update.Available
	}
	if update.Score != nil {
		cols["score"] = *update.Score
	}
	if update.Class != nil {
		cols["class"] = *update.Class
	}
	if update.Armor != nil {
		cols["armor"] = string(*update.Armor)
	}
	if update.UpdatedAt != nil {
		cols["updated_at"] = *update.UpdatedAt
	}
	return cols
}

func mapConstraintError(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return fmt.Errorf("%w: %v", interfaces.ErrDuplicateCharacter, err)
	}
	return fmt.Errorf("failed to write character: %w", err)
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}

func isExpectedWriteError(err error) bool {
	return errors.Is(err, interfaces.ErrCharacterNotFound) ||
		errors.Is(err, interfaces.ErrDuplicateCharacter) ||
		errors.Is(err, context.Canceled)
}

func applySQLiteOptimizations(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -16000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", strings.TrimPrefix(pragma, "PRAGMA "), err)
		}
	}
	return nil
}
