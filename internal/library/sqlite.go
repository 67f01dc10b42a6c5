package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/didi/gendry/builder"
	_ "github.com/glebarez/go-sqlite"

	"github.com/xxxsen/romget/internal/model"
)

const (
	createGameTableSQL = `
CREATE TABLE IF NOT EXISTS game_tab (
	id VARCHAR(64) PRIMARY KEY,
	game_id VARCHAR(2048) NOT NULL,
	name VARCHAR(512) NOT NULL,
	version VARCHAR(128) NOT NULL,
	mapping_id VARCHAR(128) NOT NULL,
	platform_id BIGINT NOT NULL,
	is_installed BOOLEAN NOT NULL,
	is_installing BOOLEAN NOT NULL,
	create_time BIGINT NOT NULL,
	update_time BIGINT NOT NULL
);`

	createRomTableSQL = `
CREATE TABLE IF NOT EXISTS game_rom_tab (
	game_id VARCHAR(64) NOT NULL,
	idx INTEGER NOT NULL,
	name VARCHAR(512) NOT NULL,
	path VARCHAR(4096) NOT NULL,
	PRIMARY KEY (game_id, idx)
);`
)

// SQLiteStore keeps the library in a local sqlite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating when needed) the sqlite database at dsn.
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite serialises writers anyway, a single connection avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{db: db}
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema initialises required tables.
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{createGameTableSQL, createRomTableSQL} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure library schema: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.Game, error) {
	query, args, err := builder.BuildSelect(gameTableName, map[string]interface{}{"id": id}, gameFields)
	if err != nil {
		return nil, err
	}
	g, err := scanGame(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query game %s: %w", id, err)
	}
	roms, err := s.roms(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	g.Roms = roms
	return g, nil
}

// List returns the requested games, or every game without ids, ordered by name.
func (s *SQLiteStore) List(ctx context.Context, ids ...string) ([]*model.Game, error) {
	where := map[string]interface{}{"_orderby": "name asc"}
	if len(ids) > 0 {
		in := make([]interface{}, 0, len(ids))
		for _, id := range ids {
			in = append(in, id)
		}
		where["id in"] = in
	}
	query, args, err := builder.BuildSelect(gameTableName, where, gameFields)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	defer rows.Close()

	var out []*model.Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("scan game: %w", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Upsert inserts the game or refreshes its catalog fields. Install state of
// an existing record is kept.
func (s *SQLiteStore) Upsert(ctx context.Context, g *model.Game) error {
	now := time.Now().Unix()
	insertSQL, insertArgs, err := builder.BuildInsert(gameTableName, []map[string]interface{}{{
		"id":            g.ID,
		"game_id":       g.GameID,
		"name":          g.Name,
		"version":       g.Version,
		"mapping_id":    g.MappingID,
		"platform_id":   g.PlatformID,
		"is_installed":  g.IsInstalled,
		"is_installing": g.IsInstalling,
		"create_time":   now,
		"update_time":   now,
	}})
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, insertSQL, insertArgs...); err != nil {
		if !isUniqueConstraintError(err) {
			return fmt.Errorf("insert game %s: %w", g.ID, err)
		}
		updateSQL, updateArgs, err := builder.BuildUpdate(gameTableName,
			map[string]interface{}{"id": g.ID},
			map[string]interface{}{
				"game_id":     g.GameID,
				"name":        g.Name,
				"version":     g.Version,
				"mapping_id":  g.MappingID,
				"platform_id": g.PlatformID,
				"update_time": now,
			},
		)
		if err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, updateSQL, updateArgs...); err != nil {
			return fmt.Errorf("update game %s: %w", g.ID, err)
		}
	}
	return nil
}

// Update implements Store.
func (s *SQLiteStore) Update(ctx context.Context, g *model.Game) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	updateSQL, args, err := builder.BuildUpdate(gameTableName,
		map[string]interface{}{"id": g.ID},
		map[string]interface{}{
			"game_id":       g.GameID,
			"name":          g.Name,
			"version":       g.Version,
			"mapping_id":    g.MappingID,
			"platform_id":   g.PlatformID,
			"is_installed":  g.IsInstalled,
			"is_installing": g.IsInstalling,
			"update_time":   time.Now().Unix(),
		},
	)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, updateSQL, args...)
	if err != nil {
		return fmt.Errorf("update game %s: %w", g.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, g.ID)
	}
	if g.Roms != nil {
		if err := s.replaceRoms(ctx, tx, g.ID, g.Roms); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) replaceRoms(ctx context.Context, tx *sql.Tx, gameID string, roms []model.ResolvedRom) error {
	deleteSQL, args, err := builder.BuildDelete(romTableName, map[string]interface{}{"game_id": gameID})
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, deleteSQL, args...); err != nil {
		return fmt.Errorf("delete roms of %s: %w", gameID, err)
	}
	if len(roms) == 0 {
		return nil
	}
	payload := make([]map[string]interface{}, 0, len(roms))
	for i, r := range roms {
		payload = append(payload, map[string]interface{}{
			"game_id": gameID,
			"idx":     i,
			"name":    r.Name,
			"path":    r.Path,
		})
	}
	insertSQL, args, err := builder.BuildInsert(romTableName, payload)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, insertSQL, args...); err != nil {
		return fmt.Errorf("insert roms of %s: %w", gameID, err)
	}
	return nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SQLiteStore) roms(ctx context.Context, q queryer, gameID string) ([]model.ResolvedRom, error) {
	query, args, err := builder.BuildSelect(romTableName,
		map[string]interface{}{"game_id": gameID, "_orderby": "idx asc"},
		[]string{"name", "path"},
	)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query roms of %s: %w", gameID, err)
	}
	defer rows.Close()

	var out []model.ResolvedRom
	for rows.Next() {
		var r model.ResolvedRom
		if err := rows.Scan(&r.Name, &r.Path); err != nil {
			return nil, fmt.Errorf("scan rom: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
