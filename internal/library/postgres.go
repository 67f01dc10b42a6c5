package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/xxxsen/romget/internal/model"
)

const (
	createPGGameTableSQL = `
CREATE TABLE IF NOT EXISTS game_tab (
	id TEXT PRIMARY KEY,
	game_id TEXT NOT NULL,
	name TEXT NOT NULL,
	version TEXT NOT NULL,
	mapping_id TEXT NOT NULL,
	platform_id BIGINT NOT NULL,
	is_installed BOOLEAN NOT NULL,
	is_installing BOOLEAN NOT NULL,
	create_time BIGINT NOT NULL,
	update_time BIGINT NOT NULL
)`

	createPGRomTableSQL = `
CREATE TABLE IF NOT EXISTS game_rom_tab (
	game_id TEXT NOT NULL,
	idx INTEGER NOT NULL,
	name TEXT NOT NULL,
	path TEXT NOT NULL,
	PRIMARY KEY (game_id, idx)
)`

	selectPGGameSQL = `
SELECT id, game_id, name, version, mapping_id, platform_id,
	is_installed, is_installing, create_time, update_time
FROM game_tab`

	upsertPGGameSQL = `
INSERT INTO game_tab (
	id, game_id, name, version, mapping_id, platform_id,
	is_installed, is_installing, create_time, update_time
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8,
	EXTRACT(EPOCH FROM NOW())::BIGINT, EXTRACT(EPOCH FROM NOW())::BIGINT
) ON CONFLICT (id) DO UPDATE SET
	game_id = EXCLUDED.game_id,
	name = EXCLUDED.name,
	version = EXCLUDED.version,
	mapping_id = EXCLUDED.mapping_id,
	platform_id = EXCLUDED.platform_id,
	update_time = EXCLUDED.update_time`

	updatePGGameSQL = `
UPDATE game_tab SET
	game_id = $2, name = $3, version = $4, mapping_id = $5, platform_id = $6,
	is_installed = $7, is_installing = $8, update_time = EXTRACT(EPOCH FROM NOW())::BIGINT
WHERE id = $1`

	deletePGRomsSQL = `DELETE FROM game_rom_tab WHERE game_id = $1`
	insertPGRomSQL  = `INSERT INTO game_rom_tab (game_id, idx, name, path) VALUES ($1, $2, $3, $4)`
	selectPGRomsSQL = `SELECT name, path FROM game_rom_tab WHERE game_id = $1 ORDER BY idx`
)

// PostgresStore keeps the library in a shared PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres opens a PostgreSQL connection and ensures the schema.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	for _, stmt := range []string{createPGGameTableSQL, createPGRomTableSQL} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("ensure library schema: %w", err)
		}
	}
	return &PostgresStore{db: db}, nil
}

// Close releases the underlying database connection.
func (s *PostgresStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*model.Game, error) {
	g, err := scanGame(s.db.QueryRowContext(ctx, selectPGGameSQL+` WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query game %s: %w", id, err)
	}
	rows, err := s.db.QueryContext(ctx, selectPGRomsSQL, id)
	if err != nil {
		return nil, fmt.Errorf("query roms of %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var r model.ResolvedRom
		if err := rows.Scan(&r.Name, &r.Path); err != nil {
			return nil, fmt.Errorf("scan rom: %w", err)
		}
		g.Roms = append(g.Roms, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return g, nil
}

func (s *PostgresStore) List(ctx context.Context, ids ...string) ([]*model.Game, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if len(ids) > 0 {
		rows, err = s.db.QueryContext(ctx, selectPGGameSQL+` WHERE id = ANY($1) ORDER BY name`, pq.Array(ids))
	} else {
		rows, err = s.db.QueryContext(ctx, selectPGGameSQL+` ORDER BY name`)
	}
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

func (s *PostgresStore) Upsert(ctx context.Context, g *model.Game) error {
	_, err := s.db.ExecContext(ctx, upsertPGGameSQL,
		g.ID, g.GameID, g.Name, g.Version, g.MappingID, g.PlatformID, g.IsInstalled, g.IsInstalling)
	if err != nil {
		return fmt.Errorf("upsert game %s: %w", g.ID, describePGError(err))
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, g *model.Game) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, updatePGGameSQL,
		g.ID, g.GameID, g.Name, g.Version, g.MappingID, g.PlatformID, g.IsInstalled, g.IsInstalling)
	if err != nil {
		return fmt.Errorf("update game %s: %w", g.ID, describePGError(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, g.ID)
	}
	if g.Roms != nil {
		if _, err := tx.ExecContext(ctx, deletePGRomsSQL, g.ID); err != nil {
			return fmt.Errorf("delete roms of %s: %w", g.ID, err)
		}
		for i, r := range g.Roms {
			if _, err := tx.ExecContext(ctx, insertPGRomSQL, g.ID, i, r.Name, r.Path); err != nil {
				return fmt.Errorf("insert roms of %s: %w", g.ID, describePGError(err))
			}
		}
	}
	return tx.Commit()
}

// describePGError folds the server side detail into the error text.
func describePGError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Detail != "" {
		return fmt.Errorf("%w (%s: %s)", err, pqErr.Code.Name(), pqErr.Detail)
	}
	return err
}
