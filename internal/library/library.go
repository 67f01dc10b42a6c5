package library

import (
	"context"
	"errors"
	"fmt"

	"github.com/xxxsen/romget/internal/config"
	"github.com/xxxsen/romget/internal/model"
)

// ErrNotFound is returned when no game has the requested id.
var ErrNotFound = errors.New("game not found")

// Store is the keyed game store install callbacks write through.
type Store interface {
	Get(ctx context.Context, id string) (*model.Game, error)
	// Update writes the game in place. Roms are replaced when non-nil.
	Update(ctx context.Context, game *model.Game) error
}

// Library is a Store the commands can also populate and browse.
type Library interface {
	Store
	Upsert(ctx context.Context, game *model.Game) error
	List(ctx context.Context, ids ...string) ([]*model.Game, error)
	Close() error
}

const (
	gameTableName = "game_tab"
	romTableName  = "game_rom_tab"
)

var gameFields = []string{
	"id", "game_id", "name", "version", "mapping_id", "platform_id",
	"is_installed", "is_installing", "create_time", "update_time",
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGame(row rowScanner) (*model.Game, error) {
	g := &model.Game{}
	if err := row.Scan(&g.ID, &g.GameID, &g.Name, &g.Version, &g.MappingID, &g.PlatformID,
		&g.IsInstalled, &g.IsInstalling, &g.CreateTime, &g.UpdateTime); err != nil {
		return nil, err
	}
	return g, nil
}

// Open connects the backend selected by cfg and makes sure its schema exists.
func Open(ctx context.Context, cfg config.LibraryConfig) (Library, error) {
	switch cfg.Driver {
	case "sqlite":
		s, err := OpenSQLite(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := OpenPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported library driver %q", cfg.Driver)
	}
}
