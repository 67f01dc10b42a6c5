package install

import (
	"context"
	"fmt"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/romget/internal/layout"
	"github.com/xxxsen/romget/internal/library"
	"github.com/xxxsen/romget/internal/model"
	"github.com/xxxsen/romget/internal/pathguard"
	"github.com/xxxsen/romget/internal/queue"
	"github.com/xxxsen/romget/internal/sibling"
)

// Mapping is the destination side of a platform mapping.
type Mapping struct {
	ID          string
	Destination string
	AutoExtract bool
}

// MappingLookup finds the mapping a game is installed through.
type MappingLookup func(mappingID string) (Mapping, bool)

// Notifier shows a message to the user.
type Notifier interface {
	Notify(ctx context.Context, title, message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, title, message string)

func (f NotifierFunc) Notify(ctx context.Context, title, message string) {
	f(ctx, title, message)
}

// Deps collects the collaborators of a Builder.
type Deps struct {
	Store    library.Store
	Queue    queue.Queue
	Siblings *sibling.Resolver
	Planner  *layout.Planner
	Resolver *Resolver
	Mappings MappingLookup
	Archive  queue.ArchiveOptions
	Notifier Notifier
}

// Builder turns library games into queue jobs.
type Builder struct {
	Deps
}

// NewBuilder builds a Builder.
func NewBuilder(deps Deps) *Builder {
	return &Builder{Deps: deps}
}

// Context expands the variants of game and plans where each one lives.
func (b *Builder) Context(ctx context.Context, game *model.Game) (JobContext, error) {
	jc, _, err := b.plan(ctx, game)
	return jc, err
}

// plan resolves the mapping of game once and lays out its variants. Every
// download target must stay inside the base game path.
func (b *Builder) plan(ctx context.Context, game *model.Game) (JobContext, Mapping, error) {
	m, ok := b.Mappings(game.MappingID)
	if !ok {
		return JobContext{}, Mapping{}, fmt.Errorf("%w: %s", ErrNoMapping, game.MappingID)
	}
	base, err := b.Planner.Plan(m.Destination, game.Name)
	if err != nil {
		return JobContext{}, Mapping{}, fmt.Errorf("mapping %s: %w", m.ID, err)
	}
	set, err := b.Siblings.Expand(ctx, game.GameID, game.Version)
	if err != nil {
		return JobContext{}, Mapping{}, err
	}
	infos, err := set.Decode()
	if err != nil {
		return JobContext{}, Mapping{}, err
	}
	dirs, err := layout.Dirs(base, infos)
	if err != nil {
		return JobContext{}, Mapping{}, err
	}
	for i, info := range infos {
		if err := pathguard.AssertSafe(info.FileName); err != nil {
			return JobContext{}, Mapping{}, fmt.Errorf("variant %d file name: %w", i, err)
		}
		if err := pathguard.AssertWithin(base, layout.DownloadTarget(dirs[i], info)); err != nil {
			return JobContext{}, Mapping{}, fmt.Errorf("variant %d download target: %w", i, err)
		}
	}
	return JobContext{
		GameID:       game.ID,
		GameName:     game.Name,
		BaseGamePath: base,
		IDs:          []string(set),
		Variants:     infos,
		InstallDirs:  dirs,
	}, m, nil
}

// Build assembles the job of game without touching the library.
func (b *Builder) Build(ctx context.Context, game *model.Game) (*queue.Job, error) {
	jc, m, err := b.plan(ctx, game)
	if err != nil {
		return nil, err
	}

	downloads := make([]queue.Download, 0, len(jc.Variants))
	for i, info := range jc.Variants {
		downloads = append(downloads, queue.Download{
			ID:         jc.IDs[i],
			RomID:      info.RomID,
			FileName:   info.FileName,
			InstallDir: jc.InstallDirs[i],
			Target:     layout.DownloadTarget(jc.InstallDirs[i], info),
			Archive:    info.HasMultipleFiles,
		})
	}

	job := &queue.Job{
		GameID:      game.ID,
		GameName:    game.Name,
		GameIDs:     append([]string(nil), jc.IDs...),
		DstPath:     jc.BaseGamePath,
		AutoExtract: m.AutoExtract,
		Archive:     b.Archive,
		Downloads:   downloads,
		BuildRoms:   resolveFor(b.Resolver, jc),
		OnInstalled: func(ctx context.Context, res queue.Result) { b.onInstalled(ctx, game.ID, res) },
		OnCanceled:  func(ctx context.Context) { b.onCanceled(ctx, game.ID) },
		OnFailed:    func(ctx context.Context, err error) { b.onFailed(ctx, game.ID, game.Name, err) },
	}
	return job, nil
}

// resolveFor binds a resolver to one job context.
func resolveFor(r *Resolver, jc JobContext) func(context.Context) ([]model.ResolvedRom, error) {
	return func(ctx context.Context) ([]model.ResolvedRom, error) {
		return r.Resolve(ctx, jc)
	}
}

// Install loads a game, builds its job, flags it as installing and enqueues
// it. Any error returned here means nothing was enqueued.
func (b *Builder) Install(ctx context.Context, gameID string) error {
	logger := logutil.GetLogger(ctx).With(zap.String("game_id", gameID))
	game, err := b.Store.Get(ctx, gameID)
	if err != nil {
		return fmt.Errorf("load game: %w", err)
	}
	job, err := b.Build(ctx, game)
	if err != nil {
		logger.Error("build install job failed", zap.Error(err))
		b.notifyFailure(ctx, game.Name, err)
		return err
	}
	game.IsInstalling = true
	game.Roms = nil
	if err := b.Store.Update(ctx, game); err != nil {
		err = fmt.Errorf("mark installing: %w", err)
		logger.Error("install not enqueued", zap.Error(err))
		b.notifyFailure(ctx, game.Name, err)
		return err
	}
	b.Queue.Enqueue(job)
	logger.Info("install job enqueued",
		zap.String("job_id", job.ID),
		zap.Int("variants", len(job.Downloads)),
		zap.String("dst", job.DstPath),
	)
	return nil
}

func (b *Builder) onInstalled(ctx context.Context, gameID string, res queue.Result) {
	logger := logutil.GetLogger(ctx).With(zap.String("game_id", gameID))
	game, err := b.Store.Get(ctx, gameID)
	if err != nil {
		logger.Error("load game after install failed", zap.Error(err))
		return
	}
	game.IsInstalled = true
	game.IsInstalling = false
	game.Roms = res.Roms
	if game.Roms == nil {
		game.Roms = []model.ResolvedRom{}
	}
	if err := b.Store.Update(ctx, game); err != nil {
		logger.Error("mark installed failed", zap.Error(err))
		return
	}
	logger.Info("game installed", zap.Int("roms", len(res.Roms)))
}

func (b *Builder) onCanceled(ctx context.Context, gameID string) {
	logger := logutil.GetLogger(ctx).With(zap.String("game_id", gameID))
	// files of an earlier install may be half overwritten
	if err := b.clearInstalling(ctx, gameID, true); err != nil {
		logger.Error("revert installing state failed", zap.Error(err))
		return
	}
	logger.Info("install canceled")
}

func (b *Builder) onFailed(ctx context.Context, gameID, name string, cause error) {
	logger := logutil.GetLogger(ctx).With(zap.String("game_id", gameID))
	if err := b.clearInstalling(ctx, gameID, false); err != nil {
		logger.Error("revert installing state failed", zap.Error(err))
	}
	b.notifyFailure(ctx, name, cause)
}

func (b *Builder) clearInstalling(ctx context.Context, gameID string, uninstall bool) error {
	game, err := b.Store.Get(ctx, gameID)
	if err != nil {
		return err
	}
	game.IsInstalling = false
	if uninstall {
		game.IsInstalled = false
	}
	game.Roms = nil
	return b.Store.Update(ctx, game)
}

func (b *Builder) notifyFailure(ctx context.Context, name string, err error) {
	if b.Notifier == nil {
		return
	}
	b.Notifier.Notify(ctx, name, fmt.Sprintf("Failed to download %s.\n\n%v", name, err))
}
