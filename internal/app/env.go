package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/xxxsen/common/logger"

	"github.com/xxxsen/romget/internal/config"
	"github.com/xxxsen/romget/internal/emulator"
	"github.com/xxxsen/romget/internal/install"
	"github.com/xxxsen/romget/internal/layout"
	"github.com/xxxsen/romget/internal/library"
	"github.com/xxxsen/romget/internal/queue"
	"github.com/xxxsen/romget/internal/romm"
	"github.com/xxxsen/romget/internal/sibling"
)

var defaultConfigPaths = []string{
	"./config.json",
	"/etc/romget.json",
}

// LoadConfig resolves the configuration file, explicit path first.
func LoadConfig(explicit string) (*config.Config, error) {
	return config.LoadFirst(append([]string{explicit}, defaultConfigPaths...)...)
}

// Env wires the collaborators every command shares.
type Env struct {
	Config   *config.Config
	Fs       afero.Fs
	Library  library.Library
	Siblings *sibling.Resolver
	Catalog  *emulator.Registry
	Resolver *install.Resolver
	Queue    *queue.Local
	Builder  *install.Builder
	Notifier *LogNotifier
}

// NewEnv opens the library and builds the install pipeline described by cfg.
// The transfer source is only connected when withFetcher is set.
func NewEnv(ctx context.Context, cfg *config.Config, withFetcher bool) (*Env, error) {
	lib, err := library.Open(ctx, cfg.Library)
	if err != nil {
		return nil, err
	}
	fs := afero.NewOsFs()
	env := &Env{
		Config:   cfg,
		Fs:       fs,
		Library:  lib,
		Siblings: sibling.NewResolver(fs, cfg.Plugin.DataRoot, cfg.Plugin.GUID),
		Catalog:  emulator.NewRegistry(emulator.FromConfig(cfg.Emulators), emulator.BuiltIns),
		Notifier: &LogNotifier{},
	}
	env.Resolver = install.NewResolver(fs, env.Catalog, cfg.Resolve.PlaylistScope)

	var fetcher queue.Fetcher = queue.FetchFunc(func(context.Context, queue.Download) error {
		return errors.New("no transfer source configured")
	})
	if withFetcher {
		fetcher, err = NewFetcher(ctx, cfg)
		if err != nil {
			lib.Close()
			return nil, err
		}
	}
	env.Queue = queue.NewLocal(fetcher, cfg.Queue.Workers)
	env.Builder = install.NewBuilder(install.Deps{
		Store:    lib,
		Queue:    env.Queue,
		Siblings: env.Siblings,
		Planner:  layout.NewPlanner(cfg.Layout.Romanize),
		Resolver: env.Resolver,
		Mappings: MappingLookup(cfg),
		Archive:  queue.ArchiveOptions{Use7z: cfg.Archive.Use7z, PathTo7z: cfg.Archive.PathTo7z},
		Notifier: env.Notifier,
	})
	return env, nil
}

// Close releases the library connection.
func (e *Env) Close() error {
	if e == nil || e.Library == nil {
		return nil
	}
	return e.Library.Close()
}

// MappingLookup exposes the configured mappings to the install builder.
func MappingLookup(cfg *config.Config) install.MappingLookup {
	return func(id string) (install.Mapping, bool) {
		m, ok := cfg.Mapping(id)
		if !ok {
			return install.Mapping{}, false
		}
		return install.Mapping{ID: m.ID, Destination: m.Destination, AutoExtract: m.AutoExtract}, true
	}
}

// NewRomMClient connects the configured RomM server.
func NewRomMClient(cfg *config.Config) (*romm.Client, error) {
	if strings.TrimSpace(cfg.RomM.Host) == "" {
		return nil, errors.New("config.romm.host must be set")
	}
	return romm.New(cfg.RomM.Host, cfg.RomM.Session, cfg.RomM.CSRFToken)
}

// configFlag is embedded by commands that read the config file.
type configFlag struct {
	cfgPath string
	cfg     *config.Config
}

func (c *configFlag) initConfigFlag(f *pflag.FlagSet) {
	f.StringVar(&c.cfgPath, "config", "", "config file path")
}

// loadConfig reads the config file and re-initialises the logger from it.
func (c *configFlag) loadConfig() error {
	cfg, err := LoadConfig(c.cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Log.File, cfg.Log.Level, 0, 0, 0, cfg.Log.Console)
	c.cfg = cfg
	return nil
}
