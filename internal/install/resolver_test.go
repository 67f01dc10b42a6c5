package install

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/romget/internal/config"
	"github.com/xxxsen/romget/internal/emulator"
	"github.com/xxxsen/romget/internal/layout"
	"github.com/xxxsen/romget/internal/model"
	"github.com/xxxsen/romget/internal/pathguard"
	"github.com/xxxsen/romget/internal/rominfo"
)

type catalogFunc func(m *rominfo.Mapping) []string

func (f catalogFunc) SupportedExtensions(m *rominfo.Mapping) []string { return f(m) }

func fixedExts(exts ...string) emulator.Catalog {
	return catalogFunc(func(*rominfo.Mapping) []string { return exts })
}

func touch(t *testing.T, fs afero.Fs, paths ...string) {
	t.Helper()
	for _, p := range paths {
		require.NoError(t, fs.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, afero.WriteFile(fs, p, []byte(filepath.Base(p)), 0o644))
	}
}

func singleContext(base string, info *rominfo.RomInfo) JobContext {
	return JobContext{
		GameName:     "Game",
		BaseGamePath: base,
		Variants:     []*rominfo.RomInfo{info},
		InstallDirs:  []string{base},
	}
}

func TestResolveSingleFileScenario(t *testing.T) {
	fs := afero.NewMemMapFs()
	touch(t, fs, "/games/ps1/game/game.iso")

	r := NewResolver(fs, nil, config.PlaylistScopeVariant)
	jc := JobContext{
		GameName:     "game",
		BaseGamePath: "/games/ps1/game",
		Variants:     []*rominfo.RomInfo{{FileName: "game.iso"}},
		InstallDirs:  []string{"/games/ps1/game"},
	}
	roms, err := r.Resolve(context.Background(), jc)
	require.NoError(t, err)
	assert.Equal(t, []model.ResolvedRom{{Name: "game", Path: "/games/ps1/game/game.iso"}}, roms)
}

func TestResolveDownloadTargetWinsOverExtractedFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	touch(t, fs,
		"/g/Game/Game.cue",
		"/g/Game/Game (Track 1).bin",
		"/g/Game/Game.m3u",
	)
	info := &rominfo.RomInfo{FileName: "Game.cue", Mapping: &rominfo.Mapping{UseM3U: true}}

	roms, err := NewResolver(fs, nil, "").Resolve(context.Background(), singleContext("/g/Game", info))
	require.NoError(t, err)
	assert.Equal(t, []model.ResolvedRom{{Name: "Game", Path: "/g/Game/Game.cue"}}, roms)
}

func TestResolveArchiveStillPresent(t *testing.T) {
	fs := afero.NewMemMapFs()
	touch(t, fs, "/g/Game/Game.zip")
	info := &rominfo.RomInfo{FileName: "Game", HasMultipleFiles: true}

	roms, err := NewResolver(fs, nil, "").Resolve(context.Background(), singleContext("/g/Game", info))
	require.NoError(t, err)
	assert.Equal(t, []model.ResolvedRom{{Name: "Game", Path: "/g/Game/Game.zip"}}, roms)
}

func TestResolvePlaylistScenario(t *testing.T) {
	fs := afero.NewMemMapFs()
	touch(t, fs,
		"/games/ps1/Game/Game (USA)/disc1.bin",
		"/games/ps1/Game/Game (USA)/disc2.bin",
		"/games/ps1/Game/Game (USA)/game.m3u",
		"/games/ps1/Game/Game (Europe)/disc1.bin",
		"/games/ps1/Game/Game (Europe)/disc2.bin",
		"/games/ps1/Game/Game (Europe)/game.m3u",
	)
	mapping := &rominfo.Mapping{EmulatorID: "duckstation", ProfileID: "default", UseM3U: true}
	jc := JobContext{
		GameName:     "Game",
		BaseGamePath: "/games/ps1/Game",
		Variants: []*rominfo.RomInfo{
			{FileName: "Game (USA)", HasMultipleFiles: true, Mapping: mapping},
			{FileName: "Game (Europe)", HasMultipleFiles: true, Mapping: mapping},
		},
		InstallDirs: []string{"/games/ps1/Game/Game (USA)", "/games/ps1/Game/Game (Europe)"},
	}

	t.Run("variant scope", func(t *testing.T) {
		roms, err := NewResolver(fs, fixedExts("cue", "bin", "m3u"), config.PlaylistScopeVariant).Resolve(context.Background(), jc)
		require.NoError(t, err)
		assert.Equal(t, []model.ResolvedRom{
			{Name: "Game", Path: "/games/ps1/Game/Game (USA)/game.m3u"},
			{Name: "Game", Path: "/games/ps1/Game/Game (Europe)/game.m3u"},
		}, roms)
	})

	t.Run("job scope", func(t *testing.T) {
		roms, err := NewResolver(fs, fixedExts("cue", "bin", "m3u"), config.PlaylistScopeJob).Resolve(context.Background(), jc)
		require.NoError(t, err)
		assert.Equal(t, []model.ResolvedRom{
			{Name: "Game", Path: "/games/ps1/Game/Game (USA)/game.m3u"},
		}, roms)
	})
}

func TestResolveWithoutPlaylistPreference(t *testing.T) {
	fs := afero.NewMemMapFs()
	touch(t, fs,
		"/g/Game/b.bin",
		"/g/Game/a.bin",
		"/g/Game/B.CUE",
		"/g/Game/a.cue",
		"/g/Game/game.m3u",
		"/g/Game/readme.txt",
	)
	info := &rominfo.RomInfo{FileName: "Game", HasMultipleFiles: true}

	roms, err := NewResolver(fs, fixedExts("cue", "bin", "m3u"), "").Resolve(context.Background(), singleContext("/g/Game", info))
	require.NoError(t, err)
	assert.Equal(t, []model.ResolvedRom{
		{Name: "Game", Path: "/g/Game/B.CUE"},
		{Name: "Game", Path: "/g/Game/a.cue"},
		{Name: "Game", Path: "/g/Game/a.bin"},
		{Name: "Game", Path: "/g/Game/b.bin"},
	}, roms)
}

func TestResolveUnfilteredWalksEverything(t *testing.T) {
	fs := afero.NewMemMapFs()
	touch(t, fs,
		"/g/Game/sub/z.iso",
		"/g/Game/a.iso",
		"/g/Game/list.m3u",
	)
	info := &rominfo.RomInfo{FileName: "Game", HasMultipleFiles: true, Mapping: &rominfo.Mapping{EmulatorID: "missing"}}
	catalog := emulator.NewRegistry(nil, emulator.BuiltIns)

	roms, err := NewResolver(fs, catalog, "").Resolve(context.Background(), singleContext("/g/Game", info))
	require.NoError(t, err)
	assert.Equal(t, []model.ResolvedRom{
		{Name: "Game", Path: "/g/Game/a.iso"},
		{Name: "Game", Path: "/g/Game/sub/z.iso"},
	}, roms)
}

func TestResolvePlaylistPreferredButMissing(t *testing.T) {
	fs := afero.NewMemMapFs()
	touch(t, fs, "/g/Game/disc1.cue", "/g/Game/disc2.cue")
	info := &rominfo.RomInfo{FileName: "Game", HasMultipleFiles: true, Mapping: &rominfo.Mapping{UseM3U: true}}

	roms, err := NewResolver(fs, fixedExts("cue"), "").Resolve(context.Background(), singleContext("/g/Game", info))
	require.NoError(t, err)
	assert.Equal(t, []model.ResolvedRom{
		{Name: "Game", Path: "/g/Game/disc1.cue"},
		{Name: "Game", Path: "/g/Game/disc2.cue"},
	}, roms)
}

func TestResolvePlaylistFilteredOut(t *testing.T) {
	fs := afero.NewMemMapFs()
	touch(t, fs, "/g/Game/disc1.cue", "/g/Game/game.m3u")
	info := &rominfo.RomInfo{FileName: "Game", HasMultipleFiles: true, Mapping: &rominfo.Mapping{UseM3U: true}}

	roms, err := NewResolver(fs, fixedExts("cue"), "").Resolve(context.Background(), singleContext("/g/Game", info))
	require.NoError(t, err)
	assert.Equal(t, []model.ResolvedRom{{Name: "Game", Path: "/g/Game/disc1.cue"}}, roms)
}

func TestResolveRejectsUnsafeExtension(t *testing.T) {
	fs := afero.NewMemMapFs()
	touch(t, fs, "/g/Game/a.bin")
	info := &rominfo.RomInfo{FileName: "Game", HasMultipleFiles: true}

	_, err := NewResolver(fs, fixedExts("bin", "../etc"), "").Resolve(context.Background(), singleContext("/g/Game", info))
	assert.ErrorIs(t, err, pathguard.ErrUnsafePath)
}

func TestResolveRejectsEscapingInstallDir(t *testing.T) {
	fs := afero.NewMemMapFs()
	touch(t, fs, "/g/Other/a.bin")

	jc := JobContext{
		GameName:     "Game",
		BaseGamePath: "/g/Game",
		Variants:     []*rominfo.RomInfo{{FileName: "a.bin"}},
		InstallDirs:  []string{"/g/Other"},
	}
	_, err := NewResolver(fs, nil, "").Resolve(context.Background(), jc)
	assert.ErrorIs(t, err, pathguard.ErrUnsafePath)

	jc.InstallDirs = []string{"/g/Game/../Other"}
	_, err = NewResolver(fs, nil, "").Resolve(context.Background(), jc)
	assert.ErrorIs(t, err, pathguard.ErrUnsafePath)
}

func TestResolveNothingToLaunch(t *testing.T) {
	fs := afero.NewMemMapFs()
	touch(t, fs, "/g/Game/readme.txt")
	info := &rominfo.RomInfo{FileName: "Game", HasMultipleFiles: true}

	_, err := NewResolver(fs, fixedExts("cue"), "").Resolve(context.Background(), singleContext("/g/Game", info))
	assert.ErrorIs(t, err, ErrNoRomFiles)
}

func TestResolveMissingInstallDir(t *testing.T) {
	info := &rominfo.RomInfo{FileName: "Game", HasMultipleFiles: true}
	_, err := NewResolver(afero.NewMemMapFs(), nil, "").Resolve(context.Background(), singleContext("/g/Game", info))
	assert.Error(t, err)
}

func TestResolveMismatchedContext(t *testing.T) {
	jc := JobContext{BaseGamePath: "/g", Variants: []*rominfo.RomInfo{{FileName: "a"}}}
	_, err := NewResolver(afero.NewMemMapFs(), nil, "").Resolve(context.Background(), jc)
	assert.Error(t, err)
}

func TestResolveUsesVariantLayout(t *testing.T) {
	fs := afero.NewMemMapFs()
	infos := []*rominfo.RomInfo{{FileName: "Game (USA).chd"}, {FileName: "Game (Japan).chd"}}
	dirs, err := layout.Dirs("/g/Game", infos)
	require.NoError(t, err)
	for i, info := range infos {
		touch(t, fs, layout.DownloadTarget(dirs[i], info))
	}

	roms, err := NewResolver(fs, nil, "").Resolve(context.Background(), JobContext{
		GameName:     "Game",
		BaseGamePath: "/g/Game",
		Variants:     infos,
		InstallDirs:  dirs,
	})
	require.NoError(t, err)
	assert.Equal(t, []model.ResolvedRom{
		{Name: "Game (USA)", Path: "/g/Game/Game (USA)/Game (USA).chd"},
		{Name: "Game (Japan)", Path: "/g/Game/Game (Japan)/Game (Japan).chd"},
	}, roms)
}
