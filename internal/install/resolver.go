package install

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/romget/internal/config"
	"github.com/xxxsen/romget/internal/emulator"
	"github.com/xxxsen/romget/internal/layout"
	"github.com/xxxsen/romget/internal/model"
	"github.com/xxxsen/romget/internal/pathguard"
	"github.com/xxxsen/romget/internal/rominfo"
)

// PlaylistExt is the extension of multi-disc playlists, without the dot.
const PlaylistExt = "m3u"

// JobContext is everything the resolver needs about one install job. It is
// built once by the Builder and never modified afterwards.
type JobContext struct {
	GameID       string
	GameName     string
	BaseGamePath string
	IDs          []string
	Variants     []*rominfo.RomInfo
	InstallDirs  []string
}

// Resolver decides which files on disk are the playable ROMs of a job.
type Resolver struct {
	fs      afero.Fs
	catalog emulator.Catalog
	scope   string
}

// NewResolver builds a resolver. scope is one of config.PlaylistScopeVariant
// or config.PlaylistScopeJob; anything else means per variant.
func NewResolver(fs afero.Fs, catalog emulator.Catalog, scope string) *Resolver {
	return &Resolver{fs: fs, catalog: catalog, scope: scope}
}

// Resolve returns the playable files of every variant, in variant order.
func (r *Resolver) Resolve(ctx context.Context, jc JobContext) ([]model.ResolvedRom, error) {
	if len(jc.Variants) != len(jc.InstallDirs) {
		return nil, fmt.Errorf("job has %d variants but %d install dirs", len(jc.Variants), len(jc.InstallDirs))
	}
	logger := logutil.GetLogger(ctx).With(zap.String("game", jc.GameName))

	var roms []model.ResolvedRom
	for i, info := range jc.Variants {
		dir := jc.InstallDirs[i]
		if err := pathguard.AssertSafe(dir); err != nil {
			return nil, err
		}
		if err := pathguard.AssertWithin(jc.BaseGamePath, dir); err != nil {
			return nil, err
		}

		target := layout.DownloadTarget(dir, info)
		ok, err := r.isRegularFile(target)
		if err != nil {
			return nil, err
		}
		if ok {
			roms = append(roms, model.ResolvedRom{Name: layout.Stem(info.FileName), Path: target})
			continue
		}

		var exts []string
		if r.catalog != nil {
			exts = r.catalog.SupportedExtensions(info.Mapping)
		}
		for _, ext := range exts {
			if err := pathguard.AssertSafe(ext); err != nil {
				return nil, err
			}
		}
		files, err := r.enumerate(dir, exts)
		if err != nil {
			return nil, err
		}

		if info.PreferPlaylist() {
			if playlist, found := findPlaylist(files); found {
				roms = append(roms, model.ResolvedRom{Name: jc.GameName, Path: playlist})
				if r.scope == config.PlaylistScopeJob {
					logger.Debug("playlist found, skipping remaining variants",
						zap.String("playlist", playlist),
						zap.Int("skipped", len(jc.Variants)-i-1),
					)
					return roms, nil
				}
				continue
			}
		}

		added := 0
		for _, f := range files {
			if isPlaylist(f) {
				continue
			}
			roms = append(roms, model.ResolvedRom{Name: jc.GameName, Path: f})
			added++
		}
		if added == 0 {
			return nil, fmt.Errorf("%w: variant %s under %s", ErrNoRomFiles, info.FileName, dir)
		}
	}
	return roms, nil
}

func (r *Resolver) isRegularFile(path string) (bool, error) {
	fi, err := r.fs.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	return fi.Mode().IsRegular(), nil
}

// enumerate lists regular files under dir. With exts set, only matching
// files are kept, grouped by the order of exts and lexical inside a group.
func (r *Resolver) enumerate(dir string, exts []string) ([]string, error) {
	var all []string
	err := afero.Walk(r.fs, dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			all = append(all, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enumerate %s: %w", dir, err)
	}
	if len(exts) == 0 {
		return all, nil
	}

	out := make([]string, 0, len(all))
	seen := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		key := strings.ToLower(ext)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		for _, f := range all {
			if strings.EqualFold(fileExt(f), ext) {
				out = append(out, f)
			}
		}
	}
	return out, nil
}

func fileExt(path string) string {
	return strings.TrimPrefix(filepath.Ext(path), ".")
}

func isPlaylist(path string) bool {
	return strings.EqualFold(fileExt(path), PlaylistExt)
}

func findPlaylist(files []string) (string, bool) {
	for _, f := range files {
		if isPlaylist(f) {
			return f, true
		}
	}
	return "", false
}
