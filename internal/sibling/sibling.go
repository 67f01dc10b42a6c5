package sibling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/romget/internal/rominfo"
)

// ErrCorruptCache means a sibling cache file exists but cannot be used.
var ErrCorruptCache = errors.New("corrupt sibling cache")

// VariantSet lists the identifiers of every variant to install, primary
// first, then siblings in cache order.
type VariantSet []string

// Decode rebuilds the descriptors of the set.
func (v VariantSet) Decode() ([]*rominfo.RomInfo, error) {
	return rominfo.DecodeAll(v)
}

// CatalogID extracts the numeric catalog id from a version string of the
// form "<source>:<id>".
func CatalogID(version string) (int64, bool) {
	parts := strings.Split(version, ":")
	if len(parts) < 2 {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Version formats the version string stored for a catalog entry.
func Version(source string, id int64) string {
	return fmt.Sprintf("%s:%d", source, id)
}

// Resolver expands a primary variant with its cached siblings.
type Resolver struct {
	fs       afero.Fs
	dataRoot string
	guid     string
}

// NewResolver builds a resolver reading caches below dataRoot/guid.
func NewResolver(fs afero.Fs, dataRoot, guid string) *Resolver {
	return &Resolver{fs: fs, dataRoot: dataRoot, guid: guid}
}

// CachePath returns the sibling cache file of a catalog id.
func (r *Resolver) CachePath(id int64) string {
	return filepath.Join(r.dataRoot, r.guid, strconv.FormatInt(id, 10)+".json")
}

// Expand returns the variants to install for primaryID. A version without a
// numeric id or a missing cache file yields the primary alone. A cache file
// that cannot be parsed fails the whole expansion.
func (r *Resolver) Expand(ctx context.Context, primaryID, version string) (VariantSet, error) {
	set := VariantSet{primaryID}
	id, ok := CatalogID(version)
	if !ok {
		return set, nil
	}
	path := r.CachePath(id)
	data, err := afero.ReadFile(r.fs, path)
	if errors.Is(err, os.ErrNotExist) {
		return set, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sibling cache %s: %w", path, err)
	}

	var siblings []rominfo.RomInfo
	if err := json.Unmarshal(data, &siblings); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptCache, path, err)
	}
	for i := range siblings {
		sid, err := rominfo.Encode(&siblings[i])
		if err != nil {
			return nil, fmt.Errorf("%w: %s: sibling %d: %v", ErrCorruptCache, path, i, err)
		}
		set = append(set, sid)
	}
	logutil.GetLogger(ctx).Debug("sibling cache loaded",
		zap.String("path", path),
		zap.Int64("catalog_id", id),
		zap.Int("siblings", len(siblings)),
	)
	return set, nil
}

// Write stores the sibling list of a catalog id, replacing any older cache.
func (r *Resolver) Write(id int64, siblings []rominfo.RomInfo) error {
	path := r.CachePath(id)
	if siblings == nil {
		siblings = []rominfo.RomInfo{}
	}
	data, err := json.MarshalIndent(siblings, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sibling cache: %w", err)
	}
	if err := r.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure sibling cache dir %s: %w", path, err)
	}
	if err := afero.WriteFile(r.fs, path, data, 0o644); err != nil {
		return fmt.Errorf("write sibling cache %s: %w", path, err)
	}
	return nil
}

// Remove deletes the cache of a catalog id. A missing file is not an error.
func (r *Resolver) Remove(id int64) error {
	err := r.fs.Remove(r.CachePath(id))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove sibling cache: %w", err)
	}
	return nil
}
