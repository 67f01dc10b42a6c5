package storage

import (
	"context"
	"path"
	"strconv"
	"strings"
)

// Client abstracts the subset of object store operations the tool needs.
type Client interface {
	DownloadToFile(ctx context.Context, key, destPath string) error
}

// RomKey returns the object key a ROM file is mirrored under:
// <prefix>/<rom id>/<file name>.
func RomKey(prefix string, romID int64, fileName string) string {
	prefix = strings.Trim(prefix, "/")
	key := path.Join(strconv.FormatInt(romID, 10), fileName)
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}
