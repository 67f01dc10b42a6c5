package app

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/xxxsen/romget/internal/config"
	"github.com/xxxsen/romget/internal/queue"
	"github.com/xxxsen/romget/internal/storage"
)

// romContentFetcher is the part of the RomM client transfers need.
type romContentFetcher interface {
	DownloadContent(ctx context.Context, romID int64, fileName, destPath string) error
}

// NewFetcher connects the transfer source selected by cfg.Source.
func NewFetcher(ctx context.Context, cfg *config.Config) (queue.Fetcher, error) {
	switch cfg.Source {
	case config.SourceRomM:
		client, err := NewRomMClient(cfg)
		if err != nil {
			return nil, err
		}
		return rommFetcher(client), nil
	case config.SourceS3:
		client, err := storage.NewS3Client(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return s3Fetcher(client, cfg.S3.Prefix), nil
	default:
		return nil, fmt.Errorf("unsupported source %q", cfg.Source)
	}
}

// rommFetcher downloads ROM content straight from the catalog. Multi-file
// ROMs are served as a single archive under their file name.
func rommFetcher(c romContentFetcher) queue.Fetcher {
	return queue.FetchFunc(func(ctx context.Context, d queue.Download) error {
		if d.RomID == 0 {
			return fmt.Errorf("variant %s has no catalog rom id", d.FileName)
		}
		return c.DownloadContent(ctx, d.RomID, d.FileName, d.Target)
	})
}

// s3Fetcher downloads ROMs mirrored to an object store, keyed by rom id and
// the name the download is stored under.
func s3Fetcher(c storage.Client, prefix string) queue.Fetcher {
	return queue.FetchFunc(func(ctx context.Context, d queue.Download) error {
		return c.DownloadToFile(ctx, storage.RomKey(prefix, d.RomID, filepath.Base(d.Target)), d.Target)
	})
}
