package app

import (
	"context"
	"fmt"
	"strconv"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/romget/internal/config"
	"github.com/xxxsen/romget/internal/library"
	"github.com/xxxsen/romget/internal/model"
	"github.com/xxxsen/romget/internal/rominfo"
	"github.com/xxxsen/romget/internal/romm"
	"github.com/xxxsen/romget/internal/sibling"
)

// rommCatalog is the part of the RomM client the syncer needs.
type rommCatalog interface {
	GetRom(ctx context.Context, romID int64) (*romm.Rom, error)
	ListRoms(ctx context.Context, platformID int64, limit, offset int) (*romm.ListRomsResponse, error)
}

// SyncResult summarises one sync pass.
type SyncResult struct {
	Synced   int
	Skipped  int
	Siblings int
}

// Syncer copies RomM entries into the library and writes their sibling caches.
type Syncer struct {
	cfg      *config.Config
	catalog  rommCatalog
	lib      library.Library
	siblings *sibling.Resolver
}

// NewSyncer builds a Syncer.
func NewSyncer(cfg *config.Config, catalog rommCatalog, lib library.Library, siblings *sibling.Resolver) *Syncer {
	return &Syncer{cfg: cfg, catalog: catalog, lib: lib, siblings: siblings}
}

// SyncPlatform syncs every ROM of a platform, page by page.
func (s *Syncer) SyncPlatform(ctx context.Context, platformID int64) (*SyncResult, error) {
	res := &SyncResult{}
	offset := 0
	for {
		page, err := s.catalog.ListRoms(ctx, platformID, 0, offset)
		if err != nil {
			return res, err
		}
		for _, item := range page.Items {
			if err := s.syncOne(ctx, item.ID, res); err != nil {
				return res, err
			}
		}
		offset += len(page.Items)
		if len(page.Items) == 0 || offset >= page.Total {
			break
		}
	}
	return res, nil
}

// SyncRoms syncs the given ROM ids.
func (s *Syncer) SyncRoms(ctx context.Context, romIDs []int64) (*SyncResult, error) {
	res := &SyncResult{}
	for _, id := range romIDs {
		if err := s.syncOne(ctx, id, res); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (s *Syncer) syncOne(ctx context.Context, romID int64, res *SyncResult) error {
	logger := logutil.GetLogger(ctx).With(zap.Int64("rom_id", romID))
	rom, err := s.catalog.GetRom(ctx, romID)
	if err != nil {
		return err
	}
	mapping, ok := s.cfg.MappingForPlatform(rom.PlatformID)
	if !ok {
		logger.Warn("platform not mapped, skip", zap.Int64("platform_id", rom.PlatformID))
		res.Skipped++
		return nil
	}

	primary := descriptorOf(rom, mapping)
	gameID, err := rominfo.Encode(&primary)
	if err != nil {
		return fmt.Errorf("encode rom %d: %w", romID, err)
	}

	siblings := make([]rominfo.RomInfo, 0, len(rom.SiblingRoms))
	for _, sib := range rom.SiblingRoms {
		detail, err := s.catalog.GetRom(ctx, sib.ID)
		if err != nil {
			return fmt.Errorf("sibling %d of rom %d: %w", sib.ID, romID, err)
		}
		siblings = append(siblings, descriptorOf(detail, mapping))
	}
	if len(siblings) > 0 {
		if err := s.siblings.Write(rom.ID, siblings); err != nil {
			return err
		}
	} else if err := s.siblings.Remove(rom.ID); err != nil {
		return err
	}

	game := &model.Game{
		ID:         strconv.FormatInt(rom.ID, 10),
		GameID:     gameID,
		Name:       rom.DisplayName(),
		Version:    sibling.Version(config.SourceRomM, rom.ID),
		MappingID:  mapping.ID,
		PlatformID: rom.PlatformID,
	}
	if err := s.lib.Upsert(ctx, game); err != nil {
		return err
	}
	res.Synced++
	res.Siblings += len(siblings)
	logger.Info("rom synced",
		zap.String("name", game.Name),
		zap.String("mapping", mapping.ID),
		zap.Int("siblings", len(siblings)),
	)
	return nil
}

func descriptorOf(rom *romm.Rom, m config.MappingConfig) rominfo.RomInfo {
	info := rominfo.RomInfo{
		RomID:            rom.ID,
		FileName:         rom.FsName,
		HasMultipleFiles: rom.IsMulti(),
		MappingID:        m.ID,
	}
	if m.EmulatorID != "" {
		info.Mapping = &rominfo.Mapping{
			EmulatorID: m.EmulatorID,
			ProfileID:  m.ProfileID,
			UseM3U:     m.UseM3U,
		}
	}
	return info
}
