package app

import (
	"context"
	"errors"

	"github.com/spf13/pflag"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// SyncCommand imports RomM entries into the library.
type SyncCommand struct {
	configFlag
	romIDs     []int64
	platformID int64
	env        *Env
	syncer     *Syncer
}

func NewSyncCommand() *SyncCommand {
	return &SyncCommand{}
}

func (c *SyncCommand) Name() string { return "sync" }

func (c *SyncCommand) Desc() string {
	return "Import RomM roms and their sibling versions into the library"
}

func (c *SyncCommand) Init(f *pflag.FlagSet) {
	c.initConfigFlag(f)
	f.Int64SliceVar(&c.romIDs, "rom", nil, "RomM rom id to sync, repeatable")
	f.Int64Var(&c.platformID, "platform", 0, "RomM platform id to sync completely")
}

func (c *SyncCommand) PreRun(ctx context.Context) error {
	if len(c.romIDs) == 0 && c.platformID == 0 {
		return errors.New("sync requires --rom or --platform")
	}
	if err := c.loadConfig(); err != nil {
		return err
	}
	client, err := NewRomMClient(c.cfg)
	if err != nil {
		return err
	}
	env, err := NewEnv(ctx, c.cfg, false)
	if err != nil {
		return err
	}
	c.env = env
	c.syncer = NewSyncer(c.cfg, client, env.Library, env.Siblings)
	return nil
}

func (c *SyncCommand) Run(ctx context.Context) error {
	total := &SyncResult{}
	if len(c.romIDs) > 0 {
		res, err := c.syncer.SyncRoms(ctx, c.romIDs)
		if err != nil {
			return err
		}
		total.add(res)
	}
	if c.platformID != 0 {
		res, err := c.syncer.SyncPlatform(ctx, c.platformID)
		if err != nil {
			return err
		}
		total.add(res)
	}
	logutil.GetLogger(ctx).Info("sync finished",
		zap.Int("synced", total.Synced),
		zap.Int("skipped", total.Skipped),
		zap.Int("siblings", total.Siblings),
	)
	return nil
}

func (c *SyncCommand) PostRun(ctx context.Context) error {
	return c.env.Close()
}

func (r *SyncResult) add(o *SyncResult) {
	r.Synced += o.Synced
	r.Skipped += o.Skipped
	r.Siblings += o.Siblings
}

func init() {
	RegisterRunner("sync", func() IRunner { return NewSyncCommand() })
}
