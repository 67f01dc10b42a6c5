package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/pflag"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// InstallCommand downloads library games and records their playable roms.
type InstallCommand struct {
	configFlag
	gameIDs []string
	env     *Env
}

func NewInstallCommand() *InstallCommand {
	return &InstallCommand{}
}

func (c *InstallCommand) Name() string { return "install" }

func (c *InstallCommand) Desc() string {
	return "Download library games and resolve the files to launch"
}

func (c *InstallCommand) Init(f *pflag.FlagSet) {
	c.initConfigFlag(f)
	f.StringSliceVar(&c.gameIDs, "game", nil, "library game id to install, repeatable")
}

func (c *InstallCommand) PreRun(ctx context.Context) error {
	if len(c.gameIDs) == 0 {
		return errors.New("install requires --game")
	}
	if err := c.loadConfig(); err != nil {
		return err
	}
	env, err := NewEnv(ctx, c.cfg, true)
	if err != nil {
		return err
	}
	c.env = env
	return nil
}

func (c *InstallCommand) Run(ctx context.Context) error {
	logger := logutil.GetLogger(ctx)
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-sigCtx.Done():
			n := c.env.Queue.CancelAll()
			logger.Warn("interrupted, canceling install jobs", zap.Int("jobs", n))
		case <-done:
		}
	}()

	var errs []error
	for _, id := range c.gameIDs {
		if err := c.env.Builder.Install(sigCtx, id); err != nil {
			errs = append(errs, fmt.Errorf("install %s: %w", id, err))
		}
	}
	c.env.Queue.Wait()

	for _, id := range c.gameIDs {
		g, err := c.env.Library.Get(ctx, id)
		if err != nil {
			continue
		}
		logger.Info("install result",
			zap.String("id", g.ID),
			zap.String("name", g.Name),
			zap.Bool("installed", g.IsInstalled),
			zap.Int("roms", len(g.Roms)),
		)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if n := c.env.Notifier.Count(); n > 0 {
		return fmt.Errorf("%d install job(s) failed", n)
	}
	return nil
}

func (c *InstallCommand) PostRun(ctx context.Context) error {
	return c.env.Close()
}

func init() {
	RegisterRunner("install", func() IRunner { return NewInstallCommand() })
}
