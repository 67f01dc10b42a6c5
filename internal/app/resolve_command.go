package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
)

// ResolveCommand shows what an existing install would launch, without
// downloading anything.
type ResolveCommand struct {
	configFlag
	gameID string
	out    io.Writer
	env    *Env
}

func NewResolveCommand() *ResolveCommand {
	return &ResolveCommand{out: os.Stdout}
}

func (c *ResolveCommand) Name() string { return "resolve" }

func (c *ResolveCommand) Desc() string {
	return "Resolve the playable files of an installed game"
}

func (c *ResolveCommand) Init(f *pflag.FlagSet) {
	c.initConfigFlag(f)
	f.StringVar(&c.gameID, "game", "", "library game id")
}

func (c *ResolveCommand) PreRun(ctx context.Context) error {
	if c.gameID == "" {
		return errors.New("resolve requires --game")
	}
	if err := c.loadConfig(); err != nil {
		return err
	}
	env, err := NewEnv(ctx, c.cfg, false)
	if err != nil {
		return err
	}
	c.env = env
	return nil
}

func (c *ResolveCommand) Run(ctx context.Context) error {
	return resolveGame(ctx, c.env, c.gameID, c.out)
}

func (c *ResolveCommand) PostRun(ctx context.Context) error {
	return c.env.Close()
}

func resolveGame(ctx context.Context, env *Env, gameID string, out io.Writer) error {
	game, err := env.Library.Get(ctx, gameID)
	if err != nil {
		return err
	}
	jc, err := env.Builder.Context(ctx, game)
	if err != nil {
		return err
	}
	roms, err := env.Resolver.Resolve(ctx, jc)
	if err != nil {
		return err
	}
	for _, r := range roms {
		fmt.Fprintf(out, "%s\t%s\n", r.Name, r.Path)
	}
	return nil
}

func init() {
	RegisterRunner("resolve", func() IRunner { return NewResolveCommand() })
}
