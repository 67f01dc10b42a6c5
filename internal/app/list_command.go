package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"
)

// ListCommand prints the library and install state of each game.
type ListCommand struct {
	configFlag
	out io.Writer
	env *Env
}

func NewListCommand() *ListCommand {
	return &ListCommand{out: os.Stdout}
}

func (c *ListCommand) Name() string { return "list" }

func (c *ListCommand) Desc() string { return "List library games" }

func (c *ListCommand) Init(f *pflag.FlagSet) {
	c.initConfigFlag(f)
}

func (c *ListCommand) PreRun(ctx context.Context) error {
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

func (c *ListCommand) Run(ctx context.Context) error {
	games, err := c.env.Library.List(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tMAPPING\tSTATE")
	for _, g := range games {
		state := "-"
		switch {
		case g.IsInstalling:
			state = "installing"
		case g.IsInstalled:
			state = "installed"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", g.ID, g.Name, g.MappingID, state)
	}
	return w.Flush()
}

func (c *ListCommand) PostRun(ctx context.Context) error {
	return c.env.Close()
}

func init() {
	RegisterRunner("list", func() IRunner { return NewListCommand() })
}
