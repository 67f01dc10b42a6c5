package cli

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/romget/internal/app"
)

var rootCmd = &cobra.Command{
	Use:           "romget",
	Short:         "Sync a RomM catalog and install games with their launchable roms",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Error("exec cmd failed", zap.Error(err))
		return err
	}
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func newRunnerCommand(runner app.IRunner) *cobra.Command {
	subcmd := &cobra.Command{
		Use:   runner.Name(),
		Short: runner.Desc(),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := commandContext(cmd)
			if err := runner.PreRun(ctx); err != nil {
				return err
			}
			runErr := runner.Run(ctx)
			if err := runner.PostRun(ctx); err != nil && runErr == nil {
				return err
			}
			return runErr
		},
	}
	runner.Init(subcmd.Flags())
	return subcmd
}

func init() {
	for _, name := range app.RunnerList() {
		rootCmd.AddCommand(newRunnerCommand(app.MustResolveRunner(name)))
	}
}
