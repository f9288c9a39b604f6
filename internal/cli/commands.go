package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// commandContext ends on SIGINT/SIGTERM or after --wait
func commandContext(cmd *cobra.Command, flags *clientFlags) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	if flags.wait <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, flags.wait)
	return ctx, func() {
		cancel()
		stop()
	}
}

func newWatchCmd(flags *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print logs and progress broadcast by a running agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(flags)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd, flags)
			defer cancel()
			return watch(ctx, client, printer{out: cmd.OutOrStdout()})
		},
	}
}

func newExecuteCmd(flags *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "execute [questId]",
		Short: "Run one quest, or every eligible quest when no id is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			questID := ""
			if len(args) == 1 {
				questID = args[0]
			}

			client, err := newClient(flags)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd, flags)
			defer cancel()
			return executeQuest(ctx, client, questID, printer{out: cmd.OutOrStdout()})
		},
	}
}

func newQuestsCmd(flags *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "quests",
		Short: "List the quests a running agent knows about",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(flags)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd, flags)
			defer cancel()
			return listQuests(ctx, client, printer{out: cmd.OutOrStdout()})
		},
	}
}
