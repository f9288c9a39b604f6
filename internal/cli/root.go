package cli

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/ngenohkevin/questdeck-agent/config"
	"github.com/ngenohkevin/questdeck-agent/internal/channel"
	"github.com/ngenohkevin/questdeck-agent/internal/logging"
	"github.com/ngenohkevin/questdeck-agent/internal/server"
)

// clientFlags are shared by the commands that talk to a running agent
type clientFlags struct {
	url   string
	token string
	wait  time.Duration
}

// NewRootCmd builds the questdeck command tree. Without a subcommand it serves.
func NewRootCmd() *cobra.Command {
	flags := &clientFlags{}

	root := &cobra.Command{
		Use:           "questdeck",
		Version:       server.Version,
		Short:         "Local agent that drives quest completion for a chat client",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}

	root.PersistentFlags().StringVar(&flags.url, "url", "", "control channel URL (default CHANNEL_URL)")
	root.PersistentFlags().StringVar(&flags.token, "token", "", "API key or JWT (default API_KEY)")
	root.PersistentFlags().DurationVar(&flags.wait, "wait", 0, "give up after this long (0 waits forever)")

	root.AddCommand(
		newServeCmd(),
		newWatchCmd(flags),
		newExecuteCmd(flags),
		newQuestsCmd(flags),
	)
	return root
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the agent and its control endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
}

// newClient builds a channel client from flags, falling back to the loaded config
func newClient(flags *clientFlags) (*channel.Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	url := flags.url
	if url == "" {
		url = cfg.ChannelURL
	}
	token := flags.token
	if token == "" {
		token = cfg.APIKey
	}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	return channel.New(channel.Options{
		URL:            url,
		MaxReconnects:  cfg.ChannelMaxReconnects,
		BaseDelay:      cfg.ChannelBaseDelay,
		ConnectTimeout: cfg.ChannelConnectTimeout,
		Dialer:         channel.NewWebSocketDialer(header),
		Logger:         logging.New(cfg.LogLevel),
	}), nil
}
