package main

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/partysync/internal/auth"
	"github.com/vovakirdan/partysync/internal/config"
	"github.com/vovakirdan/partysync/internal/log"
	"github.com/vovakirdan/partysync/internal/party"
)

// cliState carries config and logger resolved once for all subcommands.
type cliState struct {
	cfg      config.Config
	logger   *zerolog.Logger
	username string
	userID   string
}

func (s *cliState) user() party.User {
	id := s.userID
	if id == "" {
		id = uuid.NewString()
	}
	return party.User{ID: id, Username: s.username}
}

func (s *cliState) tokens() auth.TokenSource {
	return auth.FromConfig(s.cfg.Token, s.cfg.TokenFile)
}

func (s *cliState) sessionConfig() party.SessionConfig {
	return party.SessionConfig{
		BrokerURL:      s.cfg.BrokerURL,
		Heartbeat:      s.cfg.Heartbeat,
		ReconnectDelay: s.cfg.ReconnectDelay,
		Logger:         s.logger,
	}
}

func newRootCmd() *cobra.Command {
	state := &cliState{}
	var configPath string
	var logLevel string

	root := &cobra.Command{
		Use:           "partysync",
		Short:         "Watch-party synchronization client",
		Long:          "partysync keeps a watch-party room in sync: membership, the playing video and the room chat, over the broker's pub/sub topics.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			bootstrap := log.New("info")
			cfg, _, err := config.Load(bootstrap, configPath)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			state.cfg = cfg
			state.logger = log.New(cfg.LogLevel)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&state.username, "username", "", "username announced to the room")
	root.PersistentFlags().StringVar(&state.userID, "user-id", "", "stable user id (random if omitted)")

	root.AddCommand(newWatchCmd(state))
	root.AddCommand(newChatCmd(state))
	root.AddCommand(newRoomsCmd(state))
	return root
}
