package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/mcoot/rpsleague/internal/api/request"
	"github.com/mcoot/rpsleague/internal/api/response"
)

func newGameCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "game",
		Short: "Game commands",
	}

	cmd.AddCommand(newGameGetCmd())
	cmd.AddCommand(newGameMoveCmd())
	cmd.AddCommand(newGameEventsCmd())

	return cmd
}

func newGameGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <game-id>",
		Short: "Get current game state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.Game

			if err := client.Get(cmd.Context(), apiPath("games", args[0]), &result); err != nil {
				return err
			}

			NewOutput(cfg.Output, cmd.OutOrStdout()).Print(result)
			return nil
		},
	}
}

func newGameMoveCmd() *cobra.Command {
	var playerID string

	cmd := &cobra.Command{
		Use:   "move <game-id> <rock|paper|scissors>",
		Short: "Play a move",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := request.MakeMoveRequest{PlayerID: playerID, Move: strings.ToUpper(args[1])}
			var result response.Game

			if err := client.Post(cmd.Context(), apiPath("games", args[0], "moves"), req, &result); err != nil {
				return err
			}

			NewOutput(cfg.Output, cmd.OutOrStdout()).Print(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&playerID, "player", "", "Moving player ID (required)")
	_ = cmd.MarkFlagRequired("player")

	return cmd
}

func newGameEventsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "events <game-id>",
		Short: "Print a game's event log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result []GameEvent

			if err := client.Get(cmd.Context(), apiPath("games", args[0], "events"), &result); err != nil {
				return err
			}

			NewOutput(cfg.Output, cmd.OutOrStdout()).Print(result)
			return nil
		},
	}
}
