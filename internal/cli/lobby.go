package cli

import (
	"github.com/spf13/cobra"

	"github.com/mcoot/rpsleague/internal/api/request"
	"github.com/mcoot/rpsleague/internal/api/response"
)

func newLobbyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lobby",
		Short: "Lobby commands",
	}

	cmd.AddCommand(newLobbyGetCmd())
	cmd.AddCommand(newLobbyJoinCmd())

	return cmd
}

func newLobbyGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <lobby-id>",
		Short: "Show who is waiting in a lobby",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.Lobby

			if err := client.Get(cmd.Context(), apiPath("lobbies", args[0]), &result); err != nil {
				return err
			}

			NewOutput(cfg.Output, cmd.OutOrStdout()).Print(result)
			return nil
		},
	}
}

func newLobbyJoinCmd() *cobra.Command {
	var playerID string

	cmd := &cobra.Command{
		Use:   "join <lobby-id>",
		Short: "Join a lobby and get matched into a game",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := request.JoinLobbyRequest{PlayerID: playerID}
			var result response.Lobby

			if err := client.Post(cmd.Context(), apiPath("lobbies", args[0], "join"), req, &result); err != nil {
				return err
			}

			NewOutput(cfg.Output, cmd.OutOrStdout()).Print(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&playerID, "player", "", "Joining player ID (required)")
	_ = cmd.MarkFlagRequired("player")

	return cmd
}
