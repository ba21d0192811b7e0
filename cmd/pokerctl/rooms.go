package main

import (
	"fmt"
	"strings"

	"github.com/hilthontt/pokersync/pkg/client"
	"github.com/spf13/cobra"
)

var createOptions []string

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a room and print its code",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		room, err := newClient().Rooms.Create(cmd.Context(), client.CreateRoomParams{Options: createOptions})
		if err != nil {
			return fmt.Errorf("could not create room: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), room.RoomCode)
		fmt.Fprintf(cmd.ErrOrStderr(), "options: %s\n", strings.Join(room.Options, " "))
		return nil
	},
}

var checkCmd = &cobra.Command{
	Use:   "check <room-code>",
	Short: "Report whether a room exists",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		exists, err := newClient().Rooms.Exists(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("could not check room: %w", err)
		}

		if !exists {
			return fmt.Errorf("room %s does not exist", strings.ToUpper(args[0]))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "room %s exists\n", strings.ToUpper(args[0]))
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <room-code>",
	Short: "Print the current state of a room",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		room, err := newClient().Rooms.Get(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("could not load room: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "room %s (%s)\n", room.RoomCode, room.State)
		if room.VotingDescription != "" {
			fmt.Fprintf(out, "  %s\n", room.VotingDescription)
		}
		for _, p := range room.Participants {
			role := "voter"
			if room.Moderator != nil && room.Moderator.ID == p.ID {
				role = "moderator"
			}
			vote := "-"
			switch {
			case p.Vote != "":
				vote = p.Vote
			case p.HasVoted:
				vote = "voted"
			}
			fmt.Fprintf(out, "  %-10s %-9s %-6s %s\n", p.Name, role, vote, p.ID)
		}
		return nil
	},
}

func init() {
	createCmd.Flags().StringSliceVar(&createOptions, "options", nil, "card deck, comma separated")

	rootCmd.AddCommand(createCmd, checkCmd, showCmd)
}
