package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/hilthontt/pokersync/internal/domain"
	"github.com/hilthontt/pokersync/pkg/session"
	"github.com/spf13/cobra"
)

var (
	joinName      string
	joinUser      string
	joinHeartbeat time.Duration
	joinRetries   uint64
)

var errQuit = errors.New("quit")

const joinHelp = `commands:
  vote <value>     cast a vote
  name <name>      change your display name
  desc <text>      set the voting description (moderator)
  kick <id>        remove a participant (moderator)
  start            start a voting round (moderator)
  stop             reveal the votes (moderator)
  close            close the room for everyone (moderator)
  reset            drop and redial the connection
  who              print the room again
  quit             leave the room`

var joinCmd = &cobra.Command{
	Use:   "join <room-code>",
	Short: "Join a room and vote interactively",
	Long:  "Join a room and vote interactively.\n\n" + joinHelp,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		base := serverURL
		if base == "" {
			base = newClient().BaseURL()
		}

		out := cmd.OutOrStdout()
		ctrl, err := session.New(base, args[0], joinName, session.Options{
			ParticipantID:     joinUser,
			HeartbeatInterval: joinHeartbeat,
			MaxRetries:        joinRetries,
			Logger:            newLogger(),
			OnStatus: func(s session.Status) {
				fmt.Fprintf(out, "* %s\n", s)
			},
			OnRoom: func(room *domain.Room) {
				printRoom(out, room)
			},
			OnError: func(code, message string) {
				fmt.Fprintf(out, "! %s: %s\n", code, message)
			},
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		go readCommands(cmd.InOrStdin(), out, ctrl, stop)

		err = ctrl.Run(ctx)
		if id := ctrl.ParticipantID(); id != "" {
			fmt.Fprintf(out, "* participant %s (rejoin with --user %s)\n", id, id)
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	joinCmd.Flags().StringVarP(&joinName, "name", "n", "", "display name")
	joinCmd.Flags().StringVarP(&joinUser, "user", "u", "", "participant id to resume")
	joinCmd.Flags().DurationVar(&joinHeartbeat, "heartbeat", 0, "heartbeat interval (default 10s)")
	joinCmd.Flags().Uint64Var(&joinRetries, "retries", 0, "give up after this many failed dials, zero retries forever")
	_ = joinCmd.MarkFlagRequired("name")

	rootCmd.AddCommand(joinCmd)
}

// readCommands feeds stdin lines to the controller until quit or EOF.
func readCommands(in io.Reader, out io.Writer, ctrl *session.Controller, stop func()) {
	defer stop()
	defer ctrl.Close()

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		err := runCommand(ctrl, out, scanner.Text())
		if errors.Is(err, errQuit) {
			return
		}
		if err != nil {
			fmt.Fprintf(out, "! %v\n", err)
		}
	}
}

type commander interface {
	Vote(value string) error
	ChangeName(name string) error
	UpdateVotingDescription(value string) error
	Kick(participantID string) error
	StartVoting() error
	StopVoting() error
	CloseRoom() error
	Reset() error
	Room() *domain.Room
}

func runCommand(ctrl commander, out io.Writer, line string) error {
	verb, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(verb) {
	case "":
		return nil
	case "vote", "v":
		if arg == "" {
			return errors.New("usage: vote <value>")
		}
		return ctrl.Vote(arg)
	case "name":
		if arg == "" {
			return errors.New("usage: name <name>")
		}
		return ctrl.ChangeName(arg)
	case "desc":
		return ctrl.UpdateVotingDescription(arg)
	case "kick":
		if arg == "" {
			return errors.New("usage: kick <participant-id>")
		}
		return ctrl.Kick(arg)
	case "start":
		return ctrl.StartVoting()
	case "stop":
		return ctrl.StopVoting()
	case "close":
		return ctrl.CloseRoom()
	case "reset":
		return ctrl.Reset()
	case "who":
		printRoom(out, ctrl.Room())
		return nil
	case "help", "?":
		fmt.Fprintln(out, joinHelp)
		return nil
	case "quit", "exit", "q":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q, type help", verb)
	}
}

func printRoom(out io.Writer, room *domain.Room) {
	if room == nil {
		fmt.Fprintln(out, "* no room yet")
		return
	}

	fmt.Fprintf(out, "room %s (%s) [%s]\n", room.RoomCode, room.State, strings.Join(room.Options, " "))
	if room.VotingDescription != "" {
		fmt.Fprintf(out, "  %s\n", room.VotingDescription)
	}

	ids := make([]string, 0, len(room.Participants))
	for id := range room.Participants {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int {
		return room.Participants[a].JoinedAt.Compare(room.Participants[b].JoinedAt)
	})

	for _, id := range ids {
		p := room.Participants[id]
		marks := ""
		if room.Moderator != nil && room.Moderator.ID == id {
			marks += "*"
		}
		if !p.Connected {
			marks += "~"
		}
		fmt.Fprintf(out, "  %-2s%-12s %-6s %s\n", marks, p.Name, voteLabel(room.State, p), id)
	}
}

func voteLabel(state domain.RoomState, p domain.Participant) string {
	switch {
	case !p.HasVoted():
		return "-"
	case state == domain.StateResults:
		return p.Vote
	default:
		return "voted"
	}
}

var _ commander = (*session.Controller)(nil)
