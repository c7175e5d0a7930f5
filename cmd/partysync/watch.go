package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/partysync/internal/party"
)

func newWatchCmd(state *cliState) *cobra.Command {
	var roomCode string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Join a watch-party room and chat from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if roomCode == "" {
				return errors.New("--room is required")
			}
			return runInteractive(state, party.Party(roomCode))
		},
	}
	cmd.Flags().StringVar(&roomCode, "room", "", "room code to join")
	return cmd
}

func newChatCmd(state *cliState) *cobra.Command {
	var videoID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Join the live chat of a video",
		RunE: func(cmd *cobra.Command, args []string) error {
			if videoID == "" {
				return errors.New("--video is required")
			}
			return runInteractive(state, party.VideoChat(videoID))
		},
	}
	cmd.Flags().StringVar(&videoID, "video", "", "video id whose chat to join")
	return cmd
}

// runInteractive joins a room, prints session events and sends stdin lines
// as chat. /play, /close and /quit are local commands.
func runInteractive(state *cliState, ref party.RoomRef) error {
	if state.username == "" {
		return errors.New("--username is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess := party.NewSession(state.sessionConfig(), state.user())
	defer sess.Close()

	if err := sess.Enter(ctx, ref); err != nil {
		return fmt.Errorf("enter %s: %w", ref, err)
	}
	fmt.Printf("joined %s as %s\n", ref, state.username)
	fmt.Println("Type to chat. /play <videoId> [title], /close, /quit.")

	go printEvents(ctx, sess)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			sess.Leave()
			return nil
		case line, ok := <-lines:
			if !ok {
				sess.Leave()
				return nil
			}
			if done, err := handleLine(sess, line); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			} else if done {
				sess.Leave()
				return nil
			}
		}
	}
}

func handleLine(sess *party.Session, line string) (done bool, err error) {
	text := strings.TrimSpace(line)
	switch {
	case text == "":
		return false, nil
	case text == "/quit":
		return true, nil
	case text == "/close":
		return false, sess.CloseRoom()
	case strings.HasPrefix(text, "/play "):
		fields := strings.Fields(strings.TrimPrefix(text, "/play "))
		if len(fields) == 0 {
			return false, errors.New("usage: /play <videoId> [title]")
		}
		video := party.Video{ID: fields[0], Title: strings.Join(fields[1:], " ")}
		return false, sess.PlayVideo(video)
	default:
		return false, sess.SendChat(text)
	}
}

func printEvents(ctx context.Context, sess *party.Session) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sess.Events():
			printEvent(ev)
		}
	}
}

func printEvent(ev party.Event) {
	switch ev.Kind {
	case party.EventJoined:
		fmt.Printf("* subscribed to %s\n", ev.Room)
	case party.EventMemberJoined, party.EventMemberLeft:
		fmt.Printf("* %s\n", ev.Entry.Content)
	case party.EventChatReceived:
		fmt.Printf("[%s] %s\n", ev.Entry.Sender.Username, ev.Entry.Content)
	case party.EventVideoChanged:
		fmt.Printf("* now playing: %s (%s)\n", ev.Video.Title, ev.Video.ID)
	case party.EventMemberCountChanged:
		fmt.Printf("* %d member(s) in the room\n", ev.MemberCount)
	case party.EventRoomClosed:
		fmt.Println("* room closed by the owner")
	case party.EventTransportDown:
		fmt.Println("* connection lost, reconnecting...")
	case party.EventTransportUp:
		fmt.Println("* reconnected (messages sent meanwhile were missed)")
	case party.EventError:
		fmt.Fprintf(os.Stderr, "* error: %v\n", ev.Err)
	}
}
