package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/partysync/internal/api"
)

const restTimeout = 15 * time.Second

func newRoomsCmd(state *cliState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rooms",
		Short: "Manage watch-party rooms through the backend API",
	}
	cmd.AddCommand(
		newRoomsCreateCmd(state),
		newRoomsGetCmd(state),
		newRoomsJoinCmd(state),
		newRoomsCloseCmd(state),
		newRoomsPublicCmd(state),
		newRoomsHistoryCmd(state),
	)
	return cmd
}

func apiClient(state *cliState) *api.Client {
	return api.NewClient(state.cfg.APIBaseURL, state.tokens())
}

func newRoomsCreateCmd(state *cliState) *cobra.Command {
	var name, description string
	var public bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new room",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return errors.New("--name is required")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), restTimeout)
			defer cancel()

			room, err := apiClient(state).CreateRoom(ctx, api.CreateRoomRequest{
				Name:        name,
				Description: description,
				Public:      public,
			})
			if err != nil {
				return err
			}
			printRoom(room)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "room name")
	cmd.Flags().StringVar(&description, "description", "", "room description")
	cmd.Flags().BoolVar(&public, "public", false, "list the room publicly")
	return cmd
}

func newRoomsGetCmd(state *cliState) *cobra.Command {
	var byID bool

	cmd := &cobra.Command{
		Use:   "get <room-code|room-id>",
		Short: "Look a room up by code or id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), restTimeout)
			defer cancel()

			client := apiClient(state)
			var room *api.Room
			var err error
			if byID {
				room, err = client.RoomByID(ctx, args[0])
			} else {
				room, err = client.RoomByCode(ctx, args[0])
			}
			if err != nil {
				return err
			}
			printRoom(room)
			return nil
		},
	}
	cmd.Flags().BoolVar(&byID, "id", false, "treat the argument as a room id instead of a code")
	return cmd
}

func newRoomsJoinCmd(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "join <room-code>",
		Short: "Register as a member of a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), restTimeout)
			defer cancel()

			room, err := apiClient(state).JoinRoom(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("joined room %s; run: partysync watch --room %s\n", room.RoomCode, room.RoomCode)
			return nil
		},
	}
}

func newRoomsCloseCmd(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "close <room-code>",
		Short: "Close a room you own",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), restTimeout)
			defer cancel()

			if err := apiClient(state).CloseRoom(ctx, args[0]); err != nil {
				return err
			}
			fmt.Println("room closed")
			return nil
		},
	}
}

func newRoomsPublicCmd(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "public",
		Short: "List active public rooms",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), restTimeout)
			defer cancel()

			rooms, err := apiClient(state).PublicRooms(ctx)
			if err != nil {
				return err
			}
			if len(rooms) == 0 {
				fmt.Println("no public rooms")
				return nil
			}
			for i := range rooms {
				printRoom(&rooms[i])
			}
			return nil
		},
	}
}

func newRoomsHistoryCmd(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "history <room-code>",
		Short: "Print the persisted chat transcript of a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), restTimeout)
			defer cancel()

			messages, err := apiClient(state).ChatHistory(ctx, args[0])
			if err != nil {
				return err
			}
			for _, m := range messages {
				ts := time.UnixMilli(m.Timestamp).Format(time.TimeOnly)
				fmt.Printf("%s [%s] %s\n", ts, m.SenderUsername, m.Content)
			}
			return nil
		},
	}
}

func printRoom(room *api.Room) {
	status := "closed"
	if room.Active {
		status = "active"
	}
	fmt.Printf("%s  %-20s  owner=%s  members=%d  %s\n",
		room.RoomCode, room.Name, room.OwnerUsername, room.MemberCount, status)
	if room.CurrentVideoTitle != "" {
		fmt.Printf("      playing: %s (elapsed %ds)\n", room.CurrentVideoTitle, room.VideoElapsedSeconds)
	}
}
