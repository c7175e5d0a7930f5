package party

import (
	"strings"
	"time"
)

// Command is a validated outbound envelope plus the app destination it
// publishes to. Building one never touches the network.
type Command struct {
	Destination string
	Envelope    Envelope
}

func validateRoom(ref RoomRef) error {
	if ref.Key == "" {
		if ref.Kind == KindVideoChat {
			return &ValidationError{Field: "videoId", Reason: "must not be empty"}
		}
		return &ValidationError{Field: "roomCode", Reason: "must not be empty"}
	}
	return nil
}

func validateSender(sender User) error {
	if strings.TrimSpace(sender.Username) == "" {
		return &ValidationError{Field: "senderUsername", Reason: "must not be empty"}
	}
	return nil
}

// base fills the shared envelope fields. Timestamps are sender-assigned;
// the broker may overwrite them on fan-out.
func base(ref RoomRef, sender User, t MessageType) Envelope {
	e := Envelope{
		Type:           t,
		SenderID:       sender.ID,
		SenderUsername: sender.Username,
		Timestamp:      time.Now().UnixMilli(),
	}
	if ref.Kind == KindVideoChat {
		e.VideoID = ref.Key
	} else {
		e.RoomCode = ref.Key
	}
	return e
}

// BuildJoin announces the sender entering the room.
func BuildJoin(ref RoomRef, sender User) (Command, error) {
	if err := validateRoom(ref); err != nil {
		return Command{}, err
	}
	if err := validateSender(sender); err != nil {
		return Command{}, err
	}
	return Command{
		Destination: ref.commandDestination("join"),
		Envelope:    base(ref, sender, TypeJoin),
	}, nil
}

// BuildLeave announces the sender leaving the room.
func BuildLeave(ref RoomRef, sender User) (Command, error) {
	if err := validateRoom(ref); err != nil {
		return Command{}, err
	}
	if err := validateSender(sender); err != nil {
		return Command{}, err
	}
	return Command{
		Destination: ref.commandDestination("leave"),
		Envelope:    base(ref, sender, TypeLeave),
	}, nil
}

// BuildChat carries a chat message. Empty content is rejected before any
// publish.
func BuildChat(ref RoomRef, sender User, content string) (Command, error) {
	if err := validateRoom(ref); err != nil {
		return Command{}, err
	}
	if err := validateSender(sender); err != nil {
		return Command{}, err
	}
	if strings.TrimSpace(content) == "" {
		return Command{}, &ValidationError{Field: "content", Reason: "must not be empty"}
	}
	env := base(ref, sender, TypeChat)
	env.Content = content
	return Command{Destination: ref.commandDestination("chat"), Envelope: env}, nil
}

// BuildPlayVideo asks all members to switch to a video. Only meaningful
// from the room owner; the broker rejects everyone else.
func BuildPlayVideo(ref RoomRef, sender User, video Video) (Command, error) {
	if err := validateRoom(ref); err != nil {
		return Command{}, err
	}
	if err := validateSender(sender); err != nil {
		return Command{}, err
	}
	if ref.Kind != KindParty {
		return Command{}, &ValidationError{Field: "room", Reason: "video playback commands require a watch-party room"}
	}
	if video.ID == "" {
		return Command{}, &ValidationError{Field: "videoId", Reason: "must not be empty"}
	}
	env := base(ref, sender, TypePlayVideo)
	env.VideoID = video.ID
	env.VideoTitle = video.Title
	env.VideoThumbnail = video.Thumbnail
	return Command{Destination: ref.commandDestination("play"), Envelope: env}, nil
}

// BuildClose terminates the room for everyone.
func BuildClose(ref RoomRef, sender User) (Command, error) {
	if err := validateRoom(ref); err != nil {
		return Command{}, err
	}
	if err := validateSender(sender); err != nil {
		return Command{}, err
	}
	if ref.Kind != KindParty {
		return Command{}, &ValidationError{Field: "room", Reason: "only watch-party rooms can be closed"}
	}
	return Command{
		Destination: ref.commandDestination("close"),
		Envelope:    base(ref, sender, TypeRoomClosed),
	}, nil
}
