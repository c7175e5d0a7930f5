package party

// RoomKind distinguishes the two topic namespaces the broker exposes.
type RoomKind int

const (
	// KindParty is a watch-party room addressed by room code.
	KindParty RoomKind = iota
	// KindVideoChat is the per-video chat room addressed by video id.
	KindVideoChat
)

// RoomRef addresses one room. Key is the uppercase room code for parties
// and the raw video id for video chats.
type RoomRef struct {
	Kind RoomKind
	Key  string
}

// Party builds a reference to a watch-party room.
func Party(roomCode string) RoomRef {
	return RoomRef{Kind: KindParty, Key: CanonicalRoomCode(roomCode)}
}

// VideoChat builds a reference to a video's chat room.
func VideoChat(videoID string) RoomRef {
	return RoomRef{Kind: KindVideoChat, Key: videoID}
}

// Topic returns the broker fan-out destination for the room.
func (r RoomRef) Topic() string {
	if r.Kind == KindVideoChat {
		return "/topic/chat/" + r.Key
	}
	return "/topic/watch-party/" + r.Key
}

// commandDestination maps an outbound verb onto the broker's app
// destination namespace. Video chats publish plain messages to the bare
// /app/chat/{videoId} destination.
func (r RoomRef) commandDestination(verb string) string {
	if r.Kind == KindVideoChat {
		if verb == "chat" {
			return "/app/chat/" + r.Key
		}
		return "/app/chat/" + r.Key + "/" + verb
	}
	return "/app/watch-party/" + r.Key + "/" + verb
}

func (r RoomRef) String() string {
	if r.Kind == KindVideoChat {
		return "video:" + r.Key
	}
	return "party:" + r.Key
}
