package party

// EventKind is a notification the session emits to its observer.
type EventKind int

const (
	// EventJoined confirms the room subscription is live.
	EventJoined EventKind = iota
	// EventMemberJoined notifies about a JOIN seen on the topic.
	EventMemberJoined
	// EventMemberLeft notifies about a LEAVE seen on the topic.
	EventMemberLeft
	// EventChatReceived delivers a chat transcript entry.
	EventChatReceived
	// EventVideoChanged notifies that the room's current video changed.
	EventVideoChanged
	// EventMemberCountChanged carries the broker's member tally.
	EventMemberCountChanged
	// EventRoomClosed marks the room as terminated by its owner.
	EventRoomClosed
	// EventTransportDown fires when the broker connection drops; the
	// session reconnects on its own.
	EventTransportDown
	// EventTransportUp fires after reconnect and resubscription. Missed
	// messages are not replayed.
	EventTransportUp
	// EventError surfaces non-fatal failures (dropped frames, broker
	// errors) for presentation by the caller.
	EventError
)

// Event describes what happened in the session. Exactly the fields
// relevant to Kind are set.
type Event struct {
	Kind        EventKind
	Room        RoomRef
	Member      User
	Entry       ChatEntry
	Video       Video
	MemberCount int
	Err         error
}
