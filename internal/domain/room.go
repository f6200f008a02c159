package domain

// RoomID multiplexes signaling traffic; it is the session id in string form.
type RoomID string

func RoomOf(id SessionID) RoomID { return RoomID(id) }

func (r RoomID) Session() SessionID { return SessionID(r) }
