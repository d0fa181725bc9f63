package collab

// Connection is one client transport attached to a session.
type Connection interface {
	// ID is unique among live connections.
	ID() string

	// Send enqueues a binary message. It must not block; a transport that
	// cannot keep up should drop the connection instead.
	Send(msg []byte) error
}

// Actor is implemented by connections that know who is on the other end.
// Actor ids are recorded as document contributors.
type Actor interface {
	ActorID() string
}

func actorOf(conn Connection) string {
	if a, ok := conn.(Actor); ok {
		return a.ActorID()
	}
	return ""
}
