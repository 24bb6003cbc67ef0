package protocol

import "go.mongodb.org/mongo-driver/v2/bson"

// Message names.
const (
	JoinRoom         = "join_room"
	RequestDB        = "request_db"
	UpdateDB         = "update_db"
	CreateNode       = "create_node"
	UpdateNode       = "update_node"
	DeleteNode       = "delete_node"
	UpdateCursor     = "update_cursor"
	Publish          = "publish"
	NodeApplied      = "node_applied"
	DBApplied        = "db_applied"
	SomeoneJoinRoom  = "someone_join_room"
	SomeoneLeaveRoom = "someone_leave_room"
	HostLeft         = "host_left"
	CursorBatch      = "cursor_batch"
)

// NameLimit is the longest room or user name a relay accepts.
const NameLimit = 12

// JoinRequest is the body of join_room.
type JoinRequest struct {
	Room string `bson:"room" validate:"required,max=12"`
	User string `bson:"user" validate:"required,max=12"`
}

// Member is one participant of a room.
type Member struct {
	ID   string `bson:"id"`
	Name string `bson:"name"`
}

// JoinAck answers join_room.
type JoinAck struct {
	Self    string   `bson:"self"`
	Host    bool     `bson:"host"`
	Members []Member `bson:"members"`
}

// RosterChange is the body of someone_join_room and someone_leave_room.
type RosterChange struct {
	Member  Member   `bson:"member"`
	Members []Member `bson:"members"`
}

// DB carries a zstd-compressed store blob (see PackBlob). Splash asks the
// receiver to load it through the placeholder view.
type DB struct {
	Blob   []byte `bson:"blob"`
	Splash bool   `bson:"splash,omitempty"`
}

// Cursor is one presence sample.
type Cursor struct {
	X    float64 `bson:"x"`
	Y    float64 `bson:"y"`
	Node int64   `bson:"node"`
}

// PeerCursor is a cursor tagged with the member that sent it.
type PeerCursor struct {
	ID     string `bson:"id"`
	Cursor Cursor `bson:"cursor"`
}

// Cursors is the body of cursor_batch.
type Cursors struct {
	Cursors []PeerCursor `bson:"cursors"`
}

// Publication is the body of a host publish event. The relay re-emits Body to
// every guest but Origin under Event.
type Publication struct {
	Origin string   `bson:"origin,omitempty"`
	Event  string   `bson:"ev"`
	Body   bson.Raw `bson:"b,omitempty"`
}

// Applied ops carried by node_applied.
const (
	OpCreated = "created"
	OpUpdated = "updated"
	OpDeleted = "deleted"
)

// Applied is the body of node_applied: a change the host committed.
type Applied struct {
	Op   string   `bson:"op"`
	Node bson.Raw `bson:"node,omitempty"`
}
