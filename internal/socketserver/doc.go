// Package socketserver implements the chat server: it accepts TCP and
// WebSocket connections, runs the per-connection login and room state
// machine, and fans chat messages out to the members of a room.
//
// # Architecture
//
//   - Server: binds the listeners, bounds concurrent connections, and owns the
//     lifecycle of the auth worker bridge
//   - Hub: the session registry keyed by connection id, and room broadcasts
//   - Client: one connection, with a read pump that handles frames in arrival
//     order and a write pump that drains the outbound queue
//   - Session: the CONNECTING, AUTHENTICATED, IN_ROOM state of a client
//
// # Message Protocol
//
// Every frame is a JSON object with an "action" key. On TCP frames are
// newline delimited; on WebSocket each text message carries one frame:
//
//	{"action":"login","user":"profe","password":"123"}\n
//	{"action":"join","room_id":1}\n
//	{"action":"message","content":"Hola"}\n
//
// The server replies with login_success, login_fail, room_list,
// join_success, leave_success, broadcast, and error frames. Malformed frames
// are dropped without a reply and never close the connection.
//
// # Rooms
//
// A session is in at most one room. Joining another room leaves the current
// one first. Chat messages are persisted before they are broadcast and are
// never echoed to their sender. Joins and leaves are announced to the room
// by the System sender.
package socketserver
