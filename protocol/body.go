package protocol

// IDType scopes a tag/event request to an entity kind. Only messages
// are addressable today; the field keeps the wire form open for other
// entity kinds.
type IDType string

// IDTypeMessage addresses a message entity.
const IDTypeMessage IDType = "message"

// MsgID is the body of get-style tag/event requests.
type MsgID struct {
	IDType IDType `msgpack:"id_type"`
	ID     string `msgpack:"id"`
}

// TagList is the body of set/add/remove tag and event requests, and the
// response body of the get variants.
type TagList struct {
	IDType IDType   `msgpack:"id_type"`
	ID     string   `msgpack:"id"`
	Tags   []string `msgpack:"tags"`
}

// AckBody is the body of an acknowledgment request.
type AckBody struct {
	Sender    string `msgpack:"sender"`
	Receiver  string `msgpack:"receiver"`
	MessageID string `msgpack:"message_id"`
}

// Status is the generic terminal status reply.
type Status struct {
	Code    int    `msgpack:"code"`
	Message string `msgpack:"message,omitempty"`
}

// StateUnknown is the per-device state reported for message ids the
// server has no knowledge of.
const StateUnknown = "UNKNOWN"

// MessageStatus is the delivery status of a message on one device.
type MessageStatus struct {
	DeviceID string `msgpack:"device_id,omitempty"`
	State    string `msgpack:"state"`
}

// StateQuery is the body of a message state query.
type StateQuery struct {
	MessageIDs []string `msgpack:"message_ids"`
}

// StateResult maps each queried message id to its per-device statuses.
// Entries are matched back by key, never by position.
type StateResult map[string][]MessageStatus
