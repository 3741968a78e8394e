package sequencer

// Lifecycle event types, in the order downstream consumers expect them
// during provisioning: identity before account, account before any repo
// event.
const (
	EventIdentity = "identity"
	EventAccount  = "account"
	EventCommit   = "commit"
	EventSync     = "sync"
)

type IdentityEvent struct {
	DID    string `json:"did"`
	Handle string `json:"handle"`
}

type AccountEvent struct {
	DID    string `json:"did"`
	Active bool   `json:"active"`
	Status string `json:"status,omitempty"`
}

type CommitEvent struct {
	DID string `json:"did"`
	CID string `json:"commit"`
	Rev string `json:"rev"`
}

type SyncEvent struct {
	DID string `json:"did"`
	CID string `json:"commit"`
	Rev string `json:"rev"`
}

// Frame is one sequenced event as written to the log and the firehose.
type Frame struct {
	Seq     int64  `json:"seq"`
	Type    string `json:"type"`
	DID     string `json:"did"`
	Payload any    `json:"payload"`
	Time    string `json:"time"`
}
