package flysystem

import "github.com/kmhrussell/Flysystem/backend"

// Snapshot is the serializable form of the object cache, used for the
// optional preload/persist cycle (Options.Persist). Encode it with any
// codec.Codec[Snapshot]; the default is JSON.
//
// A snapshot is advisory. Restoring one from a previous process is only
// sound when the backend was not mutated out-of-band in between; the library
// has no way to tell, which is why persistence is opt-in.
type Snapshot struct {
	Objects  []SnapshotObject         `json:"objects" msgpack:"objects"`
	Complete map[string]SnapshotModes `json:"complete,omitempty" msgpack:"complete,omitempty"`
}

type SnapshotObject struct {
	Object    backend.Object `json:"object" msgpack:"object"`
	Confirmed bool           `json:"confirmed" msgpack:"confirmed"`
}

type SnapshotModes struct {
	Shallow   bool `json:"shallow,omitempty" msgpack:"shallow,omitempty"`
	Recursive bool `json:"recursive,omitempty" msgpack:"recursive,omitempty"`
}
