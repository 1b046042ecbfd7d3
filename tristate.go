package flysystem

// Presence is the cache's three-valued answer to an existence query.
//
// Present and Absent are authoritative: the cache has enough knowledge to
// answer without the backend. Unknown means the backend must be consulted.
// Absent is only ever derived from directory completeness, never from a
// failed field read.
type Presence int8

const (
	PresenceUnknown Presence = iota
	PresencePresent
	PresenceAbsent
)

func (p Presence) String() string {
	switch p {
	case PresencePresent:
		return "present"
	case PresenceAbsent:
		return "absent"
	default:
		return "unknown"
	}
}
