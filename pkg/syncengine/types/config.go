package types

import (
	"github.com/jabolina/go-syncengine/internal/format"
	"github.com/jabolina/go-syncengine/internal/logging"
)

// MemberConfiguration describes one peer's participation in a group,
// mirroring the teacher's PeerConfiguration value-struct-with-defaults
// shape.
type MemberConfiguration struct {
	// MemberID uniquely identifies this peer within the group.
	MemberID string

	// ObjTypes lists the object types this peer supports.
	ObjTypes []string

	// Capabilities lists this peer's format capabilities (e.g. "full"),
	// used as the SinkEngine's capability set before (or in place of) any
	// runtime PeerProxy.Discover call. A capability discovered later via
	// Discover replaces this list for the running group, not just for one
	// run.
	Capabilities []string
}

// GroupConfiguration describes an entire synchronization group: the
// teacher's BaseConfiguration/ClusterConfiguration split collapsed into
// one struct, since spec.md's Engine owns both concerns directly.
type GroupConfiguration struct {
	// Name identifies the group, used to derive the default archive/lock
	// file paths.
	Name string

	// ArchiveDir is the directory holding <Name>.archive.db,
	// <Name>.sinkstate.db and the <Name>.lock file.
	ArchiveDir string

	// Members lists the peers in the group, in ordinal order. Ordinal
	// (slice index) is the stable per-peer bit used in every Bitmask.
	Members []MemberConfiguration

	// ObjTypes lists every object type the group synchronizes. Like
	// Members, slice index is the stable per-ObjEngine ordinal.
	ObjTypes []string

	// Logger is used by every engine component; defaults to
	// logging.NewDefaultLogger() when nil.
	Logger logging.Logger

	// Formats resolves object-format tokens; defaults to an empty
	// registry when nil (callers are expected to register formats for
	// every ObjType they list).
	Formats *format.Registry
}

// DefaultGroupConfiguration returns a GroupConfiguration with sane
// defaults for everything but Name/Members/ObjTypes, mirroring the
// teacher's DefaultConfiguration(name) constructor.
func DefaultGroupConfiguration(name string) *GroupConfiguration {
	return &GroupConfiguration{
		Name:       name,
		ArchiveDir: ".",
		Logger:     logging.NewDefaultLogger(),
		Formats:    format.NewRegistry(),
	}
}

// MemberOrdinal returns the stable bitmask ordinal for memberID, or -1 if
// not a member of this group.
func (g *GroupConfiguration) MemberOrdinal(memberID string) int {
	for i, m := range g.Members {
		if m.MemberID == memberID {
			return i
		}
	}
	return -1
}

// ObjTypeOrdinal returns the stable bitmask ordinal for objtype, or -1 if
// not part of this group.
func (g *GroupConfiguration) ObjTypeOrdinal(objtype string) int {
	for i, t := range g.ObjTypes {
		if t == objtype {
			return i
		}
	}
	return -1
}
