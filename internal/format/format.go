// Package format is the object-format environment spec.md §1/§3 treats as
// an external collaborator: the core only ever calls the fixed operation
// set (compare, copy, duplicate, destroy, print, revision, merge, demerge,
// marshal, demarshal) through the ObjectFormat interface below. This
// package additionally ships one reference implementation, rawtext, so
// the engine and its tests exercise real (not mocked) format operations.
package format

import "github.com/jabolina/go-syncengine/internal/errs"

// CompareResult is the outcome of comparing two payloads of the same
// format, used by MappingEngine's conflict detection (spec.md §4.8).
type CompareResult int

const (
	Mismatch CompareResult = iota
	Same
	Similar
)

// ObjectFormat is the opaque per-objtype payload format the core never
// inspects the content of; it only invokes these operations.
type ObjectFormat interface {
	// Name identifies this format, unique within its owning object type.
	Name() string

	// ObjType is the object type this format belongs to.
	ObjType() string

	// Compare reports how two payloads of this format relate.
	Compare(a, b []byte) CompareResult

	// Copy returns a value copy of payload.
	Copy(payload []byte) []byte

	// Duplicate returns a copy of payload re-keyed under newUID, used by
	// the "duplicate" conflict resolution.
	Duplicate(payload []byte, newUID string) []byte

	// Destroy releases any resources owned by payload. rawtext is a pure
	// byte slice so this is a no-op, but the hook exists for formats that
	// wrap external handles.
	Destroy(payload []byte)

	// Print renders payload for logging/debugging.
	Print(payload []byte) string

	// Revision returns a format-defined monotonic revision number, used
	// by the "use-latest" conflict resolution.
	Revision(payload []byte) uint64

	// Marshal/Demarshal convert between payload and its wire byte form.
	Marshal(payload []byte) ([]byte, error)
	Demarshal(wire []byte) ([]byte, error)
}

// Mergeable is the optional capability-driven merge/demerge extension a
// format may implement; SinkEngine.demerge checks for it via a type
// assertion.
type Mergeable interface {
	ObjectFormat

	// Demerge strips every field not covered by caps, returning the
	// reduced payload plus the removed remainder (so it can be stashed
	// into the Archive and re-merged later).
	Demerge(payload []byte, caps []string) (reduced []byte, removed []byte)

	// Merge re-applies a previously removed remainder onto a (possibly
	// newer) reduced payload.
	Merge(reduced []byte, removed []byte) []byte
}

// Validatable is the optional schema-validation extension.
type Validatable interface {
	ObjectFormat
	Validate(payload []byte) error
}

// Registry maps (objtype, name) to a registered ObjectFormat.
type Registry struct {
	byObjType map[string]map[string]ObjectFormat
}

// NewRegistry returns an empty format registry.
func NewRegistry() *Registry {
	return &Registry{byObjType: map[string]map[string]ObjectFormat{}}
}

// Register adds f to the registry.
func (r *Registry) Register(f ObjectFormat) {
	byName, ok := r.byObjType[f.ObjType()]
	if !ok {
		byName = map[string]ObjectFormat{}
		r.byObjType[f.ObjType()] = byName
	}
	byName[f.Name()] = f
}

// Lookup returns the registered format for (objtype, name).
func (r *Registry) Lookup(objtype, name string) (ObjectFormat, error) {
	byName, ok := r.byObjType[objtype]
	if !ok {
		return nil, errs.Newf(errs.NotSupported, "no formats registered for objtype %q", objtype)
	}
	f, ok := byName[name]
	if !ok {
		return nil, errs.Newf(errs.NotSupported, "format %q not registered for objtype %q", name, objtype)
	}
	return f, nil
}

// Accepted returns every format name registered for objtype, the set a
// peer's SinkEngine.convert_to_dest picks converter targets from.
func (r *Registry) Accepted(objtype string) []string {
	byName, ok := r.byObjType[objtype]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	return names
}
