// Package types is the synchronization data model (spec.md §3): Change,
// Data, MappingEntry/Mapping, and the small enums/bitmasks the engine
// graph in pkg/syncengine/core operates over. Layout mirrors the
// teacher's pkg/mcast/types package split (one small file per concern)
// generalized from multicast message types to sync records.
package types

import (
	"fmt"

	"github.com/jabolina/go-syncengine/internal/errs"
	"github.com/jabolina/go-syncengine/internal/format"
)

// ChangeType classifies a Change the way a peer adapter or HashTable
// reports it.
type ChangeType int

const (
	ChangeUnknown ChangeType = iota
	ChangeAdded
	ChangeModified
	ChangeDeleted
	ChangeUnmodified
)

func (c ChangeType) String() string {
	switch c {
	case ChangeAdded:
		return "added"
	case ChangeModified:
		return "modified"
	case ChangeDeleted:
		return "deleted"
	case ChangeUnmodified:
		return "unmodified"
	default:
		return "unknown"
	}
}

// Data is an owning handle over a payload: bytes, format token, and an
// optional object-type override (a converter may hand back payload of a
// different concrete objtype than the Change it's attached to started
// with). Kept distinct from Change so converters can transform payload
// without touching change metadata.
type Data struct {
	Bytes          []byte
	Format         format.ObjectFormat
	ObjTypeOverride string
}

// Destroy releases the payload via the format's destroy operation.
func (d *Data) Destroy() {
	if d == nil || d.Format == nil {
		return
	}
	d.Format.Destroy(d.Bytes)
	d.Bytes = nil
}

// Copy returns a value copy of d, including a format-level copy of the
// payload bytes.
func (d *Data) Copy() *Data {
	if d == nil {
		return nil
	}
	var bs []byte
	if d.Format != nil {
		bs = d.Format.Copy(d.Bytes)
	} else {
		bs = append([]byte(nil), d.Bytes...)
	}
	return &Data{Bytes: bs, Format: d.Format, ObjTypeOverride: d.ObjTypeOverride}
}

// Change is a peer-local record header plus its (possibly absent)
// payload. Invariant: Deleted may omit Data; every other type must carry
// a Data with a known format.
type Change struct {
	UID        string
	Hash       string
	ChangeType ChangeType
	Data       *Data
}

// Validate enforces the Change invariant from spec.md §3: Deleted may omit
// Data, every other type must carry a Data with a known format. A uid may
// legitimately be empty (a brand new record the reporting peer hasn't
// assigned one to yet; PeerProxy.CommitChange's new_uid fills it in).
func (c *Change) Validate() *errs.Error {
	if c == nil {
		return errs.New(errs.Generic, "nil change")
	}
	if c.ChangeType == ChangeDeleted {
		return nil
	}
	if c.Data == nil || c.Data.Format == nil {
		return errs.Newf(errs.Generic, "change %q of type %s must carry payload with a known format", c.UID, c.ChangeType)
	}
	return nil
}

// Copy returns a value copy of c, including a deep copy of its payload.
func (c *Change) Copy() *Change {
	if c == nil {
		return nil
	}
	return &Change{UID: c.UID, Hash: c.Hash, ChangeType: c.ChangeType, Data: c.Data.Copy()}
}

func (c *Change) String() string {
	if c == nil {
		return "<nil change>"
	}
	return fmt.Sprintf("Change{uid=%s type=%s}", c.UID, c.ChangeType)
}
