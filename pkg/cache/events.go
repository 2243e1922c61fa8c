// ABOUTME: Storage events published on the notification bus
// ABOUTME: Contiguous read/write events for one key merge while undelivered
package cache

import "github.com/Thalhammer/libspotify-embedded/pkg/notify"

// StorageOp identifies the storage activity an event reports.
type StorageOp int

const (
	OpAlloc StorageOp = iota
	OpWrite
	OpRead
	OpClose
)

// StorageEvent reports storage activity for one cache entry.
type StorageEvent struct {
	Op       StorageOp
	Key      string
	Offset   int64
	Length   int64
	Complete bool  // entry has every chunk after this write
	Evicted  bool  // close caused by budget eviction
	Err      error // permanent failure that aborted the entry
}

func (e StorageEvent) Kind() notify.Kind {
	switch e.Op {
	case OpAlloc:
		return notify.KindStorageAlloc
	case OpWrite:
		return notify.KindStorageWrite
	case OpRead:
		return notify.KindStorageRead
	default:
		return notify.KindStorageClose
	}
}

// Coalesce merges sequential reads or writes of the same entry.
func (e StorageEvent) Coalesce(older notify.Event) (notify.Event, bool) {
	o, ok := older.(StorageEvent)
	if !ok || o.Op != e.Op || o.Key != e.Key || o.Err != nil || e.Err != nil {
		return nil, false
	}
	if e.Op != OpRead && e.Op != OpWrite {
		return nil, false
	}
	if o.Offset+o.Length != e.Offset {
		return nil, false
	}
	o.Length += e.Length
	o.Complete = o.Complete || e.Complete
	return o, true
}
