package view

import (
	"encoding/json"
	"hash/fnv"
	"sort"
)

// Entity is anything a view model can reconcile. Numerics exposes the scalar
// fields that diff as {entityId, field, delta} changes.
type Entity interface {
	Key() string
	Numerics() map[string]int64
}

// Owned is implemented by entities carrying an identity back-reference
// (countries). Owner transitions surface as transferred changes.
type Owned interface {
	Owner() string
}

type ChangeKind string

const (
	ChangeField       ChangeKind = "field"
	ChangeAdded       ChangeKind = "added"
	ChangeRemoved     ChangeKind = "removed"
	ChangeTransferred ChangeKind = "transferred"
)

// Change is one user-visible difference between two snapshots.
type Change struct {
	Kind     ChangeKind
	EntityID string
	Field    string // ChangeField only
	Delta    int64  // ChangeField only, new minus old
	From     string // ChangeTransferred only
	To       string // ChangeTransferred only
}

// Batch is the unit of emission: all changes from one merge, never split.
type Batch struct {
	View    string
	Changes []Change
}

// diffCollections computes the per-entity diff between two snapshots keyed
// by entity id. Output order is deterministic: entity ids ascending, field
// names ascending within an entity.
func diffCollections[E Entity](prev, next map[string]E) []Change {
	ids := make([]string, 0, len(prev)+len(next))
	seen := make(map[string]bool, len(prev)+len(next))
	for id := range prev {
		ids = append(ids, id)
		seen[id] = true
	}
	for id := range next {
		if !seen[id] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	var changes []Change
	for _, id := range ids {
		oldE, inPrev := prev[id]
		newE, inNext := next[id]

		switch {
		case !inPrev:
			changes = append(changes, Change{Kind: ChangeAdded, EntityID: id})
		case !inNext:
			changes = append(changes, Change{Kind: ChangeRemoved, EntityID: id})
		default:
			changes = append(changes, diffEntity(id, oldE, newE)...)
		}
	}
	return changes
}

func diffEntity[E Entity](id string, oldE, newE E) []Change {
	var changes []Change

	oldNum := oldE.Numerics()
	newNum := newE.Numerics()
	fields := make([]string, 0, len(newNum))
	for f := range newNum {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		if d := newNum[f] - oldNum[f]; d != 0 {
			changes = append(changes, Change{Kind: ChangeField, EntityID: id, Field: f, Delta: d})
		}
	}

	oldOwned, ok1 := any(oldE).(Owned)
	newOwned, ok2 := any(newE).(Owned)
	if ok1 && ok2 && oldOwned.Owner() != newOwned.Owner() {
		changes = append(changes, Change{
			Kind:     ChangeTransferred,
			EntityID: id,
			From:     oldOwned.Owner(),
			To:       newOwned.Owner(),
		})
	}
	return changes
}

// fingerprint is the snapshot's hash marker. Identical collection content
// always hashes the same, so re-applying a snapshot is detected without a
// full diff.
func fingerprint[E Entity](coll map[string]E) uint64 {
	ids := make([]string, 0, len(coll))
	for id := range coll {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	h := fnv.New64a()
	for _, id := range ids {
		h.Write([]byte(id))
		h.Write([]byte{0})
		data, _ := json.Marshal(coll[id])
		h.Write(data)
		h.Write([]byte{0})
	}
	return h.Sum64()
}
