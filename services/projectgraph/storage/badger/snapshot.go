// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/projectgraph/services/projectgraph/project"
)

const snapshotPrefix = "snapshot/"

// Snapshot is the persisted fingerprint of one loaded project.
//
// Facet checksums are recomputed from path-based shapes. Project and
// document ids are minted per session, so the node's own checksums for
// references and documents would never match across processes.
type Snapshot struct {
	Path            string                       `json:"path"`
	TargetFramework string                       `json:"target_framework,omitempty"`
	Name            string                       `json:"name"`
	Facets          map[string]uint64            `json:"facets"`
	Documents       map[string]map[string]uint64 `json:"documents"`
	SavedAt         time.Time                    `json:"saved_at"`
}

// Key identifies the snapshot. Multi-target projects share a file path,
// so the target framework is part of the key.
func (s Snapshot) Key() string {
	return SnapshotKey(s.Path, s.TargetFramework)
}

// SnapshotKey returns the key of the snapshot for one project variant.
func SnapshotKey(path, targetFramework string) string {
	if targetFramework == "" {
		return path
	}
	return path + "|" + targetFramework
}

type referenceShape struct {
	Path    string
	Aliases []string
}

type documentShape struct {
	Name       string
	FilePath   string
	Folders    []string
	SourceKind string
}

var documentFacets = []project.Facet{
	project.FacetDocuments,
	project.FacetAdditionalDocuments,
	project.FacetAnalyzerConfigDocuments,
}

// TakeSnapshot fingerprints n. Project reference targets are resolved
// to file paths through g.
func TakeSnapshot(g *project.Graph, n *project.Node) (Snapshot, error) {
	s := Snapshot{
		Path:            n.FilePath(),
		TargetFramework: n.Attributes.TargetFramework,
		Name:            n.Name(),
		Facets:          make(map[string]uint64, project.NumFacets),
		Documents:       make(map[string]map[string]uint64, len(documentFacets)),
	}

	for _, f := range []project.Facet{
		project.FacetAttributes,
		project.FacetCompilationOptions,
		project.FacetParseOptions,
		project.FacetMetadataReferences,
		project.FacetAnalyzerReferences,
	} {
		s.Facets[f.String()] = n.Checksum(f)
	}

	refs := make([]referenceShape, 0, len(n.ProjectReferences))
	for _, e := range n.ProjectReferences {
		target := e.To.DebugName()
		if to, ok := g.Node(e.To); ok {
			target = to.FilePath()
		}
		refs = append(refs, referenceShape{Path: target, Aliases: e.Aliases})
	}
	sum, err := project.Checksum(refs)
	if err != nil {
		return Snapshot{}, fmt.Errorf("checksum project references of %s: %w", s.Path, err)
	}
	s.Facets[project.FacetProjectReferences.String()] = sum

	for _, f := range documentFacets {
		docs := n.DocumentSet(f).Documents()
		perDoc := make(map[string]uint64, len(docs))
		sums := make([]uint64, 0, len(docs))
		for _, d := range docs {
			sum, err := project.Checksum(documentShape{
				Name:       d.Name,
				FilePath:   d.FilePath,
				Folders:    d.Folders,
				SourceKind: string(d.SourceKind),
			})
			if err != nil {
				return Snapshot{}, fmt.Errorf("checksum document %s: %w", d.FilePath, err)
			}
			perDoc[d.FilePath] = sum
			sums = append(sums, sum)
		}
		setSum, err := project.Checksum(sums)
		if err != nil {
			return Snapshot{}, fmt.Errorf("checksum %s of %s: %w", f, s.Path, err)
		}
		s.Facets[f.String()] = setSum
		s.Documents[f.String()] = perDoc
	}
	return s, nil
}

// Delta describes how a project changed between two snapshots.
type Delta struct {
	Key     string
	Facets  []string
	Added   []string
	Changed []string
	Removed []string
}

// IsEmpty reports whether nothing changed.
func (d Delta) IsEmpty() bool {
	return len(d.Facets) == 0
}

// Compare returns the facets and document paths that differ between prev
// and next. Facets are listed in declaration order.
func Compare(prev, next Snapshot) Delta {
	d := Delta{Key: next.Key()}
	for _, f := range project.AllFacets() {
		name := f.String()
		if prev.Facets[name] != next.Facets[name] {
			d.Facets = append(d.Facets, name)
		}
	}

	for _, f := range documentFacets {
		before, after := prev.Documents[f.String()], next.Documents[f.String()]
		for path, sum := range after {
			old, ok := before[path]
			switch {
			case !ok:
				d.Added = append(d.Added, path)
			case old != sum:
				d.Changed = append(d.Changed, path)
			}
		}
		for path := range before {
			if _, ok := after[path]; !ok {
				d.Removed = append(d.Removed, path)
			}
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Changed)
	sort.Strings(d.Removed)
	return d
}

// =============================================================================
// Store
// =============================================================================

// SnapshotStore persists snapshots keyed by Snapshot.Key.
//
// Thread Safety: Safe for concurrent use.
type SnapshotStore struct {
	db  *DB
	now func() time.Time
}

// NewSnapshotStore returns a store over db. The store does not own db.
func NewSnapshotStore(db *DB) *SnapshotStore {
	return &SnapshotStore{db: db, now: time.Now}
}

func storeKey(key string) []byte {
	return []byte(snapshotPrefix + key)
}

// Get returns the snapshot stored under key.
//
// Outputs:
//
//	Snapshot - The stored snapshot.
//	bool - False when nothing is stored under key.
//	error - Read or decode failure.
func (s *SnapshotStore) Get(key string) (Snapshot, bool, error) {
	var snap Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(storeKey(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snap)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("read snapshot %s: %w", key, err)
	}
	return snap, true, nil
}

// Put stores snapshots in one transaction, stamping SavedAt.
func (s *SnapshotStore) Put(snaps ...Snapshot) error {
	now := s.now().UTC()
	return s.db.Update(func(txn *badger.Txn) error {
		for _, snap := range snaps {
			snap.SavedAt = now
			data, err := json.Marshal(snap)
			if err != nil {
				return fmt.Errorf("encode snapshot %s: %w", snap.Path, err)
			}
			if err := txn.Set(storeKey(snap.Key()), data); err != nil {
				return fmt.Errorf("write snapshot %s: %w", snap.Path, err)
			}
		}
		return nil
	})
}

// Delete removes the snapshot stored under key. Deleting a missing key is
// not an error.
func (s *SnapshotStore) Delete(key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(storeKey(key))
	})
}

// List returns every stored snapshot ordered by key.
func (s *SnapshotStore) List() ([]Snapshot, error) {
	var out []Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(snapshotPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var snap Snapshot
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &snap)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, snap)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return out, nil
}

// Record snapshots every non-placeholder node of g and compares each with
// its stored predecessor.
//
// Outputs:
//
//	[]Delta - One delta per node that had a stored snapshot, in graph
//	  order. Nodes seen for the first time are not listed.
//	error - Read or write failure.
func (s *SnapshotStore) Record(g *project.Graph) ([]Delta, error) {
	var deltas []Delta
	var snaps []Snapshot
	for _, n := range g.Nodes() {
		if n.Attributes.IsEmpty {
			continue
		}
		next, err := TakeSnapshot(g, n)
		if err != nil {
			return nil, err
		}
		prev, ok, err := s.Get(next.Key())
		if err != nil {
			return nil, err
		}
		if ok {
			deltas = append(deltas, Compare(prev, next))
		}
		snaps = append(snaps, next)
	}
	if err := s.Put(snaps...); err != nil {
		return nil, err
	}
	return deltas, nil
}
