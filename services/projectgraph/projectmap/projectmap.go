// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package projectmap indexes project identifiers by file and output path.
//
// A Map is shared by every worker session loading into the same graph, so
// a project reached again through a new reference keeps its identifier.
// Multi-targeted projects have several identifiers for one file path; they
// are told apart by output path. Callers needing a stable identifier for a
// multi-targeted project must always pass its output path.
package projectmap

import (
	"sync"

	"github.com/AleutianAI/projectgraph/services/projectgraph/project"
)

type entry struct {
	id            *project.ProjectID
	path          string
	outputPath    string
	outputRefPath string
	node          *project.Node
}

// Map is the bidirectional path ↔ identifier index.
//
// Thread Safety:
//
//	Safe for concurrent use. Sessions sharing one Map must still serialize
//	their public mutating entry points externally.
type Map struct {
	mu       sync.Mutex
	byPath   map[string][]*entry
	byID     map[*project.ProjectID]*entry
	byOutput map[string]*entry
}

// New creates an empty map.
func New() *Map {
	return &Map{
		byPath:   make(map[string][]*entry),
		byID:     make(map[*project.ProjectID]*entry),
		byOutput: make(map[string]*entry),
	}
}

// FromGraph creates a map seeded with every node of g.
func FromGraph(g *project.Graph) *Map {
	m := New()
	if g != nil {
		m.Seed(g.Nodes())
	}
	return m
}

// Seed records already materialized nodes.
//
// Description:
//
//	Each node's identifier, file path and output paths are indexed and the
//	node itself is kept so a session can reuse it instead of reloading.
//	Seeding a node whose identifier is already known replaces the kept
//	node.
func (m *Map) Seed(nodes []*project.Node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range nodes {
		if n == nil {
			continue
		}
		e := m.recordLocked(n.ID, n.FilePath(), n.OutputFilePath(), n.Attributes.OutputRefFilePath)
		e.node = n
	}
}

// GetOrCreate returns the identifier for path.
//
// Description:
//
//	A path with exactly one known identifier returns it. A path with none,
//	or with several (a multi-targeted project), mints and records a new
//	identifier.
func (m *Map) GetOrCreate(path string) *project.ProjectID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getOrCreateLocked(path, path)
}

func (m *Map) getOrCreateLocked(path, label string) *project.ProjectID {
	if entries := m.byPath[path]; len(entries) == 1 {
		return entries[0].id
	}
	return m.recordLocked(project.NewProjectID(label), path, "", "").id
}

// GetOrCreateWithOutput returns the identifier for path disambiguated by
// its output paths.
//
// Description:
//
//	Looks for a known identifier of path with the same reference output,
//	then the same output. Failing that, an identifier of path with no
//	recorded outputs is claimed. Otherwise a new identifier is minted.
//	With both outputs empty this is GetOrCreate.
func (m *Map) GetOrCreateWithOutput(path, outputPath, outputRefPath string) *project.ProjectID {
	return m.GetOrCreateLabeled(path, path, outputPath, outputRefPath)
}

// GetOrCreateLabeled is GetOrCreateWithOutput with label as the debug
// name of a newly minted identifier. Identifiers that already exist keep
// their name.
func (m *Map) GetOrCreateLabeled(path, label, outputPath, outputRefPath string) *project.ProjectID {
	m.mu.Lock()
	defer m.mu.Unlock()
	if outputPath == "" && outputRefPath == "" {
		return m.getOrCreateLocked(path, label)
	}

	entries := m.byPath[path]
	if outputRefPath != "" {
		for _, e := range entries {
			if e.outputRefPath == outputRefPath {
				return e.id
			}
		}
	}
	if outputPath != "" {
		for _, e := range entries {
			if e.outputPath == outputPath {
				return e.id
			}
		}
	}
	for _, e := range entries {
		if e.outputPath == "" && e.outputRefPath == "" && e.node == nil {
			m.setOutputsLocked(e, outputPath, outputRefPath)
			return e.id
		}
	}
	return m.recordLocked(project.NewProjectID(label), path, outputPath, outputRefPath).id
}

// Record indexes id under path and outputs. Used for identifiers minted
// outside the map, such as synthetic fan-out identifiers.
func (m *Map) Record(id *project.ProjectID, path, outputPath, outputRefPath string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordLocked(id, path, outputPath, outputRefPath)
}

func (m *Map) recordLocked(id *project.ProjectID, path, outputPath, outputRefPath string) *entry {
	e, ok := m.byID[id]
	if !ok {
		e = &entry{id: id, path: path}
		m.byID[id] = e
		m.byPath[path] = append(m.byPath[path], e)
	}
	m.setOutputsLocked(e, outputPath, outputRefPath)
	return e
}

func (m *Map) setOutputsLocked(e *entry, outputPath, outputRefPath string) {
	if e.outputPath != "" && m.byOutput[e.outputPath] == e {
		delete(m.byOutput, e.outputPath)
	}
	if e.outputRefPath != "" && m.byOutput[e.outputRefPath] == e {
		delete(m.byOutput, e.outputRefPath)
	}
	e.outputPath = outputPath
	e.outputRefPath = outputRefPath
	if outputPath != "" {
		m.byOutput[outputPath] = e
	}
	if outputRefPath != "" {
		m.byOutput[outputRefPath] = e
	}
}

// IDs returns the known identifiers of path in recording order.
func (m *Map) IDs(path string) []*project.ProjectID {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.byPath[path]
	out := make([]*project.ProjectID, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.id)
	}
	return out
}

// Path returns the project file path of id.
func (m *Map) Path(id *project.ProjectID) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[id]
	if !ok {
		return "", false
	}
	return e.path, true
}

// OutputPaths returns the recorded output and reference output of id.
func (m *Map) OutputPaths(id *project.ProjectID) (outputPath, outputRefPath string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[id]
	if !ok {
		return "", "", false
	}
	return e.outputPath, e.outputRefPath, true
}

// IsOutputOf returns the project whose output or reference output is path.
func (m *Map) IsOutputOf(path string) (*project.ProjectID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byOutput[path]
	if !ok {
		return nil, false
	}
	return e.id, true
}

// Node returns the seeded node of id.
func (m *Map) Node(id *project.ProjectID) (*project.Node, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[id]
	if !ok || e.node == nil {
		return nil, false
	}
	return e.node, true
}

// Edges returns the project references of the seeded node of id.
func (m *Map) Edges(id *project.ProjectID) []project.ReferenceEdge {
	n, ok := m.Node(id)
	if !ok {
		return nil
	}
	return n.ProjectReferences
}

// Len returns the number of known identifiers.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}
