// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package project

import (
	"fmt"
	"strings"
)

// Graph is an ordered, immutable collection of project nodes.
//
// Description:
//
//	Order is the order the loader returned the nodes in: requested projects
//	first, then discovered ones. Edges may point at ids that have no node in
//	the graph (placeholder references); those are dangling but harmless.
//
// Thread Safety:
//
//	Immutable after construction; safe for concurrent reads.
type Graph struct {
	nodes []*Node
	byID  map[*ProjectID]*Node
}

// NewGraph builds a graph over nodes. Later duplicates of an id are ignored.
func NewGraph(nodes []*Node) *Graph {
	g := &Graph{byID: make(map[*ProjectID]*Node, len(nodes))}
	for _, n := range nodes {
		if n == nil {
			continue
		}
		if _, dup := g.byID[n.ID]; dup {
			continue
		}
		g.byID[n.ID] = n
		g.nodes = append(g.nodes, n)
	}
	return g
}

// Nodes returns the nodes in order.
func (g *Graph) Nodes() []*Node {
	return append([]*Node(nil), g.nodes...)
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Node returns the node with the given id.
func (g *Graph) Node(id *ProjectID) (*Node, bool) {
	n, ok := g.byID[id]
	return n, ok
}

// NodesByPath returns every node whose project file is path.
func (g *Graph) NodesByPath(path string) []*Node {
	var out []*Node
	for _, n := range g.nodes {
		if n.FilePath() == path {
			out = append(out, n)
		}
	}
	return out
}

// Edges returns all project reference edges in node order.
func (g *Graph) Edges() []ReferenceEdge {
	var out []ReferenceEdge
	for _, n := range g.nodes {
		out = append(out, n.ProjectReferences...)
	}
	return out
}

// Replace returns a new graph with the node sharing n's id replaced by n.
// If no node has that id, n is appended.
func (g *Graph) Replace(n *Node) *Graph {
	nodes := make([]*Node, 0, len(g.nodes)+1)
	replaced := false
	for _, old := range g.nodes {
		if old.ID == n.ID {
			nodes = append(nodes, n)
			replaced = true
			continue
		}
		nodes = append(nodes, old)
	}
	if !replaced {
		nodes = append(nodes, n)
	}
	return NewGraph(nodes)
}

// Reaches reports whether from transitively references to through project
// reference edges. A node reaches itself.
func (g *Graph) Reaches(from, to *ProjectID) bool {
	if from == to {
		return true
	}
	seen := map[*ProjectID]bool{from: true}
	stack := []*ProjectID{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n, ok := g.byID[cur]
		if !ok {
			continue
		}
		for _, e := range n.ProjectReferences {
			if e.To == to {
				return true
			}
			if !seen[e.To] {
				seen[e.To] = true
				stack = append(stack, e.To)
			}
		}
	}
	return false
}

// Validate checks the graph invariants: the project reference edges form a
// DAG and no two nodes share a non-empty output path.
func (g *Graph) Validate() error {
	outputs := make(map[string]*ProjectID, len(g.nodes))
	for _, n := range g.nodes {
		out := n.OutputFilePath()
		if out == "" {
			continue
		}
		if other, dup := outputs[out]; dup {
			return fmt.Errorf("%w: %s shared by %s and %s", ErrDuplicateOutputPath, out, other, n.ID)
		}
		outputs[out] = n.ID
	}

	const (
		white = iota
		grey
		black
	)
	color := make(map[*ProjectID]int, len(g.nodes))
	var path []*ProjectID
	var visit func(id *ProjectID) error
	visit = func(id *ProjectID) error {
		color[id] = grey
		path = append(path, id)
		if n, ok := g.byID[id]; ok {
			for _, e := range n.ProjectReferences {
				switch color[e.To] {
				case grey:
					return fmt.Errorf("%w: %s", ErrCycle, describeCycle(path, e.To))
				case white:
					if err := visit(e.To); err != nil {
						return err
					}
				}
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		return nil
	}
	for _, n := range g.nodes {
		if color[n.ID] == white {
			if err := visit(n.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func describeCycle(path []*ProjectID, back *ProjectID) string {
	start := 0
	for i, id := range path {
		if id == back {
			start = i
			break
		}
	}
	parts := make([]string, 0, len(path)-start+1)
	for _, id := range path[start:] {
		parts = append(parts, id.DebugName())
	}
	parts = append(parts, back.DebugName())
	return strings.Join(parts, " -> ")
}
