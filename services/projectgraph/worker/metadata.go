// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package worker

import "github.com/AleutianAI/projectgraph/services/projectgraph/project"

// metadataSet is the ordered metadata reference list of one node under
// construction. Not safe for concurrent use.
type metadataSet struct {
	refs   []project.MetadataReference
	pinned map[string]bool
}

func newMetadataSet(refs []project.MetadataReference) *metadataSet {
	return &metadataSet{
		refs:   append([]project.MetadataReference(nil), refs...),
		pinned: make(map[string]bool),
	}
}

func (s *metadataSet) index(path string) int {
	if path == "" {
		return -1
	}
	for i, r := range s.refs {
		if r.Path == path {
			return i
		}
	}
	return -1
}

// contains reports whether path is referenced.
func (s *metadataSet) contains(path string) bool {
	return s.index(path) >= 0
}

// remove drops path and returns its aliases.
func (s *metadataSet) remove(path string) ([]string, bool) {
	i := s.index(path)
	if i < 0 {
		return nil, false
	}
	aliases := s.refs[i].Aliases
	s.refs = append(s.refs[:i], s.refs[i+1:]...)
	delete(s.pinned, path)
	return aliases, true
}

// add appends path unless it is already referenced.
func (s *metadataSet) add(path string, aliases []string) {
	if path == "" || s.contains(path) {
		return
	}
	s.refs = append(s.refs, project.MetadataReference{Path: path, Aliases: aliases})
}

// pin keeps path through unresolved reference pruning.
func (s *metadataSet) pin(path string) {
	s.pinned[path] = true
}

func (s *metadataSet) isPinned(path string) bool {
	return s.pinned[path]
}

func (s *metadataSet) list() []project.MetadataReference {
	return s.refs
}
