// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package reload

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/projectgraph/services/projectgraph/project"
)

// DocumentChanges is the per-document diff of one document facet.
type DocumentChanges struct {
	Added             []*project.DocumentID
	AttributesChanged []*project.DocumentID
	Removed           []*project.DocumentID
}

// IsEmpty reports whether no document changed.
func (d *DocumentChanges) IsEmpty() bool {
	return d == nil || len(d.Added)+len(d.AttributesChanged)+len(d.Removed) == 0
}

// Changes summarizes what a reload replaced.
type Changes struct {
	Project *project.ProjectID

	// Facets lists the replaced facets in facet order.
	Facets []project.Facet

	// Documents holds the per-document diff of each replaced document
	// facet.
	Documents map[project.Facet]*DocumentChanges

	// Log is the diagnostic log of the fresh descriptor. It is reported
	// even when no facet changed and the old node is kept.
	Log []project.DiagnosticLogEntry

	// Warnings are the reference problems found while reloading.
	Warnings []project.DiagnosticLogEntry
}

// IsEmpty reports whether the reload reused every facet.
func (c *Changes) IsEmpty() bool {
	return len(c.Facets) == 0
}

// Changed reports whether facet f was replaced.
func (c *Changes) Changed(f project.Facet) bool {
	for _, got := range c.Facets {
		if got == f {
			return true
		}
	}
	return false
}

// String renders a one-line summary such as
// "attributes, documents(+1 ~0 -2)".
func (c *Changes) String() string {
	if c.IsEmpty() {
		return "unchanged"
	}
	parts := make([]string, 0, len(c.Facets))
	for _, f := range c.Facets {
		d, ok := c.Documents[f]
		if !ok {
			parts = append(parts, f.String())
			continue
		}
		parts = append(parts, fmt.Sprintf("%s(+%d ~%d -%d)", f, len(d.Added), len(d.AttributesChanged), len(d.Removed)))
	}
	return strings.Join(parts, ", ")
}
