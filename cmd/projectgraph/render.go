// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/projectgraph/services/projectgraph/project"
	"github.com/AleutianAI/projectgraph/services/projectgraph/reload"
	storage "github.com/AleutianAI/projectgraph/services/projectgraph/storage/badger"
)

var (
	colorTeal    = lipgloss.Color("#2CD7C7")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")
	colorMuted   = lipgloss.Color("#2C4A54")
)

// styles are bound to one output so color is only emitted to terminals.
type styles struct {
	title   lipgloss.Style
	name    lipgloss.Style
	muted   lipgloss.Style
	ok      lipgloss.Style
	warning lipgloss.Style
	failure lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		title:   r.NewStyle().Bold(true).Foreground(colorTeal),
		name:    r.NewStyle().Bold(true),
		muted:   r.NewStyle().Foreground(colorMuted),
		ok:      r.NewStyle().Foreground(colorTeal),
		warning: r.NewStyle().Foreground(colorWarning),
		failure: r.NewStyle().Foreground(colorError),
	}
}

// summary is everything printed after a load.
type summary struct {
	graph  *project.Graph
	log    []project.DiagnosticLogEntry
	deltas []storage.Delta
	cached bool
}

func renderSummary(w io.Writer, s summary) {
	st := newStyles(w)
	nodes := s.graph.Nodes()

	fmt.Fprintln(w, st.title.Render(fmt.Sprintf("Loaded %d projects", len(nodes))))
	for _, n := range nodes {
		icon := st.ok.Render("✓")
		if n.Attributes.IsEmpty {
			icon = st.warning.Render("○")
		}
		line := fmt.Sprintf("%s %s", icon, st.name.Render(n.Name()))
		if !n.Attributes.IsEmpty {
			line += fmt.Sprintf("  %d documents, %d project refs, %d metadata refs",
				n.Documents.Len(), len(n.ProjectReferences), len(n.MetadataReferences))
		}
		fmt.Fprintln(w, line)
		fmt.Fprintln(w, "    "+st.muted.Render(n.FilePath()))
		for _, e := range n.ProjectReferences {
			if to, ok := s.graph.Node(e.To); ok {
				ref := "    → " + to.Name()
				if len(e.Aliases) > 0 {
					ref += " (" + strings.Join(e.Aliases, ", ") + ")"
				}
				fmt.Fprintln(w, ref)
			}
		}
	}

	if s.cached {
		renderDeltas(w, st, s.deltas)
	}
	renderLog(w, st, s.log)
}

func renderDeltas(w io.Writer, st styles, deltas []storage.Delta) {
	var changed []storage.Delta
	for _, d := range deltas {
		if !d.IsEmpty() {
			changed = append(changed, d)
		}
	}
	fmt.Fprintln(w)
	if len(deltas) == 0 {
		fmt.Fprintln(w, st.title.Render("Snapshot cache initialized"))
		return
	}
	if len(changed) == 0 {
		fmt.Fprintln(w, st.title.Render("No changes since the last cached load"))
		return
	}
	fmt.Fprintln(w, st.title.Render(fmt.Sprintf("Changed since the last cached load (%d)", len(changed))))
	for _, d := range changed {
		fmt.Fprintf(w, "%s %s: %s\n", st.warning.Render("~"), d.Key, strings.Join(d.Facets, ", "))
		for _, p := range d.Added {
			fmt.Fprintln(w, "    + "+p)
		}
		for _, p := range d.Changed {
			fmt.Fprintln(w, "    ~ "+p)
		}
		for _, p := range d.Removed {
			fmt.Fprintln(w, "    - "+p)
		}
	}
}

func renderLog(w io.Writer, st styles, entries []project.DiagnosticLogEntry) {
	if len(entries) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, st.title.Render(fmt.Sprintf("Diagnostics (%d)", len(entries))))
	for _, e := range entries {
		style := st.warning
		if e.Kind == project.DiagnosticFailure {
			style = st.failure
		}
		fmt.Fprintln(w, style.Render(e.String()))
	}
}

// renderReload prints one line per reloaded project, followed by its
// reload warnings.
func renderReload(w io.Writer, n *project.Node, changes *reload.Changes) {
	st := newStyles(w)
	if changes.IsEmpty() {
		fmt.Fprintf(w, "%s %s: %s\n", st.muted.Render("="), n.Name(), changes)
	} else {
		fmt.Fprintf(w, "%s %s: %s\n", st.warning.Render("~"), st.name.Render(n.Name()), changes)
	}
	for _, e := range changes.Warnings {
		fmt.Fprintf(w, "  %s\n", st.warning.Render(e.Message))
	}
}
