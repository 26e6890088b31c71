// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package project holds the data model shared by the project graph loader.
//
// A Descriptor is the raw output of one evaluate+build round trip against a
// build engine. The worker links descriptors into Nodes: immutable, fully
// resolved projects whose references point at other nodes through
// ReferenceEdges. A Graph is an ordered collection of nodes.
//
// # Identity
//
// ProjectID and DocumentID are pointer tokens. Two ids are the same id only
// if they are the same pointer; equal-looking ids minted separately are
// different projects. This mirrors how the loader reasons about identity:
// cycle checks and de-duplication rely on it.
//
// # Facets
//
// A Node is split into independently replaceable facets (attributes,
// compilation options, parse options, the three reference lists and the
// three document kinds). Incremental reload replaces only the facets whose
// checksum changed and keeps the others by reference.
//
// # Thread Safety
//
// Node, Document and Graph values are immutable after construction and safe
// for concurrent reads. DiagnosticLog is safe for concurrent use.
package project
