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

	"github.com/mitchellh/hashstructure/v2"
)

// emptyChecksum is the checksum of an empty facet.
var emptyChecksum = mustChecksum([]uint64{})

// Normalized facet shapes. Ids are hashed through their tokens because
// hashstructure skips unexported fields and would otherwise see every id
// as equal.

type edgeShape struct {
	To      string
	Aliases []string
}

type documentShape struct {
	ID         string
	Name       string
	FilePath   string
	Folders    []string
	SourceKind string
}

// Checksum computes the stable structural checksum of v.
//
// Description:
//
//	Uses hashstructure FormatV2: struct fields, slices in order and maps
//	independent of iteration order. The value is stable across processes,
//	so it can be persisted and compared in a later session.
func Checksum(v any) (uint64, error) {
	return hashstructure.Hash(v, hashstructure.FormatV2, nil)
}

func mustChecksum(v any) uint64 {
	sum, err := Checksum(v)
	if err != nil {
		// Only reachable for shapes containing funcs or channels.
		panic(fmt.Sprintf("project: checksum of %T: %v", v, err))
	}
	return sum
}

func documentChecksum(d *Document) uint64 {
	return mustChecksum(documentShape{
		ID:         d.ID.Token(),
		Name:       d.Name,
		FilePath:   d.FilePath,
		Folders:    d.Folders,
		SourceKind: string(d.SourceKind),
	})
}

// EdgeChecksum returns the checksum of a project reference list.
func EdgeChecksum(edges []ReferenceEdge) uint64 {
	shapes := make([]edgeShape, 0, len(edges))
	for _, e := range edges {
		shapes = append(shapes, edgeShape{To: e.To.Token(), Aliases: e.Aliases})
	}
	return mustChecksum(shapes)
}

func facetChecksums(n *Node) [NumFacets]uint64 {
	var sums [NumFacets]uint64
	sums[FacetAttributes] = mustChecksum(*n.Attributes)
	sums[FacetCompilationOptions] = mustChecksum(*n.CompilationOptions)
	sums[FacetParseOptions] = mustChecksum(*n.ParseOptions)
	sums[FacetProjectReferences] = EdgeChecksum(n.ProjectReferences)
	sums[FacetMetadataReferences] = mustChecksum(nonNilMetadata(n.MetadataReferences))
	sums[FacetAnalyzerReferences] = mustChecksum(nonNilAnalyzers(n.AnalyzerReferences))
	sums[FacetDocuments] = n.Documents.Checksum()
	sums[FacetAdditionalDocuments] = n.AdditionalDocuments.Checksum()
	sums[FacetAnalyzerConfigDocuments] = n.AnalyzerConfigDocuments.Checksum()
	return sums
}

// nil and empty slices must hash the same.
func nonNilMetadata(refs []MetadataReference) []MetadataReference {
	if refs == nil {
		return []MetadataReference{}
	}
	return refs
}

func nonNilAnalyzers(refs []AnalyzerReference) []AnalyzerReference {
	if refs == nil {
		return []AnalyzerReference{}
	}
	return refs
}
