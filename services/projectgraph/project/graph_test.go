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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNode(id *ProjectID, output string, refs ...*ProjectID) *Node {
	edges := make([]ReferenceEdge, 0, len(refs))
	for _, to := range refs {
		edges = append(edges, ReferenceEdge{From: id, To: to})
	}
	return NewNode(NodeParts{
		ID: id,
		Attributes: &Attributes{
			Name:           id.DebugName(),
			FilePath:       "/src/" + id.DebugName() + ".csproj",
			OutputFilePath: output,
		},
		ProjectReferences: edges,
	})
}

func TestProjectID_Identity(t *testing.T) {
	a := NewProjectID("/src/A.csproj")
	b := NewProjectID("/src/A.csproj")

	assert.NotSame(t, a, b)
	assert.NotEqual(t, a.Token(), b.Token())
	assert.Less(t, a.Seq(), b.Seq())
	assert.Equal(t, "/src/A.csproj", a.DebugName())
}

func TestGraph_Validate(t *testing.T) {
	t.Run("accepts a DAG", func(t *testing.T) {
		a, b, c := NewProjectID("A"), NewProjectID("B"), NewProjectID("C")
		g := NewGraph([]*Node{
			testNode(a, "/bin/A.dll", b, c),
			testNode(b, "/bin/B.dll", c),
			testNode(c, "/bin/C.dll"),
		})
		require.NoError(t, g.Validate())
		assert.Len(t, g.Edges(), 3)
	})

	t.Run("rejects a cycle", func(t *testing.T) {
		a, b := NewProjectID("A"), NewProjectID("B")
		g := NewGraph([]*Node{
			testNode(a, "/bin/A.dll", b),
			testNode(b, "/bin/B.dll", a),
		})
		err := g.Validate()
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrCycle))
		assert.Contains(t, err.Error(), "A -> B -> A")
	})

	t.Run("rejects duplicate outputs", func(t *testing.T) {
		a, b := NewProjectID("A"), NewProjectID("B")
		g := NewGraph([]*Node{
			testNode(a, "/bin/X.dll"),
			testNode(b, "/bin/X.dll"),
		})
		assert.ErrorIs(t, g.Validate(), ErrDuplicateOutputPath)
	})

	t.Run("tolerates dangling placeholder edges", func(t *testing.T) {
		a, missing := NewProjectID("A"), NewProjectID("Missing")
		g := NewGraph([]*Node{testNode(a, "/bin/A.dll", missing)})
		assert.NoError(t, g.Validate())
	})
}

func TestGraph_ReplaceAndReaches(t *testing.T) {
	a, b, c := NewProjectID("A"), NewProjectID("B"), NewProjectID("C")
	g := NewGraph([]*Node{
		testNode(a, "/bin/A.dll", b),
		testNode(b, "/bin/B.dll"),
		testNode(c, "/bin/C.dll"),
	})
	assert.True(t, g.Reaches(a, b))
	assert.False(t, g.Reaches(a, c))

	g2 := g.Replace(testNode(b, "/bin/B.dll", c))
	assert.True(t, g2.Reaches(a, c))
	assert.False(t, g.Reaches(a, c), "original graph must be unchanged")
	assert.Equal(t, 3, g2.Len())

	n, ok := g2.Node(b)
	require.True(t, ok)
	assert.True(t, n.References(c))
}

func TestNode_Checksums(t *testing.T) {
	id := NewProjectID("A")
	docID := NewDocumentID(id, "/src/a.cs")
	docs := NewDocumentSet([]*Document{{ID: docID, Name: "a.cs", FilePath: "/src/a.cs"}})

	n1 := NewNode(NodeParts{ID: id, Attributes: &Attributes{OutputFilePath: "/bin/A.dll"}, Documents: docs})
	n2 := NewNode(NodeParts{ID: id, Attributes: &Attributes{OutputFilePath: "/bin/A2.dll"}, Documents: docs})

	assert.NotEqual(t, n1.Checksum(FacetAttributes), n2.Checksum(FacetAttributes))
	assert.Equal(t, n1.Checksum(FacetDocuments), n2.Checksum(FacetDocuments))
	assert.Equal(t, n1.Checksum(FacetMetadataReferences), n2.Checksum(FacetMetadataReferences))

	moved := docs.Documents()[0].WithAttributes([]string{"Sub"}, SourceKindRegular)
	docs2 := NewDocumentSet([]*Document{moved})
	assert.NotEqual(t, docs.Checksum(), docs2.Checksum())
	assert.Same(t, docID, moved.ID)
}
