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

// =============================================================================
// FACETS
// =============================================================================

// Facet names an independently replaceable slice of a Node.
type Facet int

const (
	FacetAttributes Facet = iota
	FacetCompilationOptions
	FacetParseOptions
	FacetProjectReferences
	FacetMetadataReferences
	FacetAnalyzerReferences
	FacetDocuments
	FacetAdditionalDocuments
	FacetAnalyzerConfigDocuments

	// NumFacets is the number of facets (for array sizing).
	NumFacets
)

var facetNames = [NumFacets]string{
	"attributes",
	"compilation_options",
	"parse_options",
	"project_references",
	"metadata_references",
	"analyzer_references",
	"documents",
	"additional_documents",
	"analyzer_config_documents",
}

// String returns the facet name.
func (f Facet) String() string {
	if f >= 0 && f < NumFacets {
		return facetNames[f]
	}
	return "unknown"
}

// AllFacets lists every facet in declaration order.
func AllFacets() []Facet {
	out := make([]Facet, NumFacets)
	for i := range out {
		out[i] = Facet(i)
	}
	return out
}

// Attributes is the identity facet of a project.
type Attributes struct {
	Language          string
	Name              string
	FilePath          string
	OutputFilePath    string
	OutputRefFilePath string
	TargetFramework   string
	IsEmpty           bool
}

// CompilationOptions is the compilation options facet.
type CompilationOptions struct {
	OutputKind         string
	Optimize           bool
	CheckOverflow      bool
	AllowUnsafe        bool
	Platform           string
	MainTypeName       string
	KeyFile            string
	DelaySign          bool
	WarningsAsErrors   bool
	WarningLevel       string
	SuppressedWarnings []string

	// Other holds compiler arguments that are not interpreted but still
	// affect compilation, in their original order.
	Other []string
}

// ParseOptions is the parse options facet.
type ParseOptions struct {
	LanguageVersion     string
	PreprocessorSymbols []string
	Features            map[string]string
	Nullable            string
	DocumentationMode   string
}

// ReferenceEdge is a project reference from one project to another.
type ReferenceEdge struct {
	From *ProjectID
	To   *ProjectID

	// Aliases is the ordered extern alias set; empty for ordinary references.
	Aliases []string
}

// MetadataReference is a reference to a compiled binary.
type MetadataReference struct {
	Path    string
	Aliases []string
}

// AnalyzerReference is a reference to an analyzer binary.
type AnalyzerReference struct {
	Path string
}

// Document is an immutable document of a project.
type Document struct {
	ID         *DocumentID
	Name       string
	FilePath   string
	Folders    []string
	SourceKind SourceKind
}

// WithAttributes returns a copy with new folders and source kind. These are
// the only document attributes allowed to change after creation.
func (d *Document) WithAttributes(folders []string, kind SourceKind) *Document {
	return &Document{
		ID:         d.ID,
		Name:       d.Name,
		FilePath:   d.FilePath,
		Folders:    append([]string(nil), folders...),
		SourceKind: kind,
	}
}

// =============================================================================
// DOCUMENT SET
// =============================================================================

// DocumentSet is an ordered, checksummed list of documents.
type DocumentSet struct {
	docs      []*Document
	byID      map[*DocumentID]int
	checksums map[*DocumentID]uint64
	checksum  uint64
}

// NewDocumentSet builds a set and computes document checksums.
func NewDocumentSet(docs []*Document) *DocumentSet {
	s := &DocumentSet{
		docs:      append([]*Document(nil), docs...),
		byID:      make(map[*DocumentID]int, len(docs)),
		checksums: make(map[*DocumentID]uint64, len(docs)),
	}
	sums := make([]uint64, 0, len(docs))
	for i, d := range s.docs {
		s.byID[d.ID] = i
		sum := documentChecksum(d)
		s.checksums[d.ID] = sum
		sums = append(sums, sum)
	}
	s.checksum = mustChecksum(sums)
	return s
}

// Documents returns the documents in order.
func (s *DocumentSet) Documents() []*Document {
	if s == nil {
		return nil
	}
	return append([]*Document(nil), s.docs...)
}

// Len returns the number of documents.
func (s *DocumentSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.docs)
}

// Get returns the document with the given id.
func (s *DocumentSet) Get(id *DocumentID) (*Document, bool) {
	if s == nil {
		return nil, false
	}
	i, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return s.docs[i], true
}

// ByPath returns the document with the given file path.
func (s *DocumentSet) ByPath(path string) (*Document, bool) {
	if s == nil {
		return nil, false
	}
	for _, d := range s.docs {
		if d.FilePath == path {
			return d, true
		}
	}
	return nil, false
}

// DocumentChecksum returns the checksum of one document.
func (s *DocumentSet) DocumentChecksum(id *DocumentID) (uint64, bool) {
	if s == nil {
		return 0, false
	}
	sum, ok := s.checksums[id]
	return sum, ok
}

// Checksum returns the checksum of the whole set.
func (s *DocumentSet) Checksum() uint64 {
	if s == nil {
		return emptyChecksum
	}
	return s.checksum
}

// =============================================================================
// NODE
// =============================================================================

// Node is a fully linked, immutable project.
//
// Description:
//
//	Nodes are produced by the worker or by incremental reload and are never
//	mutated afterwards. Replacing a facet produces a new Node that shares
//	all other facets with the old one.
type Node struct {
	ID                      *ProjectID
	Attributes              *Attributes
	CompilationOptions      *CompilationOptions
	ParseOptions            *ParseOptions
	ProjectReferences       []ReferenceEdge
	MetadataReferences      []MetadataReference
	AnalyzerReferences      []AnalyzerReference
	Documents               *DocumentSet
	AdditionalDocuments     *DocumentSet
	AnalyzerConfigDocuments *DocumentSet

	// Log holds diagnostics attached to this project during its load.
	Log []DiagnosticLogEntry

	checksums [NumFacets]uint64
}

// NodeParts are the inputs of NewNode.
type NodeParts struct {
	ID                      *ProjectID
	Attributes              *Attributes
	CompilationOptions      *CompilationOptions
	ParseOptions            *ParseOptions
	ProjectReferences       []ReferenceEdge
	MetadataReferences      []MetadataReference
	AnalyzerReferences      []AnalyzerReference
	Documents               *DocumentSet
	AdditionalDocuments     *DocumentSet
	AnalyzerConfigDocuments *DocumentSet
	Log                     []DiagnosticLogEntry
}

// NewNode assembles a node and computes its facet checksums.
//
// Nil facets are replaced by empty ones so every node is fully populated.
func NewNode(p NodeParts) *Node {
	n := &Node{
		ID:                      p.ID,
		Attributes:              p.Attributes,
		CompilationOptions:      p.CompilationOptions,
		ParseOptions:            p.ParseOptions,
		ProjectReferences:       p.ProjectReferences,
		MetadataReferences:      p.MetadataReferences,
		AnalyzerReferences:      p.AnalyzerReferences,
		Documents:               p.Documents,
		AdditionalDocuments:     p.AdditionalDocuments,
		AnalyzerConfigDocuments: p.AnalyzerConfigDocuments,
		Log:                     p.Log,
	}
	if n.Attributes == nil {
		n.Attributes = &Attributes{}
	}
	if n.CompilationOptions == nil {
		n.CompilationOptions = &CompilationOptions{}
	}
	if n.ParseOptions == nil {
		n.ParseOptions = &ParseOptions{}
	}
	if n.Documents == nil {
		n.Documents = NewDocumentSet(nil)
	}
	if n.AdditionalDocuments == nil {
		n.AdditionalDocuments = NewDocumentSet(nil)
	}
	if n.AnalyzerConfigDocuments == nil {
		n.AnalyzerConfigDocuments = NewDocumentSet(nil)
	}
	n.checksums = facetChecksums(n)
	return n
}

// Name returns the display name.
func (n *Node) Name() string {
	return n.Attributes.Name
}

// FilePath returns the project file path.
func (n *Node) FilePath() string {
	return n.Attributes.FilePath
}

// OutputFilePath returns the output file path.
func (n *Node) OutputFilePath() string {
	return n.Attributes.OutputFilePath
}

// Checksum returns the checksum of one facet.
func (n *Node) Checksum(f Facet) uint64 {
	if f < 0 || f >= NumFacets {
		return 0
	}
	return n.checksums[f]
}

// Checksums returns all facet checksums keyed by facet.
func (n *Node) Checksums() map[Facet]uint64 {
	out := make(map[Facet]uint64, NumFacets)
	for i, sum := range n.checksums {
		out[Facet(i)] = sum
	}
	return out
}

// DocumentSet returns the document set for a document facet.
func (n *Node) DocumentSet(f Facet) *DocumentSet {
	switch f {
	case FacetDocuments:
		return n.Documents
	case FacetAdditionalDocuments:
		return n.AdditionalDocuments
	case FacetAnalyzerConfigDocuments:
		return n.AnalyzerConfigDocuments
	default:
		return nil
	}
}

// References reports whether n has a project reference to id.
func (n *Node) References(id *ProjectID) bool {
	for _, e := range n.ProjectReferences {
		if e.To == id {
			return true
		}
	}
	return false
}

// HasMetadataReference reports whether n references path as metadata.
func (n *Node) HasMetadataReference(path string) bool {
	for _, m := range n.MetadataReferences {
		if m.Path == path {
			return true
		}
	}
	return false
}
