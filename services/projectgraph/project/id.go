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
	"sync/atomic"

	"github.com/google/uuid"
)

// idSequence orders ids by creation for stable, human-friendly printing.
var idSequence atomic.Uint64

// ProjectID identifies a project for the lifetime of the process.
//
// Description:
//
//	ProjectID is an opaque token. It is always handled as *ProjectID and
//	compared by pointer. The embedded UUID is only used for printing and
//	persistence; it never participates in identity checks.
type ProjectID struct {
	seq       uint64
	token     uuid.UUID
	debugName string
}

// NewProjectID mints a fresh project id.
//
// Inputs:
//
//	debugName - Human readable label, usually the project file path.
//
// Outputs:
//
//	*ProjectID - A new id that is not equal to any other id.
func NewProjectID(debugName string) *ProjectID {
	return &ProjectID{
		seq:       idSequence.Add(1),
		token:     uuid.New(),
		debugName: debugName,
	}
}

// DebugName returns the label the id was created with.
func (id *ProjectID) DebugName() string {
	if id == nil {
		return ""
	}
	return id.debugName
}

// Token returns the printable token of the id.
func (id *ProjectID) Token() string {
	if id == nil {
		return ""
	}
	return id.token.String()
}

// Seq returns the creation sequence number.
func (id *ProjectID) Seq() uint64 {
	if id == nil {
		return 0
	}
	return id.seq
}

// String implements fmt.Stringer.
func (id *ProjectID) String() string {
	if id == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s#%d", id.debugName, id.seq)
}

// DocumentID identifies a document inside a project.
//
// Like ProjectID it is compared by pointer. A document keeps its id across
// incremental reloads as long as its file path is unchanged.
type DocumentID struct {
	project *ProjectID
	token   uuid.UUID
	path    string
}

// NewDocumentID mints a fresh document id owned by project.
func NewDocumentID(project *ProjectID, path string) *DocumentID {
	return &DocumentID{project: project, token: uuid.New(), path: path}
}

// Project returns the owning project id.
func (id *DocumentID) Project() *ProjectID {
	return id.project
}

// Token returns the printable token of the id.
func (id *DocumentID) Token() string {
	return id.token.String()
}

// String implements fmt.Stringer.
func (id *DocumentID) String() string {
	if id == nil {
		return "<nil>"
	}
	return id.path
}
