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
	"errors"
	"fmt"

	"github.com/AleutianAI/projectgraph/services/projectgraph/project"
)

// ErrInconsistent is matched by every *ConsistencyError.
var ErrInconsistent = errors.New("internal consistency violation")

// ConsistencyError reports an attempt to change a field that is
// immutable once created. It signals a bug in the caller and is never
// routed through a reporting mode.
type ConsistencyError struct {
	Project  *project.ProjectID
	Document *project.DocumentID

	// Field is the immutable field that differs.
	Field string

	Old string
	New string
}

// Error implements the error interface.
func (e *ConsistencyError) Error() string {
	if e.Document != nil {
		return fmt.Sprintf("%v: document %s: %s changed from %q to %q", ErrInconsistent, e.Document, e.Field, e.Old, e.New)
	}
	return fmt.Sprintf("%v: project %s: %s changed from %q to %q", ErrInconsistent, e.Project, e.Field, e.Old, e.New)
}

// Is matches ErrInconsistent.
func (e *ConsistencyError) Is(target error) bool {
	return target == ErrInconsistent
}
