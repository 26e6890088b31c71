// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package diagnostics

import (
	"os"
	"path/filepath"
	"strings"
)

// FileExistsFunc reports whether a regular file exists at path.
type FileExistsFunc func(path string) bool

// OSFileExists checks the real file system.
func OSFileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// PathResolver turns project paths into absolute, existing file paths.
type PathResolver struct {
	reporter *Reporter
	exists   FileExistsFunc
}

// NewPathResolver creates a resolver reporting through reporter.
// A nil exists function uses the real file system.
func NewPathResolver(reporter *Reporter, exists FileExistsFunc) *PathResolver {
	if exists == nil {
		exists = OSFileExists
	}
	return &PathResolver{reporter: reporter, exists: exists}
}

// Exists reports whether path names an existing file.
func (r *PathResolver) Exists(path string) bool {
	return r.exists(path)
}

// Resolve returns the absolute, cleaned form of path.
//
// Description:
//
//	Relative paths are joined to baseDir. A path that is empty, contains a
//	NUL byte or does not name an existing file is a failure, routed through
//	mode.
//
// Outputs:
//
//	string - The absolute path; empty on failure.
//	bool - True when the path resolved.
//	error - Non-nil only when the failure was reported with Throw.
func (r *PathResolver) Resolve(path, baseDir string, mode ReportingMode) (string, bool, error) {
	if strings.TrimSpace(path) == "" || strings.ContainsRune(path, 0) {
		err := r.reporter.Report(mode, &PathError{Path: path, Err: ErrInvalidProjectPath}, path, nil)
		return "", false, err
	}

	abs := path
	if !filepath.IsAbs(abs) {
		if baseDir == "" {
			wd, err := os.Getwd()
			if err != nil {
				rerr := r.reporter.Report(mode, &PathError{Path: path, Err: ErrInvalidProjectPath}, path, nil)
				return "", false, rerr
			}
			baseDir = wd
		}
		abs = filepath.Join(baseDir, abs)
	}
	abs = filepath.Clean(abs)

	if !r.exists(abs) {
		err := r.reporter.Report(mode, &PathError{Path: abs, Err: ErrProjectFileNotFound}, abs, nil)
		return "", false, err
	}
	return abs, true, nil
}
