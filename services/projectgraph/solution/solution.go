// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package solution reads project lists.
//
// A solution file lists one project path per line. Blank lines and lines
// starting with '#' are ignored, and relative paths are resolved against
// the solution's directory. A filtered solution (.slnf) is a JSON
// document naming a solution and the subset of its projects to load.
package solution

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/projectgraph/services/projectgraph/diagnostics"
)

// FilterExtension is the file extension of filtered solutions.
const FilterExtension = ".slnf"

var (
	// ErrSolutionNotFound indicates the solution file does not exist.
	ErrSolutionNotFound = errors.New("solution file not found")

	// ErrInvalidFilter indicates a filtered solution could not be parsed.
	ErrInvalidFilter = errors.New("invalid solution filter")
)

// Solution is an ordered list of absolute project file paths.
type Solution struct {
	// Path is the file the list was read from.
	Path string

	// Projects are absolute, cleaned project file paths in file order.
	Projects []string
}

// filterFile is the on-disk shape of a filtered solution.
type filterFile struct {
	Solution struct {
		Path     string   `json:"path"`
		Projects []string `json:"projects"`
	} `json:"solution"`
}

// Loader reads solutions and filtered solutions.
type Loader struct {
	reporter *diagnostics.Reporter
	mode     diagnostics.ReportingMode
}

// NewLoader creates a Loader. Filter entries that are not part of the
// referenced solution are reported through reporter with mode.
func NewLoader(reporter *diagnostics.Reporter, mode diagnostics.ReportingMode) *Loader {
	if reporter == nil {
		reporter = diagnostics.NewReporter(nil, nil)
	}
	return &Loader{reporter: reporter, mode: mode}
}

// Load reads the solution or filtered solution at path.
//
// Outputs:
//
//	*Solution - The projects to load, in file order.
//	error - ErrSolutionNotFound, ErrInvalidFilter, or a failure reported
//	        with Throw.
func (l *Loader) Load(path string) (*Solution, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("solution %s: %w", path, err)
	}
	if strings.EqualFold(filepath.Ext(abs), FilterExtension) {
		return l.loadFilter(abs)
	}
	return readList(abs)
}

func readList(path string) (*Solution, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSolutionNotFound, path)
		}
		return nil, fmt.Errorf("open solution %s: %w", path, err)
	}
	defer f.Close()

	projects, err := Parse(f, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("read solution %s: %w", path, err)
	}
	return &Solution{Path: path, Projects: projects}, nil
}

// Parse reads a project list, resolving relative entries against dir.
// Repeated entries are kept once, at their first position.
func Parse(r io.Reader, dir string) ([]string, error) {
	var projects []string
	seen := make(map[string]bool)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p := normalize(line, dir)
		if seen[p] {
			continue
		}
		seen[p] = true
		projects = append(projects, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return projects, nil
}

func (l *Loader) loadFilter(path string) (*Solution, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSolutionNotFound, path)
		}
		return nil, fmt.Errorf("read solution filter %s: %w", path, err)
	}

	var filter filterFile
	if err := json.Unmarshal(data, &filter); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidFilter, path, err)
	}
	if filter.Solution.Path == "" {
		return nil, fmt.Errorf("%w: %s: missing solution path", ErrInvalidFilter, path)
	}

	base, err := readList(normalize(filter.Solution.Path, filepath.Dir(path)))
	if err != nil {
		return nil, err
	}
	members := make(map[string]bool, len(base.Projects))
	for _, p := range base.Projects {
		members[p] = true
	}

	// Filter entries are relative to the solution, not the filter.
	solutionDir := filepath.Dir(base.Path)
	out := &Solution{Path: path}
	seen := make(map[string]bool)
	for _, entry := range filter.Solution.Projects {
		p := normalize(entry, solutionDir)
		if seen[p] {
			continue
		}
		seen[p] = true
		if !members[p] {
			perr := &diagnostics.PathError{Path: p, Err: fmt.Errorf("not part of solution %s", base.Path)}
			if rerr := l.reporter.Report(l.mode, perr, p, nil); rerr != nil {
				return nil, rerr
			}
			continue
		}
		out.Projects = append(out.Projects, p)
	}
	return out, nil
}

// normalize turns a solution entry into an absolute, cleaned path.
// Backslash separators are accepted on every platform.
func normalize(entry, dir string) string {
	p := filepath.FromSlash(strings.ReplaceAll(entry, `\`, "/"))
	if !filepath.IsAbs(p) {
		p = filepath.Join(dir, p)
	}
	return filepath.Clean(p)
}
