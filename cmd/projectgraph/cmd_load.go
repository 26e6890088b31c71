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
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/projectgraph/services/projectgraph/diagnostics"
	"github.com/AleutianAI/projectgraph/services/projectgraph/project"
	"github.com/AleutianAI/projectgraph/services/projectgraph/solution"
	storage "github.com/AleutianAI/projectgraph/services/projectgraph/storage/badger"
	"github.com/AleutianAI/projectgraph/services/projectgraph/worker"
)

// solutionExtensions mark inputs that list projects rather than being one.
var solutionExtensions = map[string]bool{
	".sln":                   true,
	solution.FilterExtension: true,
}

type loadFlags struct {
	cache      bool
	cacheDir   string
	parallel   int
	refsAsMeta bool
}

func newLoadCmd(a *app) *cobra.Command {
	var f loadFlags
	cmd := &cobra.Command{
		Use:   "load <project|solution>...",
		Short: "Load projects and print the linked graph",
		Long: `Load evaluates the given project files, or the projects listed by a solution
or solution filter, follows their references and prints the resulting graph.

With --cache, a fingerprint of every project is stored and the next load
reports which facets and documents changed in between.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runLoad(cmd, args, f)
		},
	}
	cmd.Flags().BoolVar(&f.cache, "cache", false, "compare with and update the snapshot cache")
	cmd.Flags().StringVar(&f.cacheDir, "cache-dir", "", "snapshot cache directory (overrides cache.dir)")
	cmd.Flags().IntVar(&f.parallel, "parallel", 0, "requested projects loaded concurrently (overrides load.parallelism)")
	cmd.Flags().BoolVar(&f.refsAsMeta, "metadata-for-references", false, "keep project references as metadata references")
	return cmd
}

func (a *app) runLoad(cmd *cobra.Command, args []string, f loadFlags) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	opts, err := a.workerOptions()
	if err != nil {
		return err
	}
	if f.parallel > 0 {
		opts.Parallelism = f.parallel
	}
	if f.refsAsMeta {
		opts.LoadMetadataForReferencedProjects = true
	}

	pool := a.newPool()
	defer a.shutdownPool(pool)
	w := a.newWorker(pool, opts)

	paths, err := a.expandInputs(args, w, opts)
	if err != nil {
		return err
	}
	nodes, err := w.Load(ctx, paths)
	if err != nil {
		return err
	}
	graph := project.NewGraph(nodes)

	s := summary{graph: graph, log: w.Log().Entries()}
	if f.cache {
		store, closeStore, err := a.openSnapshots(f.cacheDir)
		if err != nil {
			return err
		}
		defer closeStore()
		s.cached = true
		if s.deltas, err = store.Record(graph); err != nil {
			return err
		}
	}

	renderSummary(cmd.OutOrStdout(), s)
	return nil
}

// expandInputs replaces solutions with the projects they list. Solution
// problems go to the session log through the requested path mode.
func (a *app) expandInputs(args []string, w *worker.Worker, opts worker.Options) ([]string, error) {
	loader := solution.NewLoader(diagnostics.NewReporter(w.Log(), a.logger), opts.Requested.OnPathFailure)

	var paths []string
	for _, arg := range args {
		if !solutionExtensions[strings.ToLower(filepath.Ext(arg))] {
			abs, err := filepath.Abs(arg)
			if err != nil {
				return nil, fmt.Errorf("resolve %s: %w", arg, err)
			}
			paths = append(paths, abs)
			continue
		}
		sln, err := loader.Load(arg)
		if err != nil {
			return nil, err
		}
		paths = append(paths, sln.Projects...)
	}
	return paths, nil
}

// openSnapshots opens the snapshot store. Without a directory the store
// lives in memory and only compares loads within this process.
func (a *app) openSnapshots(dir string) (*storage.SnapshotStore, func(), error) {
	if dir == "" {
		dir = a.cfg.Cache.Dir
	}
	cfg := storage.InMemoryConfig()
	if dir != "" && !a.cfg.Cache.InMemory {
		cfg = storage.DefaultConfig(dir)
	}
	cfg.Logger = a.logger

	db, err := storage.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	return storage.NewSnapshotStore(db), func() { _ = db.Close() }, nil
}
