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
	"io"
	"log/slog"
	"sync"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/projectgraph/services/projectgraph/buildhost"
	"github.com/AleutianAI/projectgraph/services/projectgraph/project"
	"github.com/AleutianAI/projectgraph/services/projectgraph/projectmap"
	"github.com/AleutianAI/projectgraph/services/projectgraph/reload"
	storage "github.com/AleutianAI/projectgraph/services/projectgraph/storage/badger"
	"github.com/AleutianAI/projectgraph/services/projectgraph/watch"
	"github.com/AleutianAI/projectgraph/services/projectgraph/worker"
)

func newWatchCmd(a *app) *cobra.Command {
	var f loadFlags
	cmd := &cobra.Command{
		Use:   "watch <project|solution>...",
		Short: "Load projects, then reload them as their files change",
		Long: `Watch loads the graph like load, then watches every loaded project file.
Each change re-evaluates the project and applies an incremental reload,
printing the facets that changed. Stop with Ctrl-C.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runWatch(cmd, args, f)
		},
	}
	cmd.Flags().BoolVar(&f.cache, "cache", false, "update the snapshot cache after every reload")
	cmd.Flags().StringVar(&f.cacheDir, "cache-dir", "", "snapshot cache directory (overrides cache.dir)")
	return cmd
}

func (a *app) runWatch(cmd *cobra.Command, args []string, f loadFlags) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	opts, err := a.workerOptions()
	if err != nil {
		return err
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

	s := &watchSession{
		app:   a,
		pool:  pool,
		opts:  opts,
		graph: project.NewGraph(nodes),
		out:   cmd.OutOrStdout(),
	}
	if f.cache {
		store, closeStore, err := a.openSnapshots(f.cacheDir)
		if err != nil {
			return err
		}
		defer closeStore()
		s.store = store
		if _, err := store.Record(s.graph); err != nil {
			return err
		}
	}
	renderSummary(s.out, summary{graph: s.graph, log: w.Log().Entries()})

	watcher, err := watch.New(func(changes []watch.Change) { s.apply(ctx, changes) },
		watch.WithDebounce(a.cfg.Watch.Debounce),
		watch.WithLogger(a.logger),
	)
	if err != nil {
		return err
	}
	defer watcher.Stop()
	if err := watcher.Add(s.watchedPaths()...); err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	a.logger.Info("watching project files", slog.Int("files", len(watcher.Paths())))

	<-ctx.Done()
	return nil
}

// watchSession owns the graph while the watcher runs.
type watchSession struct {
	app   *app
	pool  *buildhost.Pool
	opts  worker.Options
	store *storage.SnapshotStore
	out   io.Writer

	mu    sync.Mutex
	graph *project.Graph
}

func (s *watchSession) watchedPaths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, n := range s.graph.Nodes() {
		if n.Attributes.IsEmpty || seen[n.FilePath()] {
			continue
		}
		seen[n.FilePath()] = true
		out = append(out, n.FilePath())
	}
	return out
}

// apply reloads the projects behind one batch of file changes.
//
// Every batch runs in a fresh session whose identity index is seeded from
// the current graph, so references resolve to the ids already in use.
func (s *watchSession) apply(ctx context.Context, changes []watch.Change) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := projectmap.FromGraph(s.graph)
	w := s.app.newWorker(s.pool, s.opts, worker.WithProjectMap(ids))
	reloader := reload.NewReloader(
		reload.WithProjectMap(ids),
		reload.WithDiagnosticLog(w.Log()),
		reload.WithLogger(s.app.logger),
	)

	var updated []*project.Node
	for _, c := range changes {
		logger := s.app.logger.With(slog.String("path", c.Path), slog.String("op", c.Op.String()))
		if c.Op == watch.OpRemove || c.Op == watch.OpRename {
			logger.Warn("project file removed; keeping its last loaded state")
			continue
		}

		descs, err := w.Evaluate(ctx, c.Path)
		if err != nil {
			logger.Error("re-evaluation failed", slog.String("error", err.Error()))
			continue
		}
		for _, old := range s.graph.NodesByPath(c.Path) {
			desc := matchDescriptor(descs, old.Attributes.TargetFramework)
			if desc == nil {
				logger.Warn("target framework no longer built; keeping its last loaded state",
					slog.String("target_framework", old.Attributes.TargetFramework))
				continue
			}
			next, delta, err := reloader.Reload(s.graph, old, desc)
			if err != nil {
				logger.Error("reload failed", slog.String("error", err.Error()))
				continue
			}
			s.graph = s.graph.Replace(next)
			renderReload(s.out, next, delta)
			if !delta.IsEmpty() {
				updated = append(updated, next)
			}
		}
	}

	for _, e := range w.Log().Entries() {
		s.app.logger.Warn("reload diagnostic", slog.String("entry", e.String()))
	}
	if s.store != nil && len(updated) > 0 {
		if err := s.saveSnapshots(updated); err != nil {
			s.app.logger.Error("snapshot cache update failed", slog.String("error", err.Error()))
		}
	}
}

func (s *watchSession) saveSnapshots(nodes []*project.Node) error {
	snaps := make([]storage.Snapshot, 0, len(nodes))
	for _, n := range nodes {
		snap, err := storage.TakeSnapshot(s.graph, n)
		if err != nil {
			return err
		}
		snaps = append(snaps, snap)
	}
	return s.store.Put(snaps...)
}

// matchDescriptor picks the descriptor for a node's target framework. A
// single-target project matches its only descriptor.
func matchDescriptor(descs []*project.Descriptor, targetFramework string) *project.Descriptor {
	for _, d := range descs {
		if d.TargetFramework == targetFramework {
			return d
		}
	}
	if len(descs) == 1 && targetFramework == "" {
		return descs[0]
	}
	return nil
}
