// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command projectgraph loads .NET project files into a linked project
// graph through out-of-process build engines.
//
// Usage:
//
//	projectgraph load ./src/App/App.csproj
//	projectgraph load ./All.sln --cache
//	projectgraph watch ./src/App/App.csproj
//	projectgraph variant ./src/Legacy/Legacy.csproj
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	a := &app{}
	err := newRootCmd(a).ExecuteContext(ctx)
	// PersistentPostRunE is skipped when a command fails.
	_ = a.teardown(context.Background())
	stop()
	if err != nil {
		os.Exit(1)
	}
}
