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
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/projectgraph/services/projectgraph/buildhost"
)

func newVariantCmd(a *app) *cobra.Command {
	var showToolchain bool
	cmd := &cobra.Command{
		Use:   "variant <project>...",
		Short: "Show which build engine each project needs",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !showToolchain {
				return fmt.Errorf("requires at least 1 arg(s), only received 0")
			}
			pool := a.newPool()
			defer a.shutdownPool(pool)

			out := cmd.OutOrStdout()
			st := newStyles(out)
			if showToolchain {
				for _, v := range buildhost.Variants {
					status := st.ok.Render("available")
					if !pool.Available(v) {
						status = st.failure.Render("unavailable")
					}
					fmt.Fprintf(out, "%-20s %s\n", v, status)
				}
			}

			for _, arg := range args {
				path, err := filepath.Abs(arg)
				if err != nil {
					return err
				}
				v, err := pool.SelectVariant(path)
				if err != nil {
					return err
				}
				line := fmt.Sprintf("%s: %s", arg, st.name.Render(v.String()))
				if v != buildhost.Modern && !pool.Available(v) {
					line += " " + st.warning.Render("(unavailable, loads with "+buildhost.Modern.String()+")")
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showToolchain, "toolchain", false, "also list which engine variants the host can run")
	return cmd
}
