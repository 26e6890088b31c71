// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cmdline

import (
	"reflect"
	"testing"

	"github.com/AleutianAI/projectgraph/services/projectgraph/project"
)

func TestParse_References(t *testing.T) {
	args := []string{
		"/reference:/lib/System.dll",
		"-r:../B/bin/B.dll;/lib/C.dll",
		"/reference:Alias1=/lib/D.dll",
		"/r:Alias2,Alias3=/lib/D.dll",
		"/r:/lib/System.dll",
		"/analyzer:/lib/Analyzer.dll",
		"-a:\"/lib/Other Analyzer.dll\"",
	}

	got := Parse(args, "/src/A")

	want := []project.MetadataReference{
		{Path: "/lib/System.dll"},
		{Path: "/src/B/bin/B.dll"},
		{Path: "/lib/C.dll"},
		{Path: "/lib/D.dll", Aliases: []string{"Alias1", "Alias2", "Alias3"}},
	}
	if !reflect.DeepEqual(got.MetadataReferences, want) {
		t.Errorf("MetadataReferences = %+v, want %+v", got.MetadataReferences, want)
	}

	wantAnalyzers := []project.AnalyzerReference{
		{Path: "/lib/Analyzer.dll"},
		{Path: "/lib/Other Analyzer.dll"},
	}
	if !reflect.DeepEqual(got.AnalyzerReferences, wantAnalyzers) {
		t.Errorf("AnalyzerReferences = %+v, want %+v", got.AnalyzerReferences, wantAnalyzers)
	}
}

func TestParse_Options(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		check func(t *testing.T, a *Arguments)
	}{
		{
			name: "defaults",
			args: nil,
			check: func(t *testing.T, a *Arguments) {
				if a.CompilationOptions.OutputKind != "ConsoleApplication" {
					t.Errorf("OutputKind = %q", a.CompilationOptions.OutputKind)
				}
				if a.ParseOptions.DocumentationMode != "parse" {
					t.Errorf("DocumentationMode = %q", a.ParseOptions.DocumentationMode)
				}
			},
		},
		{
			name: "compilation flags",
			args: []string{"/target:library", "/optimize+", "/checked-", "/unsafe", "/warnaserror", "/nowarn:1701,1702", "/nowarn:1701;2008", "/warn:4", "/platform:AnyCPU", "/main:Program", "/keyfile:key.snk", "/delaysign-"},
			check: func(t *testing.T, a *Arguments) {
				co := a.CompilationOptions
				if co.OutputKind != "DynamicallyLinkedLibrary" || !co.Optimize || co.CheckOverflow || !co.AllowUnsafe || !co.WarningsAsErrors {
					t.Errorf("unexpected compilation options %+v", co)
				}
				if !reflect.DeepEqual(co.SuppressedWarnings, []string{"1701", "1702", "2008"}) {
					t.Errorf("SuppressedWarnings = %v", co.SuppressedWarnings)
				}
				if co.WarningLevel != "4" || co.Platform != "anycpu" || co.MainTypeName != "Program" || co.DelaySign {
					t.Errorf("unexpected compilation options %+v", co)
				}
				if co.KeyFile != "/src/A/key.snk" {
					t.Errorf("KeyFile = %q", co.KeyFile)
				}
				if len(co.Other) != 0 {
					t.Errorf("Other = %v", co.Other)
				}
			},
		},
		{
			name: "parse options",
			args: []string{"/langversion:Preview", "/define:DEBUG;TRACE", "-d:DEBUG,NET8_0", "/features:strict;flow-analysis=on", "/nullable:Enable", "/doc:/out/A.xml"},
			check: func(t *testing.T, a *Arguments) {
				po := a.ParseOptions
				if po.LanguageVersion != "preview" {
					t.Errorf("LanguageVersion = %q", po.LanguageVersion)
				}
				if !reflect.DeepEqual(po.PreprocessorSymbols, []string{"DEBUG", "TRACE", "NET8_0"}) {
					t.Errorf("PreprocessorSymbols = %v", po.PreprocessorSymbols)
				}
				if !reflect.DeepEqual(po.Features, map[string]string{"strict": "true", "flow-analysis": "on"}) {
					t.Errorf("Features = %v", po.Features)
				}
				if po.Nullable != "enable" || po.DocumentationMode != "diagnose" {
					t.Errorf("unexpected parse options %+v", po)
				}
			},
		},
		{
			name: "outputs and sources",
			args: []string{"/out:obj/A.dll", "/refout:obj/ref/A.dll", "Program.cs", "/src/A/Util.cs", "@extra.rsp", "/deterministic+"},
			check: func(t *testing.T, a *Arguments) {
				if a.OutputPath != "/src/A/obj/A.dll" || a.RefOutputPath != "/src/A/obj/ref/A.dll" {
					t.Errorf("outputs = %q, %q", a.OutputPath, a.RefOutputPath)
				}
				if !reflect.DeepEqual(a.Sources, []string{"/src/A/Program.cs", "/src/A/Util.cs"}) {
					t.Errorf("Sources = %v", a.Sources)
				}
				if !reflect.DeepEqual(a.CompilationOptions.Other, []string{"@extra.rsp", "/deterministic+"}) {
					t.Errorf("Other = %v", a.CompilationOptions.Other)
				}
			},
		},
		{
			name: "nullable toggles",
			args: []string{"/nullable-"},
			check: func(t *testing.T, a *Arguments) {
				if a.ParseOptions.Nullable != "disable" {
					t.Errorf("Nullable = %q", a.ParseOptions.Nullable)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, Parse(tt.args, "/src/A"))
		})
	}
}
