// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cmdline interprets the compiler argument list a design-time build
// reports for a project.
//
// Only arguments that shape the project graph or its option facets are
// interpreted. Everything else that still influences compilation is kept,
// in order, in CompilationOptions.Other so a change to it is still visible
// to facet checksums.
package cmdline

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/AleutianAI/projectgraph/services/projectgraph/project"
)

// Arguments is the interpreted form of a compiler argument list.
type Arguments struct {
	MetadataReferences []project.MetadataReference
	AnalyzerReferences []project.AnalyzerReference
	CompilationOptions project.CompilationOptions
	ParseOptions       project.ParseOptions

	// OutputPath is the /out: value, absolute. Empty when not given.
	OutputPath string

	// RefOutputPath is the /refout: value, absolute. Empty when not given.
	RefOutputPath string

	// Sources are the positional source file arguments, absolute.
	Sources []string
}

var outputKinds = map[string]string{
	"exe":             "ConsoleApplication",
	"winexe":          "WindowsApplication",
	"library":         "DynamicallyLinkedLibrary",
	"module":          "NetModule",
	"appcontainerexe": "WindowsRuntimeApplication",
	"winmdobj":        "WindowsRuntimeMetadata",
}

// Parse interprets args. Relative paths are resolved against baseDir.
//
// Description:
//
//	Options may start with '/' or '-' and their names are case
//	insensitive. Values follow ':' or '='. A trailing '+' or '-' on a
//	boolean option sets it explicitly. Reference values may carry an
//	"alias=" or "a1,a2=" prefix; a path referenced more than once has its
//	aliases merged in first-seen order.
//
// Outputs:
//
//	*Arguments - Never nil.
func Parse(args []string, baseDir string) *Arguments {
	p := &parser{
		baseDir: baseDir,
		out: &Arguments{
			CompilationOptions: project.CompilationOptions{OutputKind: outputKinds["exe"]},
			ParseOptions:       project.ParseOptions{DocumentationMode: "parse"},
		},
		refIndex: make(map[string]int),
	}
	for _, arg := range args {
		p.arg(unquote(arg))
	}
	return p.out
}

type parser struct {
	baseDir  string
	out      *Arguments
	refIndex map[string]int
}

func (p *parser) arg(arg string) {
	if arg == "" {
		return
	}
	if (arg[0] != '/' && arg[0] != '-') || isRootedPath(arg) {
		if strings.HasPrefix(arg, "@") {
			p.other(arg)
			return
		}
		p.out.Sources = append(p.out.Sources, p.abs(arg))
		return
	}

	name, value, hasValue := splitOption(arg[1:])
	flag, explicit := boolSuffix(name)
	co := &p.out.CompilationOptions
	po := &p.out.ParseOptions

	switch strings.ToLower(flag) {
	case "reference", "r":
		if hasValue {
			p.references(value)
			return
		}
	case "analyzer", "a":
		if hasValue {
			for _, path := range splitList(value) {
				p.out.AnalyzerReferences = append(p.out.AnalyzerReferences, project.AnalyzerReference{Path: p.abs(path)})
			}
			return
		}
	case "out":
		if hasValue {
			p.out.OutputPath = p.abs(value)
			return
		}
	case "refout":
		if hasValue {
			p.out.RefOutputPath = p.abs(value)
			return
		}
	case "target", "t":
		if kind, ok := outputKinds[strings.ToLower(value)]; ok {
			co.OutputKind = kind
			return
		}
	case "optimize", "o":
		co.Optimize = explicit
		return
	case "checked":
		co.CheckOverflow = explicit
		return
	case "unsafe":
		co.AllowUnsafe = explicit
		return
	case "delaysign":
		co.DelaySign = explicit
		return
	case "warnaserror":
		if !hasValue {
			co.WarningsAsErrors = explicit
			return
		}
	case "nowarn":
		if hasValue {
			co.SuppressedWarnings = appendUnique(co.SuppressedWarnings, splitList(value)...)
			return
		}
	case "warn", "w":
		if _, err := strconv.Atoi(value); hasValue && err == nil {
			co.WarningLevel = value
			return
		}
	case "keyfile":
		if hasValue {
			co.KeyFile = p.abs(value)
			return
		}
	case "platform":
		if hasValue {
			co.Platform = strings.ToLower(value)
			return
		}
	case "main", "m":
		if hasValue {
			co.MainTypeName = value
			return
		}
	case "langversion":
		if hasValue {
			po.LanguageVersion = strings.ToLower(value)
			return
		}
	case "define", "d":
		if hasValue {
			po.PreprocessorSymbols = appendUnique(po.PreprocessorSymbols, splitList(value)...)
			return
		}
	case "features":
		if hasValue {
			if po.Features == nil {
				po.Features = make(map[string]string)
			}
			for _, f := range splitList(value) {
				k, v, ok := strings.Cut(f, "=")
				if !ok {
					v = "true"
				}
				po.Features[k] = v
			}
			return
		}
	case "nullable":
		if !hasValue {
			if explicit {
				po.Nullable = "enable"
			} else {
				po.Nullable = "disable"
			}
			return
		}
		po.Nullable = strings.ToLower(value)
		return
	case "doc":
		po.DocumentationMode = "diagnose"
		p.other(arg)
		return
	}
	p.other(arg)
}

func (p *parser) references(value string) {
	var aliases []string
	if head, tail, ok := strings.Cut(value, "="); ok && !strings.ContainsAny(head, `/\`) {
		for _, a := range strings.Split(head, ",") {
			if a = strings.TrimSpace(a); a != "" {
				aliases = append(aliases, a)
			}
		}
		value = tail
		p.reference(p.abs(value), aliases)
		return
	}
	for _, path := range splitList(value) {
		p.reference(p.abs(path), nil)
	}
}

func (p *parser) reference(path string, aliases []string) {
	if i, ok := p.refIndex[path]; ok {
		ref := &p.out.MetadataReferences[i]
		ref.Aliases = appendUnique(ref.Aliases, aliases...)
		return
	}
	p.refIndex[path] = len(p.out.MetadataReferences)
	p.out.MetadataReferences = append(p.out.MetadataReferences, project.MetadataReference{
		Path:    path,
		Aliases: aliases,
	})
}

func (p *parser) other(arg string) {
	p.out.CompilationOptions.Other = append(p.out.CompilationOptions.Other, arg)
}

func (p *parser) abs(path string) string {
	path = unquote(path)
	if path == "" || filepath.IsAbs(path) || p.baseDir == "" {
		return filepath.Clean(path)
	}
	return filepath.Join(p.baseDir, path)
}

// isRootedPath reports whether a '/'-prefixed argument is a Unix path
// rather than an option. Option names never contain '/' or '.'.
func isRootedPath(arg string) bool {
	if arg[0] != '/' {
		return false
	}
	name, _, _ := splitOption(arg[1:])
	return strings.ContainsAny(name, "/.")
}

// splitOption splits "name:value" or "name=value".
func splitOption(s string) (name, value string, ok bool) {
	i := strings.IndexAny(s, ":=")
	if i < 0 {
		return s, "", false
	}
	return s[:i], unquote(s[i+1:]), true
}

// boolSuffix strips a trailing '+' or '-'. The flag is true unless '-'.
func boolSuffix(name string) (string, bool) {
	switch {
	case strings.HasSuffix(name, "+"):
		return name[:len(name)-1], true
	case strings.HasSuffix(name, "-"):
		return name[:len(name)-1], false
	default:
		return name, true
	}
}

func splitList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' })
	out := fields[:0]
	for _, f := range fields {
		if f = strings.TrimSpace(unquote(f)); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		dup := false
		for _, d := range dst {
			if d == v {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, v)
		}
	}
	return dst
}
