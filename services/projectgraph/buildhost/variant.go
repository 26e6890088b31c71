// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package buildhost

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// =============================================================================
// ENGINE VARIANT
// =============================================================================

// EngineVariant is a runtime flavor of the build engine.
type EngineVariant int

const (
	// VariantNone is the zero value. AcquireForProject returns it as the
	// preferred variant when no substitution happened.
	VariantNone EngineVariant = iota

	// Modern is the cross-platform engine.
	Modern

	// LegacyFramework is the Windows-only framework engine.
	LegacyFramework

	// CompatibilityShim runs the framework engine on a third-party runtime.
	CompatibilityShim
)

// Variants lists every real variant.
var Variants = []EngineVariant{Modern, LegacyFramework, CompatibilityShim}

// String returns the variant name.
func (v EngineVariant) String() string {
	switch v {
	case VariantNone:
		return "none"
	case Modern:
		return "modern"
	case LegacyFramework:
		return "legacy-framework"
	case CompatibilityShim:
		return "compatibility-shim"
	default:
		return "unknown"
	}
}

// ParseVariant parses a variant name.
func ParseVariant(s string) (EngineVariant, error) {
	for _, v := range Variants {
		if strings.EqualFold(strings.TrimSpace(s), v.String()) {
			return v, nil
		}
	}
	return VariantNone, fmt.Errorf("%w: %q", ErrUnknownVariant, s)
}

// =============================================================================
// VARIANT SELECTION
// =============================================================================

// maxProjectScanBytes bounds how much of a project file is scanned for
// SDK markers.
const maxProjectScanBytes = 1 << 20

// defaultSelectorCacheSize is the number of project files whose variant
// is remembered.
const defaultSelectorCacheSize = 512

// VariantSelector classifies project files.
//
// Description:
//
//	Reads the project file's SDK markers: an Sdk attribute on the root
//	Project element, an Sdk child element, or an Import with an Sdk
//	attribute. SDK-style projects need Modern. Other projects need
//	LegacyFramework on Windows and CompatibilityShim elsewhere. No engine
//	is invoked.
//
// Thread Safety:
//
//	Safe for concurrent use.
type VariantSelector struct {
	goos  string
	cache *lru.Cache[string, EngineVariant]
}

// NewVariantSelector creates a selector for the given host OS. An empty
// goos means the running host.
func NewVariantSelector(goos string) *VariantSelector {
	if goos == "" {
		goos = runtime.GOOS
	}
	cache, err := lru.New[string, EngineVariant](defaultSelectorCacheSize)
	if err != nil {
		// Only returned for a non-positive size.
		panic(err)
	}
	return &VariantSelector{goos: goos, cache: cache}
}

var defaultSelector = NewVariantSelector("")

// SelectVariant classifies path for the running host.
func SelectVariant(path string) (EngineVariant, error) {
	return defaultSelector.Select(path)
}

// Select classifies the project file at path.
//
// Outputs:
//
//	EngineVariant - Never VariantNone on success.
//	error - Non-nil only if the file cannot be opened or stat'ed.
func (s *VariantSelector) Select(path string) (EngineVariant, error) {
	info, err := os.Stat(path)
	if err != nil {
		return VariantNone, fmt.Errorf("select engine variant: %w", err)
	}
	key := fmt.Sprintf("%s|%d|%d", path, info.ModTime().UnixNano(), info.Size())
	if v, ok := s.cache.Get(key); ok {
		return v, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return VariantNone, fmt.Errorf("select engine variant: %w", err)
	}
	defer f.Close()

	v := s.classify(f)
	s.cache.Add(key, v)
	return v, nil
}

// Classify classifies project file content without touching the cache.
func (s *VariantSelector) Classify(r io.Reader) EngineVariant {
	return s.classify(r)
}

func (s *VariantSelector) classify(r io.Reader) EngineVariant {
	if hasSDKMarker(io.LimitReader(r, maxProjectScanBytes)) {
		return Modern
	}
	if s.goos == "windows" {
		return LegacyFramework
	}
	return CompatibilityShim
}

// hasSDKMarker scans XML tokens for SDK markers. Documents that declare a
// DTD, are malformed or exceed the scan bound are not SDK-style.
func hasSDKMarker(r io.Reader) bool {
	dec := xml.NewDecoder(r)
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			return false
		}
		switch t := tok.(type) {
		case xml.Directive:
			if bytes.HasPrefix(bytes.TrimSpace(t), []byte("DOCTYPE")) {
				return false
			}
		case xml.StartElement:
			depth++
			switch {
			case depth == 1:
				if t.Name.Local != "Project" {
					return false
				}
				if attrValue(t, "Sdk") != "" {
					return true
				}
			case depth == 2 && t.Name.Local == "Sdk":
				return true
			case t.Name.Local == "Import" && attrValue(t, "Sdk") != "":
				return true
			}
		case xml.EndElement:
			depth--
			if depth == 0 {
				return false
			}
		}
	}
}

func attrValue(el xml.StartElement, name string) string {
	for _, a := range el.Attr {
		if a.Name.Local == name {
			return strings.TrimSpace(a.Value)
		}
	}
	return ""
}
