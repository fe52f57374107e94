// Daywatch
// Copyright (c) 2016, 2025, DCSO GmbH

package registry

import (
	"github.com/DCSO/daywatch/heuristics"
)

// AnalysisPlugins is the iterable collection of all registered plugins
var AnalysisPlugins []AnalysisPlugin

// AnalysisPlugin defines the functions every additional detector has to
// provide. Plugins run after the built-in heuristics and their findings are
// scored like any other indicator.
type AnalysisPlugin interface {
	Name() string
	ReInitialize() error
	ProcessFile(FileSample) (heuristics.Findings, error)
}

// RegisterAnalysisPlugin makes a plugin available for usage
func RegisterAnalysisPlugin(p AnalysisPlugin) {
	AnalysisPlugins = append(AnalysisPlugins, p)
}

// FileSample is one file submitted for analysis. Name, MimeType and Size are
// supplied by the client and not trusted.
type FileSample struct {
	Data     []byte
	Name     string
	MimeType string
	Size     int64
}
