// Daywatch
// Copyright (c) 2016, 2025, DCSO GmbH

package yarascanner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/DCSO/daywatch/heuristics"
	"github.com/DCSO/daywatch/registry"
	"github.com/DCSO/daywatch/util"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const markerIndicator = "Matches YARA rule: test:daywatch_test_marker"

func compiledRules(t *testing.T) string {
	out := filepath.Join(t.TempDir(), "test.yac")
	require.NoError(t, util.MakeYARARuleFile("../../testdata/simple.yara", out))
	return out
}

func TestScannerFromFile(t *testing.T) {
	y := &Scanner{RuleFile: compiledRules(t)}
	require.NoError(t, y.ReInitialize())

	f, err := y.ProcessFile(registry.FileSample{
		Name: "payload.bin",
		Data: []byte("xxxx DAYWATCH-TEST-MARKER xxxx"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{markerIndicator}, f.Indicators)
	assert.Equal(t, []heuristics.RuleTag{heuristics.RuleYARAMatch}, f.Rules)

	f, err = y.ProcessFile(registry.FileSample{Name: "other.bin", Data: []byte("nothing to see")})
	require.NoError(t, err)
	assert.True(t, f.Empty())

	f, err = y.ProcessFile(registry.FileSample{Name: "empty.bin", Data: []byte{}})
	require.NoError(t, err)
	assert.True(t, f.Empty())
}

func TestScannerFromURI(t *testing.T) {
	rules, err := os.ReadFile(compiledRules(t))
	require.NoError(t, err)

	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	httpmock.RegisterResponder("GET", "https://rules.example.org/current.yac",
		httpmock.NewBytesResponder(200, rules))
	httpmock.RegisterResponder("GET", "https://rules.example.org/missing.yac",
		httpmock.NewStringResponder(404, "not found"))

	y := &Scanner{RuleURI: "https://rules.example.org/current.yac"}
	require.NoError(t, y.ReInitialize())
	f, err := y.ProcessFile(registry.FileSample{Data: []byte("DAYWATCH-TEST-MARKER")})
	require.NoError(t, err)
	assert.Equal(t, []string{markerIndicator}, f.Indicators)

	// a failed reload keeps nothing half-loaded around
	broken := &Scanner{RuleURI: "https://rules.example.org/missing.yac"}
	assert.Error(t, broken.ReInitialize())
	f, err = broken.ProcessFile(registry.FileSample{Data: []byte("DAYWATCH-TEST-MARKER")})
	require.NoError(t, err)
	assert.True(t, f.Empty())
}

func TestScannerUnconfigured(t *testing.T) {
	y := &Scanner{}
	require.NoError(t, y.ReInitialize())
	f, err := y.ProcessFile(registry.FileSample{Data: []byte("DAYWATCH-TEST-MARKER")})
	require.NoError(t, err)
	assert.True(t, f.Empty())
}

func TestScannerRegistered(t *testing.T) {
	found := false
	for _, p := range registry.AnalysisPlugins {
		if p.Name() == "YARA" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestScannerInAnalyzer(t *testing.T) {
	y := &Scanner{RuleFile: compiledRules(t)}
	a := registry.MakeAnalyzer(nil)
	a.Plugins = []registry.AnalysisPlugin{y}
	require.NoError(t, a.ReInitialize())

	v, err := a.Analyze(registry.FileSample{
		Name: "notes.txt",
		Data: []byte("DAYWATCH-TEST-MARKER " + string(make([]byte, 2048))),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{markerIndicator}, v.SuspiciousIndicators)
	// one indicator, one rule
	assert.Equal(t, 15, v.ThreatScore)
}
