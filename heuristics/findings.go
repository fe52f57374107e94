// Daywatch
// Copyright (c) 2016, 2025, DCSO GmbH

// Package heuristics contains the static, content-only detection logic:
// byte entropy, literal signature matching and threat scoring. Everything in
// here is pure and safe for concurrent use.
package heuristics

// RuleTag is a machine-readable label naming the detection rule that fired.
type RuleTag string

// Detection rule tags. The set is closed; plugins reuse these or add their
// own tag next to them.
const (
	RuleSuspiciousString   RuleTag = "SUSPICIOUS_STRING_DETECTED"
	RuleSystemFolderAccess RuleTag = "SYSTEM_FOLDER_ACCESS"
	RuleAdminToolUsage     RuleTag = "ADMIN_TOOL_USAGE"
	RuleHighEntropy        RuleTag = "HIGH_ENTROPY_DETECTED"
	RuleYARAMatch          RuleTag = "YARA_RULE_MATCHED"
)

// Findings collects human-readable indicators and the rule tags that
// produced them, both in the order they fired.
type Findings struct {
	Indicators []string
	Rules      []RuleTag
}

// Add appends one indicator together with its rule tag.
func (f *Findings) Add(indicator string, rule RuleTag) {
	f.Indicators = append(f.Indicators, indicator)
	f.Rules = append(f.Rules, rule)
}

// Merge appends all of o's indicators and tags after the ones already present.
func (f *Findings) Merge(o Findings) {
	f.Indicators = append(f.Indicators, o.Indicators...)
	f.Rules = append(f.Rules, o.Rules...)
}

// Empty is true if nothing fired.
func (f Findings) Empty() bool {
	return len(f.Indicators) == 0 && len(f.Rules) == 0
}
