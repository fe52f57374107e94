// Daywatch
// Copyright (c) 2016, 2025, DCSO GmbH

package heuristics

import "fmt"

// Score weights and limits.
const (
	MaxScore = 100

	// SmallFileLimit is the size below which a non-empty file is considered
	// suspiciously small.
	SmallFileLimit = 1024
	// LargeFileLimit is the size above which a file is considered
	// suspiciously large.
	LargeFileLimit = 50 * 1024 * 1024

	riskyExtensionWeight = 30
	smallFileWeight      = 10
	largeFileWeight      = 10
	indicatorWeight      = 10
	highEntropyWeight    = 10
	ruleWeight           = 5

	// ExternalLinkMinScore is the score a verdict has to exceed to carry an
	// external report link.
	ExternalLinkMinScore = 50

	externalReportURL = "https://www.virustotal.com/gui/file/%s"
)

// RiskyExtensions are executable or script formats that raise the score on
// their own.
var RiskyExtensions = map[string]bool{
	"exe": true, "dll": true, "scr": true, "bat": true,
	"cmd": true, "pif": true, "com": true,
}

// ScoreInput holds all signals the scorer looks at.
type ScoreInput struct {
	Extension string
	Size      uint64
	Findings  Findings
	Entropy   float64
}

// Assessment is the scorer's output.
type Assessment struct {
	Score              int
	Level              Level
	Recommendation     string
	ExternalReportLink string
}

// Score computes the additive threat score for in, clamped to MaxScore.
func Score(in ScoreInput) int {
	score := 0
	if RiskyExtensions[in.Extension] {
		score += riskyExtensionWeight
	}
	// a zero byte file has nothing to hide
	if in.Size > 0 && in.Size < SmallFileLimit {
		score += smallFileWeight
	}
	if in.Size > LargeFileLimit {
		score += largeFileWeight
	}
	score += indicatorWeight * len(in.Findings.Indicators)
	if in.Entropy > HighEntropyThreshold {
		score += highEntropyWeight
	}
	score += ruleWeight * len(in.Findings.Rules)
	if score > MaxScore {
		score = MaxScore
	}
	return score
}

// ExternalReportLink returns the lookup URL for sha256 if score exceeds
// ExternalLinkMinScore, and the empty string otherwise.
func ExternalReportLink(sha256 string, score int) string {
	if score <= ExternalLinkMinScore {
		return ""
	}
	return fmt.Sprintf(externalReportURL, sha256)
}

// Assess scores in and derives level, recommendation and external link.
func Assess(in ScoreInput, sha256 string) Assessment {
	score := Score(in)
	level := LevelForScore(score)
	return Assessment{
		Score:              score,
		Level:              level,
		Recommendation:     level.Recommendation(),
		ExternalReportLink: ExternalReportLink(sha256, score),
	}
}
