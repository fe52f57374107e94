// Daywatch
// Copyright (c) 2016, 2025, DCSO GmbH

package heuristics

import "fmt"

// Level is the discrete threat classification derived from a threat score.
// Levels are ordered, a higher value means a more severe classification.
type Level int

// Threat levels.
const (
	Clean Level = iota
	Suspicious
	Malicious
)

type levelInfo struct {
	minScore       int
	name           string
	recommendation string
}

// levels is indexed by Level and sorted by ascending minScore, so every score
// in [0, MaxScore] maps to exactly one entry.
var levels = [...]levelInfo{
	Clean: {
		minScore:       0,
		name:           "clean",
		recommendation: "No obvious threats detected in the file. However, proceed with caution if you do not trust the source.",
	},
	Suspicious: {
		minScore:       30,
		name:           "suspicious",
		recommendation: "File may be suspicious. Analyze further before running.",
	},
	Malicious: {
		minScore:       70,
		name:           "malicious",
		recommendation: "Do not run this file. It is likely malware.",
	},
}

// LevelForScore maps a threat score to its level, evaluating thresholds from
// the most severe level down.
func LevelForScore(score int) Level {
	for l := Malicious; l > Clean; l-- {
		if score >= levels[l].minScore {
			return l
		}
	}
	return Clean
}

// MinScore returns the lowest score classified as l.
func (l Level) MinScore() int {
	return levels[l].minScore
}

// String returns the lowercase level name.
func (l Level) String() string {
	if l < Clean || l > Malicious {
		return fmt.Sprintf("Level(%d)", int(l))
	}
	return levels[l].name
}

// Recommendation returns the advice shown to users for this level.
func (l Level) Recommendation() string {
	if l < Clean || l > Malicious {
		return levels[Clean].recommendation
	}
	return levels[l].recommendation
}

// AtLeast is true if l is as severe as other or more.
func (l Level) AtLeast(other Level) bool {
	return l >= other
}

// ParseLevel parses a lowercase level name.
func ParseLevel(s string) (Level, error) {
	for i, info := range levels {
		if info.name == s {
			return Level(i), nil
		}
	}
	return Clean, fmt.Errorf("unknown threat level %q", s)
}

// MarshalText encodes the level by name.
func (l Level) MarshalText() ([]byte, error) {
	if l < Clean || l > Malicious {
		return nil, fmt.Errorf("invalid threat level %d", int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText decodes a level name.
func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
