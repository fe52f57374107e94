// Daywatch
// Copyright (c) 2016, 2025, DCSO GmbH

package heuristics

import "math"

const (
	// MaxEntropy is the upper bound of byte-level Shannon entropy in bits.
	MaxEntropy = 8.0
	// HighEntropyThreshold is the entropy above which content is considered
	// packed, encrypted or otherwise obfuscated.
	HighEntropyThreshold = 7.5

	highEntropyIndicator = "High file entropy (possible obfuscation or packed binary)"
)

// ShannonEntropy returns the Shannon entropy of data in bits per byte. Empty
// input has an entropy of 0.
func ShannonEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}

	var freq [256]uint64
	for _, b := range data {
		freq[b]++
	}

	var entropy float64
	length := float64(len(data))
	for _, count := range freq {
		// empty bins contribute nothing, log2(0) is undefined
		if count == 0 {
			continue
		}
		p := float64(count) / length
		entropy -= p * math.Log2(p)
	}

	// rounding can push a single-symbol stream to -0 or a uniform one a hair
	// past 8
	return math.Min(math.Max(entropy, 0), MaxEntropy)
}

// EntropyFindings returns the high-entropy indicator if entropy exceeds
// HighEntropyThreshold.
func EntropyFindings(entropy float64) Findings {
	var f Findings
	if entropy > HighEntropyThreshold {
		f.Add(highEntropyIndicator, RuleHighEntropy)
	}
	return f
}
