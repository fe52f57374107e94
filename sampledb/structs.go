// Daywatch
// Copyright (c) 2016, 2025, DCSO GmbH

package sampledb

import (
	"time"

	"github.com/DCSO/daywatch/heuristics"
)

// Verdict is the complete outcome of one analysis pass. It is keyed by its
// SHA-256 digest, which is also its ID.
type Verdict struct {
	ID                      string               `json:"id"`
	FileName                string               `json:"file_name"`
	Sha256                  string               `json:"sha256"`
	Md5                     string               `json:"md5"`
	Hashes                  HashInfo             `json:"hashes"`
	FileSize                uint64               `json:"file_size"`
	FileType                string               `json:"file_type"`
	MimeType                string               `json:"mime_type"`
	Magic                   string               `json:"magic,omitempty"`
	UploadTime              time.Time            `json:"upload_time"`
	Entropy                 float64              `json:"entropy"`
	SuspiciousIndicators    []string             `json:"suspicious_indicators"`
	DetectionRulesTriggered []heuristics.RuleTag `json:"detection_rules_triggered"`
	ThreatScore             int                  `json:"threat_score"`
	ThreatLevel             heuristics.Level     `json:"threat_level"`
	Recommendation          string               `json:"recommendation"`
	ExternalReportLink      string               `json:"external_report_link,omitempty"`
	Uploaded                bool                 `json:"uploaded,omitempty"`
	UploadLocation          string               `json:"upload_location,omitempty"`
}

// HashInfo contains file hash information for the verdict struct
type HashInfo struct {
	Md5      string `json:"md5"`
	Sha1     string `json:"sha1"`
	Sha256   string `json:"sha256"`
	Sha512   string `json:"sha512"`
	Sha3_512 string `json:"sha3_512"`
}

// Clone returns a copy of v that shares no slices with it.
func (v Verdict) Clone() Verdict {
	c := v
	if v.SuspiciousIndicators != nil {
		c.SuspiciousIndicators = append(make([]string, 0, len(v.SuspiciousIndicators)), v.SuspiciousIndicators...)
	}
	if v.DetectionRulesTriggered != nil {
		c.DetectionRulesTriggered = append(make([]heuristics.RuleTag, 0, len(v.DetectionRulesTriggered)), v.DetectionRulesTriggered...)
	}
	return c
}
