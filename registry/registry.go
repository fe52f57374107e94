// Daywatch
// Copyright (c) 2016, 2025, DCSO GmbH

// Package registry - Reference: http://stackoverflow.com/questions/28001872/golang-events-eventemitter-dispatcher-for-plugin-architecture
package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/DCSO/daywatch/heuristics"
	"github.com/DCSO/daywatch/metrics"
	"github.com/DCSO/daywatch/sampledb"
	"github.com/DCSO/daywatch/submitter"
	"github.com/DCSO/daywatch/uploader"

	log "github.com/sirupsen/logrus"
)

const (
	// DefaultMaxSize is the default size ceiling for a single sample.
	DefaultMaxSize = 100 * 1024 * 1024

	unknownMimeType = "unknown"
)

// Analyzer runs the heuristics and all plugins on a sample, scores the result
// and records the verdict.
type Analyzer struct {
	// Store receives every verdict. Write failures are logged only.
	Store sampledb.Store
	// Plugins run after the built-in heuristics, in order.
	Plugins []AnalysisPlugin
	// MaxSize is the largest sample accepted, in bytes. Zero disables the
	// check.
	MaxSize int64
	// Submitter, if set, receives the JSON of every verdict.
	Submitter submitter.Submitter
	// Uploader, if set, quarantines samples rated QuarantineLevel or worse
	// and submits their verdict after upload.
	Uploader        *uploader.Uploader
	QuarantineLevel heuristics.Level
	// DetectMagic enables libmagic content typing.
	DetectMagic bool
	Metrics     *metrics.Recorder
	// Now returns the timestamp put on verdicts.
	Now func() time.Time

	initLock sync.RWMutex
}

// MakeAnalyzer returns an Analyzer writing to store, using the default size
// ceiling and no plugins.
func MakeAnalyzer(store sampledb.Store) *Analyzer {
	return &Analyzer{
		Store:           store,
		MaxSize:         DefaultMaxSize,
		QuarantineLevel: heuristics.Suspicious,
		Now:             time.Now,
	}
}

// ReInitialize calls the plugins' ReInitialize functions to give them a
// chance to prepare their matching engines. Analyses wait while this runs.
func (a *Analyzer) ReInitialize() error {
	a.initLock.Lock()
	defer a.initLock.Unlock()
	for _, p := range a.Plugins {
		if err := p.ReInitialize(); err != nil {
			return fmt.Errorf("initializing plugin [%s]: %w", p.Name(), err)
		}
	}
	log.Infof("[%v] plugins successfully initialized", len(a.Plugins))
	return nil
}

// Analyze inspects one sample and returns its verdict. Oversized and empty
// submissions are rejected before any work is done. The verdict is returned
// even if storing or forwarding it fails.
func (a *Analyzer) Analyze(sample FileSample) (verdict sampledb.Verdict, err error) {
	if sample.Data == nil {
		a.Metrics.Rejected("no_file")
		return verdict, ErrNoFileProvided
	}
	size := sample.Size
	if int64(len(sample.Data)) > size {
		size = int64(len(sample.Data))
	}
	if a.MaxSize > 0 && size > a.MaxSize {
		a.Metrics.Rejected("too_large")
		return verdict, fmt.Errorf("%w: %d bytes exceeds limit of %d bytes",
			ErrPayloadTooLarge, size, a.MaxSize)
	}

	start := time.Now()
	verdict, err = a.inspect(sample)
	if err != nil {
		a.Metrics.Rejected("internal")
		log.Errorf("analysis of %s failed: %s", sample.Name, err)
		return sampledb.Verdict{}, fmt.Errorf("%w: %s", ErrAnalysisFailed, err)
	}
	a.Metrics.Analysis(verdict.ThreatLevel, verdict.DetectionRulesTriggered, time.Since(start))

	log.WithFields(log.Fields{
		"file":   sample.Name,
		"sha256": verdict.Sha256,
		"score":  verdict.ThreatScore,
		"level":  verdict.ThreatLevel.String(),
	}).Info("sample analysed")

	a.record(verdict, sample.Data)
	return verdict, nil
}

// GetReport returns the stored verdict for a SHA-256 digest.
func (a *Analyzer) GetReport(digest string) (sampledb.Verdict, error) {
	digest = strings.ToLower(strings.TrimSpace(digest))
	v, err := a.Store.Get(digest)
	if err != nil {
		return v, fmt.Errorf("report %s: %w", digest, err)
	}
	return v, nil
}

// inspect does the actual analysis work. Panics anywhere in here are turned
// into errors.
func (a *Analyzer) inspect(sample FileSample) (v sampledb.Verdict, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	hashes, err := CalculateBasicHashes(bytes.NewReader(sample.Data))
	if err != nil {
		return v, err
	}

	ext := heuristics.ExtensionFromName(sample.Name)
	mimeType := sample.MimeType
	if mimeType == "" {
		mimeType = unknownMimeType
	}

	findings := heuristics.MatchSignatures(sample.Data, ext)
	entropy := safeEntropy(sample.Data)
	findings.Merge(heuristics.EntropyFindings(entropy))
	findings.Merge(a.runPlugins(sample))

	size := uint64(len(sample.Data))
	assessment := heuristics.Assess(heuristics.ScoreInput{
		Extension: ext,
		Size:      size,
		Findings:  findings,
		Entropy:   entropy,
	}, hashes.Sha256)

	v = sampledb.Verdict{
		ID:                      hashes.Sha256,
		FileName:                sample.Name,
		Sha256:                  hashes.Sha256,
		Md5:                     hashes.Md5,
		Hashes:                  hashes,
		FileSize:                size,
		FileType:                ext,
		MimeType:                mimeType,
		UploadTime:              a.now().UTC(),
		Entropy:                 entropy,
		SuspiciousIndicators:    append([]string{}, findings.Indicators...),
		DetectionRulesTriggered: append([]heuristics.RuleTag{}, findings.Rules...),
		ThreatScore:             assessment.Score,
		ThreatLevel:             assessment.Level,
		Recommendation:          assessment.Recommendation,
		ExternalReportLink:      assessment.ExternalReportLink,
	}
	if a.DetectMagic {
		v.Magic = MagicFromBuffer(sample.Data)
		if sample.MimeType == "" {
			if detected := MimeFromBuffer(sample.Data); detected != "" {
				v.MimeType = detected
			}
		}
	}
	return v, nil
}

// safeEntropy degrades to zero entropy instead of failing the analysis.
func safeEntropy(data []byte) (e float64) {
	defer func() {
		if r := recover(); r != nil {
			log.Warnf("could not calculate entropy: %v", r)
			e = 0
		}
	}()
	return heuristics.ShannonEntropy(data)
}

// runPlugins iterates over the configured plugins and collects what they
// found. Failing plugins are skipped.
func (a *Analyzer) runPlugins(sample FileSample) heuristics.Findings {
	var findings heuristics.Findings
	a.initLock.RLock()
	defer a.initLock.RUnlock()
	for _, plug := range a.Plugins {
		f, err := plug.ProcessFile(sample)
		if err != nil {
			a.Metrics.PluginFailure(plug.Name())
			log.Errorf("plugin (%s) error processing file: %s", plug.Name(), err)
			continue
		}
		findings.Merge(f)
	}
	return findings
}

// record stores the verdict and hands it on. None of this is allowed to fail
// the analysis.
func (a *Analyzer) record(v sampledb.Verdict, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("recording verdict %s: %v", v.Sha256, r)
		}
	}()

	if a.Store != nil {
		if err := a.Store.Put(v); err != nil {
			a.Metrics.StoreFailure()
			log.Errorf("could not store verdict %s: %s", v.Sha256, err)
		}
	}

	if a.Uploader != nil && v.ThreatLevel.AtLeast(a.QuarantineLevel) {
		// the uploader submits the verdict once the sample is uploaded
		if err := a.Uploader.Enqueue(v, data); err != nil {
			log.Errorf("could not enqueue %s for upload: %s", v.Sha256, err)
		}
		return
	}
	if a.Submitter != nil {
		msg, err := json.Marshal(v)
		if err != nil {
			log.Error(err)
			return
		}
		if err = a.Submitter.Submit(msg); err != nil {
			log.Errorf("could not submit verdict %s: %s", v.Sha256, err)
		}
	}
}

func (a *Analyzer) now() time.Time {
	if a.Now == nil {
		return time.Now()
	}
	return a.Now()
}
