// Daywatch
// Copyright (c) 2016, 2025, DCSO GmbH

// Package yarascanner adds compiled YARA rules as an extra detector. Without a
// rule file or rule URI configured the plugin is inert.
package yarascanner

import (
	"flag"
	"sync"
	"time"

	"github.com/DCSO/daywatch/heuristics"
	"github.com/DCSO/daywatch/registry"

	"github.com/hillu/go-yara/v4"
	log "github.com/sirupsen/logrus"
)

const defaultScanTimeout = 20 * time.Second

var (
	ruleFile = flag.String("rule-file", "", "Path for compiled YARA rule file")
	ruleURI  = flag.String("rule-uri", "", "Download URL for compiled YARA rules")
	ruleXZ   = flag.Bool("rule-xz", false, "YARA rules are XZ compressed")
	yLogger  = log.WithFields(log.Fields{"plugin": "YARA"})
)

func init() {
	registry.RegisterAnalysisPlugin(&Scanner{})
}

// Scanner implements registry.AnalysisPlugin on top of compiled YARA rules.
// Empty configuration fields fall back to the command line flags.
type Scanner struct {
	RuleFile string
	RuleURI  string
	RuleXZ   bool
	Timeout  time.Duration

	lock  sync.RWMutex
	rules *yara.Rules
}

// Name returns the plugin name
func (y *Scanner) Name() string { return "YARA" }

// ReInitialize (re)loads the yara rules either from file or url.
func (y *Scanner) ReInitialize() error {
	file, uri, isXz := y.RuleFile, y.RuleURI, y.RuleXZ
	if file == "" && uri == "" {
		file, uri, isXz = *ruleFile, *ruleURI, *ruleXZ
	}

	var rules *yara.Rules
	if file == "" && uri == "" {
		yLogger.Info("no YARA rules configured, plugin disabled")
	} else {
		var err error
		rules, err = loadRules(file, uri, isXz)
		if err != nil {
			return err
		}
	}

	y.lock.Lock()
	old := y.rules
	y.rules = rules
	y.lock.Unlock()
	if old != nil {
		old.Destroy()
	}
	return nil
}

// ProcessFile scans the sample content against the loaded rules.
func (y *Scanner) ProcessFile(sample registry.FileSample) (heuristics.Findings, error) {
	var matches yara.MatchRules

	y.lock.RLock()
	defer y.lock.RUnlock()
	if y.rules == nil {
		return heuristics.Findings{}, nil
	}

	timeout := y.Timeout
	if timeout == 0 {
		timeout = defaultScanTimeout
	}
	err := y.rules.ScanMem(sample.Data, yara.ScanFlagsFastMode, timeout, &matches)
	if err != nil {
		return heuristics.Findings{}, err
	}

	if len(matches) != 0 {
		yLogger.Warningf("Matches for file %v found", sample.Name)
	}
	yLogger.Debug("Processed file: ", sample.Name)
	return matchToFindings(matches), nil
}
