// Daywatch
// Copyright (c) 2016, 2025, DCSO GmbH

package yarascanner

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/DCSO/daywatch/heuristics"

	"github.com/hillu/go-yara/v4"
	"github.com/xi2/xz"
)

// loadRules reads a compiled yara rule file, either from a local path or, if
// that is empty, from a URL.
func loadRules(ruleFile string, ruleURI string, isXz bool) (*yara.Rules, error) {
	var ruleReader io.Reader

	if ruleFile != "" {
		yLogger.Info("Loading rule file ", ruleFile)
		fileReader, err := os.Open(ruleFile)
		if err != nil {
			return nil, err
		}
		defer fileReader.Close()
		ruleReader = fileReader
	} else {
		yLogger.Debug("Retrieving rule file via HTTP from: ", ruleURI)
		response, err := http.Get(ruleURI)
		if err != nil {
			return nil, err
		}
		defer response.Body.Close()
		if response.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("rule download from %s: %s", ruleURI, response.Status)
		}
		data, err := io.ReadAll(response.Body)
		if err != nil {
			return nil, err
		}
		ruleReader = bytes.NewReader(data)
	}

	if isXz {
		xzReader, err := xz.NewReader(ruleReader, 0)
		if err != nil {
			return nil, err
		}
		ruleReader = xzReader
	}

	rules, err := yara.ReadRules(ruleReader)
	if err != nil {
		return nil, fmt.Errorf("error loading yara rules: %w", err)
	}
	yLogger.Infof("Loaded [%d] rules", len(rules.GetRules()))
	return rules, nil
}

func matchToFindings(m yara.MatchRules) heuristics.Findings {
	var f heuristics.Findings
	for _, v := range m {
		name := v.Rule
		if v.Namespace != "" && v.Namespace != "default" {
			name = v.Namespace + ":" + v.Rule
		}
		f.Add(fmt.Sprintf("Matches YARA rule: %s", name), heuristics.RuleYARAMatch)
	}
	return f
}
