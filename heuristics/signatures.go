// Daywatch
// Copyright (c) 2016, 2025, DCSO GmbH

package heuristics

import (
	"fmt"
	"regexp"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/text/encoding/unicode"
)

// UnknownExtension is used for file names without a usable extension.
const UnknownExtension = "unknown"

var extensionReg = regexp.MustCompile(`\.([a-zA-Z0-9]+)$`)

// TextExtensions are extensions whose content is plain text.
var TextExtensions = map[string]bool{
	"txt": true, "log": true, "md": true, "json": true, "xml": true,
	"html": true, "css": true, "js": true, "py": true, "java": true,
	"c": true, "cpp": true, "h": true, "bat": true, "ps1": true, "sh": true,
}

// DocumentExtensions are document formats that are still worth scanning for
// embedded literals.
var DocumentExtensions = map[string]bool{
	"doc": true, "docx": true, "pdf": true, "rtf": true,
}

// SuspiciousStrings is the literal catalogue. Entries must be lowercase as
// they are matched against lowercased content.
var SuspiciousStrings = []string{
	"powershell",
	"cmd.exe",
	"base64",
	"eval",
	"exec",
	"system",
	"download",
	"http://",
	"ftp://",
	"bitcoin",
	"crypto",
	"taskkill",
	"system32",
	"admin",
	"reverse shell",
	"nc.exe",
	"/bin/sh",
	"bash -i",
	"whoami",
	"net user",
	"reg add",
	"reg delete",
	"schtasks",
	"at.exe",
	"sc.exe",
	"wmic",
	"vssadmin",
	"bypass",
	"encodedcommand",
	"-enc",
	"invoke-expression",
	"invoke-webrequest",
}

// StandaloneRule is a literal with its own indicator text and rule tag,
// checked in addition to the generic catalogue.
type StandaloneRule struct {
	Literal   string
	Indicator string
	Tag       RuleTag
}

// StandaloneRules overlap with SuspiciousStrings on purpose: a hit on one of
// these literals yields both the generic and the specific indicator.
var StandaloneRules = []StandaloneRule{
	{Literal: "system32", Indicator: "Access to system32 folder", Tag: RuleSystemFolderAccess},
	{Literal: "taskkill", Indicator: "Uses 'taskkill' command", Tag: RuleAdminToolUsage},
}

// ExtensionFromName returns the lowercased trailing extension of a file name,
// or UnknownExtension.
func ExtensionFromName(name string) string {
	m := extensionReg.FindStringSubmatch(name)
	if m == nil {
		return UnknownExtension
	}
	return strings.ToLower(m[1])
}

// TextApplicable reports whether content with the given extension should be
// decoded and matched as text.
func TextApplicable(ext string) bool {
	return TextExtensions[ext] || DocumentExtensions[ext]
}

// MatchSignatures scans data for the suspicious literal catalogue and the
// standalone rules. Binary extensions are skipped. Any decoding problem
// yields empty Findings instead of an error.
func MatchSignatures(data []byte, ext string) (f Findings) {
	if !TextApplicable(ext) {
		return f
	}

	defer func() {
		if r := recover(); r != nil {
			log.Warnf("could not match signatures on %s content: %v", ext, r)
			f = Findings{}
		}
	}()

	content, err := decodeText(data)
	if err != nil {
		log.Debugf("could not decode %s content as text: %s", ext, err)
		return Findings{}
	}

	for _, lit := range SuspiciousStrings {
		if strings.Contains(content, lit) {
			f.Add(fmt.Sprintf("Contains suspicious string: %s", lit), RuleSuspiciousString)
		}
	}
	for _, rule := range StandaloneRules {
		if strings.Contains(content, rule.Literal) {
			f.Add(rule.Indicator, rule.Tag)
		}
	}
	return f
}

// decodeText decodes data as UTF-8, replacing invalid sequences, and returns
// it lowercased.
func decodeText(data []byte) (string, error) {
	decoded, err := unicode.UTF8.NewDecoder().Bytes(data)
	if err != nil {
		return "", err
	}
	return strings.ToLower(string(decoded)), nil
}
