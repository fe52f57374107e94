// Daywatch
// Copyright (c) 2016, 2025, DCSO GmbH

// Package util holds helpers shared by the tests of several packages.
package util

import (
	"os"
	"path/filepath"

	"github.com/hillu/go-yara/v4"
)

// MakeYARARuleFile compiles a given YARA rule source and writes the compiled
// version to a given file name.
func MakeYARARuleFile(source string, outfile string) error {
	compiler, err := yara.NewCompiler()
	if err != nil {
		return err
	}
	defer compiler.Destroy()
	ruleFile, err := os.Open(source)
	if err != nil {
		return err
	}
	defer ruleFile.Close()
	err = compiler.AddFile(ruleFile, "test")
	if err != nil {
		return err
	}
	rules, err := compiler.GetRules()
	if err != nil {
		return err
	}
	defer rules.Destroy()
	return rules.Save(outfile)
}

// CreateSpoolFile writes contents to name inside dir the way an external
// producer would: into a temporary file first, renamed into place once
// complete.
func CreateSpoolFile(dir string, name string, contents []byte) (string, error) {
	tmp, err := os.CreateTemp(dir, ".incoming-*")
	if err != nil {
		return "", err
	}
	if _, err = tmp.Write(contents); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err = tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	target := filepath.Join(dir, name)
	return target, os.Rename(tmp.Name(), target)
}

// CountingBytes returns n bytes cycling through all 256 byte values, which
// is about as close to maximal entropy as a deterministic input gets.
func CountingBytes(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i)
	}
	return out
}
