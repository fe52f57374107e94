// Daywatch
// Copyright (c) 2016, 2025, DCSO GmbH

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DCSO/daywatch/registry"
	"github.com/DCSO/daywatch/sampledb"
	"github.com/DCSO/daywatch/util"
)

func waitForGone(t *testing.T, path string) {
	for i := 0; i < 50; i++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("%s was not picked up", path)
}

func TestSpool(t *testing.T) {
	dir := t.TempDir()
	store := sampledb.MakeMemoryStore()
	a := registry.MakeAnalyzer(store)
	a.MaxSize = 1024

	// present before the spool starts
	first, err := util.CreateSpoolFile(dir, "backlog.bat", []byte("taskkill /f /im av.exe"))
	if err != nil {
		t.Fatal(err)
	}
	// still being written, must be left alone
	hidden := filepath.Join(dir, ".partial")
	if err = os.WriteFile(hidden, []byte("powershell"), 0644); err != nil {
		t.Fatal(err)
	}

	finishNotify := make(chan bool)
	s := MakeSpool(finishNotify, a, dir)
	s.CheckTick = 500 * time.Millisecond
	if err = s.Run(); err != nil {
		t.Fatal(err)
	}
	if err = s.Run(); err == nil {
		t.Fatal("second Run should fail")
	}
	waitForGone(t, first)

	second, err := util.CreateSpoolFile(dir, "later.txt", []byte("nothing to see"))
	if err != nil {
		t.Fatal(err)
	}
	waitForGone(t, second)

	big, err := util.CreateSpoolFile(dir, "big.bin", []byte(strings.Repeat("A", 2048)))
	if err != nil {
		t.Fatal(err)
	}
	waitForGone(t, big)

	s.Stop()
	<-finishNotify
	s.Finish()

	if store.Len() != 2 {
		t.Fatalf("expected 2 stored verdicts, got %d", store.Len())
	}
	if _, err = os.Stat(filepath.Join(dir, RejectDirName, "big.bin")); err != nil {
		t.Fatalf("oversized file was not rejected: %s", err)
	}
	if _, err = os.Stat(hidden); err != nil {
		t.Fatalf("hidden file was touched: %s", err)
	}
}

func TestSpoolRescan(t *testing.T) {
	dir := t.TempDir()
	store := sampledb.MakeMemoryStore()
	a := registry.MakeAnalyzer(store)

	finishNotify := make(chan bool)
	s := MakeSpool(finishNotify, a, dir)
	s.CheckTick = time.Hour
	if err := s.Run(); err != nil {
		t.Fatal(err)
	}

	path, err := util.CreateSpoolFile(dir, "job.ps1", []byte("Invoke-Expression $payload"))
	if err != nil {
		t.Fatal(err)
	}
	s.Rescan()
	s.Rescan()
	waitForGone(t, path)

	s.Stop()
	<-finishNotify
	s.Finish()

	if store.Len() != 1 {
		t.Fatalf("expected 1 stored verdict, got %d", store.Len())
	}
}
