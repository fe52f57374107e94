// Daywatch
// Copyright (c) 2016, 2025, DCSO GmbH

package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

var (
	// MaxAge is the maximal age of a rejected file before it is deleted.
	MaxAge = flag.Duration("maxage", 30*24*time.Hour, "max age of rejected spool files before being cleaned up")
	// MaxSpace is the space limit (in MB) of all rejected files. The oldest
	// files are deleted once this limit is exceeded.
	MaxSpace = flag.Uint("maxspace", 2000, "max total space used for rejected spool files in MB")
)

// Janitor periodically cleans a directory, deleting files older than a given
// age as well as the oldest files once the directory exceeds a space limit.
type Janitor struct {
	StopperChan      chan bool
	IsRunning        bool
	FinishNotifyChan chan bool
	WatchDir         string
	StartStopLock    sync.Mutex
	CheckTick        time.Duration
}

// MakeJanitor creates a new Janitor and emits a value on the given channel
// when it has been stopped.
func MakeJanitor(finishNotify chan bool) *Janitor {
	return &Janitor{
		IsRunning:        false,
		FinishNotifyChan: finishNotify,
		CheckTick:        60 * time.Second,
	}
}

type removableFile struct {
	Age  time.Duration
	Path string
	Size int64
}

func listFiles(directory string) []removableFile {
	var files []removableFile
	filepath.Walk(directory, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			log.Warn(err)
			return nil
		}
		if info.IsDir() {
			return nil
		}
		files = append(files, removableFile{
			Age:  time.Since(info.ModTime()),
			Path: path,
			Size: info.Size(),
		})
		return nil
	})
	// youngest first
	sort.Slice(files, func(i, j int) bool {
		return files[i].Age < files[j].Age
	})
	return files
}

func (w *Janitor) clean(directory string) {
	var kept uint64
	for _, item := range listFiles(directory) {
		switch {
		case item.Age > *MaxAge:
			log.Infof("%s: older than threshold (%v), cleaned", item.Path, item.Age)
		case kept+uint64(item.Size) > uint64(*MaxSpace)*1024*1024:
			log.Infof("%s: cleaned to reclaim space (%d bytes)", item.Path, item.Size)
		default:
			kept += uint64(item.Size)
			continue
		}
		if err := os.Remove(item.Path); err != nil {
			log.Warn(err)
		}
	}
}

// Run starts a Janitor on the given directory.
func (w *Janitor) Run(directory string) error {
	w.StartStopLock.Lock()
	defer w.StartStopLock.Unlock()

	if w.IsRunning {
		return fmt.Errorf("janitor already running on directory %s", w.WatchDir)
	}

	w.StopperChan = make(chan bool)
	w.WatchDir = directory
	w.IsRunning = true

	go func() {
		for {
			select {
			case <-time.After(w.CheckTick):
				w.clean(directory)
			case <-w.StopperChan:
				close(w.FinishNotifyChan)
				return
			}
		}
	}()

	return nil
}

// Stop causes the janitor to stop limiting the contents of the target
// directory.
func (w *Janitor) Stop() {
	w.StartStopLock.Lock()
	if w.IsRunning {
		w.IsRunning = false
		w.WatchDir = "<none>"
		close(w.StopperChan)
	}
	w.StartStopLock.Unlock()
}
