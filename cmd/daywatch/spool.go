// Daywatch
// Copyright (c) 2016, 2025, DCSO GmbH

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/DCSO/daywatch/registry"

	log "github.com/sirupsen/logrus"
)

const (
	numWorkers = 5

	// RejectDirName is the subdirectory of the spool that receives files
	// that could not be analysed.
	RejectDirName = "rejected"
)

// Spool analyses files dropped into a directory. Producers should write to a
// hidden (dot-prefixed) file and rename it into place once complete; hidden
// files are ignored. Analysed files are removed, files that could not be
// analysed are moved to the reject directory.
type Spool struct {
	StartStopLock     sync.Mutex
	StopperChan       chan bool
	RescanChan        chan bool
	FinishNotifyChan  chan bool
	ScanCandidateChan chan string
	IsRunning         bool
	Dir               string
	RejectDir         string
	CheckTick         time.Duration
	WaitGroup         sync.WaitGroup
	Analyzer          *registry.Analyzer

	inflightLock sync.Mutex
	inflight     map[string]bool
}

// MakeSpool returns a new, stopped Spool on dir. Will emit a value on
// finishNotify channel when stopped.
func MakeSpool(finishNotify chan bool, analyzer *registry.Analyzer, dir string) *Spool {
	s := &Spool{
		FinishNotifyChan:  finishNotify,
		ScanCandidateChan: make(chan string, 10000),
		RescanChan:        make(chan bool, 1),
		Dir:               dir,
		RejectDir:         filepath.Join(dir, RejectDirName),
		CheckTick:         10 * time.Second,
		Analyzer:          analyzer,
		inflight:          make(map[string]bool),
	}
	for i := 0; i < numWorkers; i++ {
		go s.fileWorker()
	}
	return s
}

// backlogBuilder enqueues every file currently waiting in the spool and
// returns once all of them have been handled.
func (s *Spool) backlogBuilder() {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		log.Errorf("could not read spool %s: %s", s.Dir, err)
		return
	}
	queued := 0
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		path := filepath.Join(s.Dir, e.Name())
		s.inflightLock.Lock()
		if s.inflight[path] {
			s.inflightLock.Unlock()
			continue
		}
		s.inflight[path] = true
		s.inflightLock.Unlock()

		log.Debugf("found %s, submitting...", path)
		s.WaitGroup.Add(1)
		s.ScanCandidateChan <- path
		queued++
	}
	s.WaitGroup.Wait()
	if queued > 0 {
		log.Infof("processed %d spooled files", queued)
	}
}

// fileWorker takes a file path and hands the file's content to the analyzer.
func (s *Spool) fileWorker() {
	for path := range s.ScanCandidateChan {
		log.Debugf("worker grabbed file %s for processing", path)
		if err := s.processFile(path); err != nil {
			log.Errorf("spooled file %s: %s", path, err)
			s.reject(path)
		} else if err = os.Remove(path); err != nil {
			log.Warnf("could not remove analysed file %s: %s", path, err)
		}
		s.inflightLock.Lock()
		delete(s.inflight, path)
		s.inflightLock.Unlock()
		s.WaitGroup.Done()
	}
	log.Info("worker terminated")
}

func (s *Spool) processFile(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	// enforce the size ceiling before loading the file
	if max := s.Analyzer.MaxSize; max > 0 && fi.Size() > max {
		return fmt.Errorf("%w: %d bytes", registry.ErrPayloadTooLarge, fi.Size())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	verdict, err := s.Analyzer.Analyze(registry.FileSample{
		Data: data,
		Name: filepath.Base(path),
		Size: fi.Size(),
	})
	if err != nil {
		return err
	}
	log.Infof("spooled file %s: %s (score %d)", filepath.Base(path),
		verdict.ThreatLevel, verdict.ThreatScore)
	return nil
}

func (s *Spool) reject(path string) {
	if err := os.MkdirAll(s.RejectDir, 0750); err != nil {
		log.Error(err)
		return
	}
	target := filepath.Join(s.RejectDir, filepath.Base(path))
	if err := os.Rename(path, target); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Errorf("could not move %s to %s: %s", path, target, err)
	}
}

// Run processes the backlog and then keeps polling the spool directory.
func (s *Spool) Run() error {
	s.StartStopLock.Lock()
	defer s.StartStopLock.Unlock()

	if s.IsRunning {
		return fmt.Errorf("spool already running on directory %s", s.Dir)
	}
	if err := os.MkdirAll(s.Dir, 0750); err != nil {
		return err
	}

	s.StopperChan = make(chan bool)
	s.IsRunning = true

	go func() {
		s.backlogBuilder()
		for {
			select {
			case <-time.After(s.CheckTick):
				s.backlogBuilder()
			case <-s.RescanChan:
				s.backlogBuilder()
			case <-s.StopperChan:
				close(s.FinishNotifyChan)
				return
			}
		}
	}()
	log.Infof("spool running on %s", s.Dir)

	return nil
}

// Rescan requests an immediate pass over the spool directory.
func (s *Spool) Rescan() {
	select {
	case s.RescanChan <- true:
	default:
		// a rescan is already pending
	}
}

// Stop causes the spool to stop polling. The notification channel is closed
// once the polling goroutine is gone.
func (s *Spool) Stop() {
	s.StartStopLock.Lock()
	if s.IsRunning {
		s.IsRunning = false
		close(s.StopperChan)
	}
	s.StartStopLock.Unlock()
}

// Finish terminates the workers. It must only be called after the spool was
// stopped.
func (s *Spool) Finish() {
	close(s.ScanCandidateChan)
}
