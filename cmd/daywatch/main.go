// Daywatch
// Copyright (c) 2016, 2025, DCSO GmbH

package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/DCSO/daywatch/heuristics"
	"github.com/DCSO/daywatch/metrics"
	"github.com/DCSO/daywatch/registry"
	"github.com/DCSO/daywatch/sampledb"
	"github.com/DCSO/daywatch/submitter"
	"github.com/DCSO/daywatch/uploader"

	// Plugins are registered using the following imports
	_ "github.com/DCSO/daywatch/plugins/yarascanner"

	"github.com/NeowayLabs/wabbit"
	"github.com/NeowayLabs/wabbit/amqp"
	"github.com/NeowayLabs/wabbit/amqptest"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var (
	// testMode is used to invoke some automatic testing behaviour in main()
	testMode bool
	testDir  string

	// stopChan is used to notify the reader of a completed main()
	stopChan chan bool

	// SigChan is a channel receiving os.Signal instances to control runtime behaviour
	sigChan = make(chan os.Signal, 1)
)

const testListen = "127.0.0.1:9997"

func testWrapper(testdir string, stopNotify chan bool) {
	testMode = true
	testDir = testdir
	stopChan = make(chan bool)
	go main()
	<-stopChan
	testMode = false
	close(stopNotify)
}

func main() {
	var err error
	var s submitter.Submitter
	var u *uploader.Uploader
	var store sampledb.Store
	var listen = flag.String("listen", "127.0.0.1:8080", "Address for the HTTP API")
	var maxSizeMB = flag.Int64("maxsize", 100, "Maximum accepted sample size in MB")
	var spoolDir = flag.String("spooldir", "", "Directory to pick up samples from (disabled if empty)")
	var logPath = flag.String("log", "", "Path for daywatch log files (stdout if empty)")
	var dataPath = flag.String("data", "", "Path for the verdict database (in-memory if empty)")
	var amqpURI = flag.String("amqpuri", "", "Endpoint and port for the AMQP connection (disabled if empty)")
	var amqpExchange = flag.String("amqpexch", "daywatch", "Exchange to post verdicts to")
	var amqpUser = flag.String("amqpuser", "sensor", "User name for the AMQP connection")
	var amqpPass = flag.String("amqppass", "sensor", "Password for the AMQP connection")
	var dummy = flag.Bool("dummy", false, "Log verdicts instead of submitting to AMQP")
	var profileFile = flag.String("proffile", "", "Dump profiling information to file")
	var uploadEndpoint = flag.String("uploadendpoint", "", "Endpoint for suspicious file S3 upload")
	var uploadAccessKey = flag.String("uploadaccesskey", "", "Access key for S3 upload")
	var uploadSecretAccessKey = flag.String("uploadsecretaccesskey", "", "Secret access key for S3 upload")
	var uploadBucketName = flag.String("uploadbucket", "", "Bucket name for S3 upload")
	var uploadRegion = flag.String("uploadregion", "", "Region for S3 upload")
	var uploadScratchDir = flag.String("uploadscratchdir", "/tmp/daywatch_scratch", "Temp directory for S3 upload")
	var uploadSSL = flag.Bool("uploadssl", false, "Use SSL for S3 upload")
	var quarantine = flag.String("quarantine", "suspicious", "Minimum threat level for S3 upload")
	var magicDetect = flag.Bool("magic", true, "Detect file types using libmagic")
	var magicFile = flag.String("magicfile", "", "Additional libmagic database")
	var rateLimit = flag.Float64("ratelimit", 0, "Requests per second allowed per client (unlimited if 0)")
	var burst = flag.Int("burst", 10, "Request burst allowed per client")
	var profSrv = flag.Bool("profsrv", false, "Enable profiling server on port 6060")
	var verbose = flag.Bool("verbose", false, "Verbose output")
	var logJSON = flag.Bool("logjson", false, "JSON log output")
	flag.Parse()

	// Use temporary test directories
	if testMode {
		*logPath = testDir
		*dataPath = filepath.Join(testDir, "db")
		*spoolDir = filepath.Join(testDir, "spool")
		*listen = testListen
		*amqpExchange = "daywatch"
		*amqpURI = "localhost:9999/%2f"
		*uploadEndpoint = ""
	}

	// Configure logging to file
	if len(*logPath) > 0 {
		if _, err = os.Stat(*logPath); os.IsNotExist(err) {
			log.Infof("Log directory %s does not exist, trying to create it", *logPath)
			err = os.MkdirAll(*logPath, os.ModePerm)
			if err != nil {
				log.Fatal(err)
			}
		}
		f, myerr := os.OpenFile(filepath.Join(*logPath, "daywatch.log"),
			os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if myerr != nil {
			log.Fatal(myerr)
		}
		defer func() {
			f.Close()
			log.SetOutput(os.Stdout)
		}()
		log.SetOutput(f)
	}

	if *logJSON {
		log.SetFormatter(&log.JSONFormatter{})
	}

	if *verbose {
		log.Info("verbose log output enabled")
		log.SetLevel(log.DebugLevel)
	}

	// Optional profiling
	if *profileFile != "" {
		var f io.Writer
		f, err = os.Create(*profileFile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	if *profSrv && !testMode {
		go func() {
			log.Println(http.ListenAndServe("localhost:6060", nil))
		}()
	}

	quarantineLevel, err := heuristics.ParseLevel(*quarantine)
	if err != nil {
		log.Fatal(err)
	}

	// Create submitter
	switch {
	case *dummy:
		log.Info("logging verdicts instead of submitting them")
		s = submitter.MakeDummySubmitter()
	case len(*amqpURI) > 0:
		s, err = submitter.MakeAMQPSubmitterWithReconnector(*amqpURI, *amqpUser, *amqpPass,
			*amqpExchange, *verbose, func(url string) (wabbit.Conn, string, error) {
				log.Info(url)
				if testMode {
					c, e := amqptest.Dial(url)
					return c, "direct", e
				}
				c, e := amqp.Dial(url)
				return c, "fanout", e
			})
		if err != nil {
			log.Fatal(err)
		}
		defer s.Finish()
	}

	// Create uploader
	if len(*uploadEndpoint) > 0 {
		err = os.MkdirAll(*uploadScratchDir, os.ModePerm)
		if err != nil {
			log.Fatal(err)
		}
		u, err = uploader.MakeS3Uploader(uploader.S3Credentials{
			Endpoint:        *uploadEndpoint,
			AccessKey:       *uploadAccessKey,
			SecretAccessKey: *uploadSecretAccessKey,
			BucketName:      *uploadBucketName,
			Region:          *uploadRegion,
		}, *uploadSSL, *uploadScratchDir, s)
		if err != nil {
			log.Fatal(err)
		}
	}

	// Setup verdict store
	if len(*dataPath) > 0 {
		if _, err = os.Stat(*dataPath); os.IsNotExist(err) {
			log.Infof("Database directory %s does not exist, trying to create it", *dataPath)
			os.MkdirAll(*dataPath, os.ModePerm)
		}
		bs, berr := sampledb.OpenBoltStore(*dataPath)
		if berr != nil {
			log.Fatal(berr)
		}
		defer bs.Close()
		store = bs
	} else {
		log.Info("no data path given, verdicts are kept in memory only")
		store = sampledb.MakeMemoryStore()
	}

	if len(*magicFile) > 0 {
		registry.AddMagicFile(*magicFile)
	}

	rec := metrics.MakeRecorder()
	analyzer := registry.MakeAnalyzer(store)
	analyzer.MaxSize = *maxSizeMB * 1024 * 1024
	analyzer.Plugins = registry.AnalysisPlugins
	analyzer.Submitter = s
	analyzer.Uploader = u
	analyzer.QuarantineLevel = quarantineLevel
	analyzer.DetectMagic = *magicDetect
	analyzer.Metrics = rec

	if err = analyzer.ReInitialize(); err != nil {
		log.Fatal(err)
	}

	// Prepare spool and janitor
	var sp *Spool
	var j *Janitor
	spoolNotify := make(chan bool)
	janitorNotify := make(chan bool)
	if len(*spoolDir) > 0 {
		sp = MakeSpool(spoolNotify, analyzer, *spoolDir)
		if err = sp.Run(); err != nil {
			log.Fatal(err)
		}
		j = MakeJanitor(janitorNotify)
		j.Run(sp.RejectDir)
	}

	srv := &Server{
		Analyzer: analyzer,
		Metrics:  rec,
	}
	if *rateLimit > 0 {
		srv.Limiter = MakeIPLimiter(rate.Limit(*rateLimit), *burst)
	}
	httpServer := &http.Server{
		Addr:              *listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverDone := make(chan bool)
	go func() {
		log.Infof("listening on %s", *listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
		close(serverDone)
	}()

	// Register live handlers
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP,
		syscall.SIGUSR1)
SigLoop:
	for {
		sig := <-sigChan
		switch sig {
		case syscall.SIGHUP:
			// reload YARA rules
			log.Info("Received SIGHUP, reinitializing plugins")
			if err := analyzer.ReInitialize(); err != nil {
				log.Error(err)
			}
		case syscall.SIGUSR1:
			if sp == nil {
				log.Info("Received SIGUSR1, but no spool directory is configured")
				continue
			}
			log.Infof("Received SIGUSR1, rescanning %s", sp.Dir)
			sp.Rescan()
		case os.Interrupt, syscall.SIGTERM:
			log.Info("Received request to stop, shutting down...")
			break SigLoop
		}
	}
	signal.Stop(sigChan)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error(err)
	}
	cancel()
	<-serverDone

	if sp != nil {
		sp.Stop()
		<-spoolNotify
		sp.Finish()
		j.Stop()
		<-janitorNotify
	}
	if u != nil {
		u.Stop()
	}

	log.Info("stopped daywatch")

	if testMode {
		close(stopChan)
	}
}
