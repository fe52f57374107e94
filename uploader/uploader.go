// Daywatch
// Copyright (c) 2016, 2025, DCSO GmbH

package uploader

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/DCSO/daywatch/sampledb"
	"github.com/DCSO/daywatch/submitter"

	"github.com/minio/minio-go"
	log "github.com/sirupsen/logrus"
)

var verdictFileReg = regexp.MustCompile(`^([0-9a-f]{64})\.verdict\.json$`)

// S3Credentials represents a set of data required to access an S3 resource.
type S3Credentials struct {
	Endpoint        string
	AccessKey       string
	SecretAccessKey string
	BucketName      string
	Region          string
}

// UploadJob locates a quarantined sample and its verdict in the scratch
// directory.
type UploadJob struct {
	verdict          sampledb.Verdict
	localFilePath    string
	localVerdictPath string
}

// Uploader quarantines samples by copying them, together with their verdict,
// to an S3 bucket. Samples are spooled to a scratch directory first so that
// pending uploads survive a restart.
type Uploader struct {
	// Creds contains the required credentials for the S3 connection.
	Creds S3Credentials
	// UseSSL is true if SSL should be used for upload.
	UseSSL bool
	// Where the uploader queues files ready for upload.
	ScratchDir string
	// InChan is the channel to enqueue files for upload.
	InChan chan UploadJob
	// ClosedChan is closed once the upload worker has terminated.
	ClosedChan chan bool
	// Client is a Minio client connecting to the given endpoint.
	Client *minio.Client
	// Submitter is used to send verdicts after upload
	Submitter submitter.Submitter
}

// Enqueue writes a sample and its verdict to the scratch directory and queues
// both for upload.
func (u *Uploader) Enqueue(verdict sampledb.Verdict, data []byte) error {
	destPath := filepath.Join(u.ScratchDir, verdict.Sha256)
	if err := writeSynced(destPath, data); err != nil {
		return err
	}

	verdictPath := filepath.Join(u.ScratchDir, fmt.Sprintf("%s.verdict.json", verdict.Sha256))
	outJSON, err := json.Marshal(verdict)
	if err != nil {
		return err
	}
	err = os.WriteFile(verdictPath, outJSON, 0644)
	if err != nil {
		return err
	}

	u.InChan <- UploadJob{
		verdict:          verdict,
		localFilePath:    destPath,
		localVerdictPath: verdictPath,
	}
	return nil
}

func writeSynced(path string, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err = f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err = f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (u *Uploader) processUpload() {
	for job := range u.InChan {
		sampleName := job.verdict.Sha256
		verdictName := fmt.Sprintf("%s.verdict.json", sampleName)

		log.Debugf("bucket %s object '%s' localpath %s", u.Creds.BucketName, sampleName,
			job.localFilePath)
		size, err := u.Client.FPutObject(u.Creds.BucketName, sampleName,
			job.localFilePath, minio.PutObjectOptions{
				ContentType: "application/octet-stream",
			})
		if err != nil {
			log.Errorf("upload of %s failed: %s ", sampleName, err)
			continue
		}
		log.Infof("successfully uploaded %s (size %d)", sampleName, size)

		size, err = u.Client.FPutObject(u.Creds.BucketName, verdictName,
			job.localVerdictPath, minio.PutObjectOptions{
				ContentType: "application/json",
			})
		if err != nil {
			log.Errorf("upload of %s failed: %s ", verdictName, err)
			continue
		}
		log.Infof("successfully uploaded %s (size %d)", verdictName, size)
		for _, p := range []string{job.localFilePath, job.localVerdictPath} {
			if err = os.Remove(p); err != nil {
				log.Errorf("could not remove uploaded file %s: %s", p, err)
			}
		}

		// submit JSON with added location of sample
		job.verdict.Uploaded = true
		job.verdict.UploadLocation = fmt.Sprintf("%s/%s/%s", u.Creds.Endpoint, u.Creds.BucketName, sampleName)
		if u.Submitter != nil {
			submitJSON, err := json.Marshal(job.verdict)
			if err != nil {
				log.Error(err)
				continue
			}
			u.Submitter.Submit(submitJSON)
		}
	}
	close(u.ClosedChan)
}

// enqueueBacklog re-queues samples left in the scratch directory by an
// earlier run.
func (u *Uploader) enqueueBacklog() error {
	files, err := os.ReadDir(u.ScratchDir)
	if err != nil {
		return err
	}

	for _, f := range files {
		m := verdictFileReg.FindStringSubmatch(f.Name())
		if m == nil {
			continue
		}
		samplePath := filepath.Join(u.ScratchDir, m[1])
		if _, err := os.Stat(samplePath); err != nil {
			log.Warnf("verdict %s without sample, skipping: %s", f.Name(), err)
			continue
		}
		byteValue, err := os.ReadFile(filepath.Join(u.ScratchDir, f.Name()))
		if err != nil {
			return err
		}
		var verdict sampledb.Verdict
		if err = json.Unmarshal(byteValue, &verdict); err != nil {
			return err
		}
		log.Debugf("enqueuing scratch file %s", m[1])
		u.InChan <- UploadJob{
			verdict:          verdict,
			localFilePath:    samplePath,
			localVerdictPath: filepath.Join(u.ScratchDir, f.Name()),
		}
	}

	return nil
}

// MakeS3Uploader returns a new Uploader for the given credentials and scratch
// directory. If a submitter is given, it will be used to submit the verdict
// for each uploaded sample as well.
func MakeS3Uploader(creds S3Credentials, ssl bool, scratchdir string,
	submitter submitter.Submitter) (*Uploader, error) {
	uploader := &Uploader{
		Creds:      creds,
		UseSSL:     ssl,
		ScratchDir: scratchdir,
		ClosedChan: make(chan bool),
		InChan:     make(chan UploadJob, 10000),
		Submitter:  submitter,
	}

	client, err := minio.NewWithRegion(creds.Endpoint, creds.AccessKey, creds.SecretAccessKey, ssl, creds.Region)
	if err != nil {
		return nil, err
	}
	uploader.Client = client

	err = uploader.enqueueBacklog()
	if err != nil {
		return nil, err
	}

	go uploader.processUpload()

	return uploader, nil
}

// Stop causes the uploader to cease processing enqueued files.
func (u *Uploader) Stop() {
	close(u.InChan)
	<-u.ClosedChan
}
