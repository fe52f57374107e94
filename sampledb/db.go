// Daywatch
// Copyright (c) 2016, 2025, DCSO GmbH

package sampledb

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	bolt "github.com/etcd-io/bbolt"
	"github.com/klauspost/compress/zstd"
	log "github.com/sirupsen/logrus"
)

const (
	bucketName = "VERDICTS"

	// DatabaseName is the file name of the database file.
	DatabaseName = "verdicts.db"
)

// BoltStore is a durable Store keeping zstd-compressed JSON verdicts in a
// bolt database file.
type BoltStore struct {
	db  *bolt.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// OpenBoltStore opens (and if necessary creates) the verdict database in
// dataPath.
func OpenBoltStore(dataPath string) (*BoltStore, error) {
	db, err := bolt.Open(filepath.Join(dataPath, DatabaseName), 0600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		db.Close()
		return nil, err
	}
	log.Debug("Database initialized: ", db.Path())
	return &BoltStore{db: db, enc: enc, dec: dec}, nil
}

// Close should be called before the program terminates.
func (s *BoltStore) Close() error {
	s.dec.Close()
	if err := s.enc.Close(); err != nil {
		log.Warnf("closing verdict encoder: %s", err)
	}
	return s.db.Close()
}

// Put stores v under its SHA-256 digest, replacing any previous verdict.
func (s *BoltStore) Put(v Verdict) error {
	if v.Sha256 == "" {
		return errors.New("verdict without digest")
	}
	v.ID = v.Sha256
	encoded, err := json.Marshal(v)
	if err != nil {
		return err
	}
	compressed := s.enc.EncodeAll(encoded, nil)

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put([]byte(v.Sha256), compressed)
	})
	if err == nil {
		log.Debug("Stored verdict in database: ", v.Sha256)
	}
	return err
}

// Get queries the database for the verdict stored under digest.
func (s *BoltStore) Get(digest string) (Verdict, error) {
	var data []byte
	var v Verdict

	err := s.db.View(func(tx *bolt.Tx) error {
		// bolt values are only valid inside the transaction
		if raw := tx.Bucket([]byte(bucketName)).Get([]byte(digest)); raw != nil {
			data = append([]byte(nil), raw...)
		}
		return nil
	})
	if err != nil {
		return v, err
	}
	if data == nil {
		return v, ErrNotFound
	}

	decoded, err := s.dec.DecodeAll(data, nil)
	if err != nil {
		return v, fmt.Errorf("decompressing verdict %s: %w", digest, err)
	}
	err = json.Unmarshal(decoded, &v)
	return v, err
}

// Has reports whether a verdict is stored under digest.
func (s *BoltStore) Has(digest string) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket([]byte(bucketName)).Get([]byte(digest)) != nil
		return nil
	})
	return found, err
}
