// Daywatch
// Copyright (c) 2016, 2025, DCSO GmbH

package registry

import (
	"bufio"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/DCSO/daywatch/sampledb"

	"github.com/vimeo/go-magic/magic"
	"golang.org/x/crypto/sha3"
)

var (
	magicLock  sync.Mutex
	magicFiles = make(map[string]bool)
)

// AddMagicFile adds a libmagic database to be consulted in addition to the
// system default.
func AddMagicFile(path string) {
	magicLock.Lock()
	magicFiles[path] = true
	magicLock.Unlock()
}

// CalculateBasicHashes computes all digests of a sample in a single pass.
func CalculateBasicHashes(rd io.Reader) (sampledb.HashInfo, error) {
	var info sampledb.HashInfo

	digests := []struct {
		h   hash.Hash
		out *string
	}{
		{md5.New(), &info.Md5},
		{sha1.New(), &info.Sha1},
		{sha256.New(), &info.Sha256},
		{sha512.New(), &info.Sha512},
		{sha3.New512(), &info.Sha3_512},
	}
	writers := make([]io.Writer, len(digests))
	for i, d := range digests {
		writers[i] = d.h
	}

	if _, err := io.Copy(io.MultiWriter(writers...), bufio.NewReaderSize(rd, os.Getpagesize())); err != nil {
		return info, err
	}
	for _, d := range digests {
		*d.out = hex.EncodeToString(d.h.Sum(nil))
	}
	return info, nil
}

func magicDatabases() string {
	magicLock.Lock()
	defer magicLock.Unlock()
	mf := make([]string, 0, len(magicFiles))
	for f := range magicFiles {
		mf = append(mf, f)
	}
	sort.Strings(mf)
	return strings.Join(mf, ":")
}

// magicLookup runs libmagic with the given flags. An empty result means the
// databases could not be loaded.
func magicLookup(flags int, data []byte) string {
	cookie := magic.Open(magic.MAGIC_ERROR | flags)
	defer magic.Close(cookie)
	if magic.Load(cookie, magicDatabases()) != 0 {
		return ""
	}
	return magic.Buffer(cookie, data)
}

// MagicFromBuffer returns a libmagic description of the given content.
func MagicFromBuffer(data []byte) string {
	if len(data) == 0 {
		return "empty"
	}
	if desc := magicLookup(magic.MAGIC_NONE, data); desc != "" {
		return desc
	}
	return "unknown file type"
}

// MimeFromBuffer returns the MIME type libmagic derives from the content, or
// an empty string if it cannot tell.
func MimeFromBuffer(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	return magicLookup(magic.MAGIC_MIME_TYPE, data)
}
