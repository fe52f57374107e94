// Daywatch
// Copyright (c) 2016, 2025, DCSO GmbH

package sampledb

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DCSO/daywatch/heuristics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testVerdict(digest string) Verdict {
	return Verdict{
		FileName:                "dropper.ps1",
		Sha256:                  digest,
		Md5:                     "d41d8cd98f00b204e9800998ecf8427e",
		FileSize:                512,
		FileType:                "ps1",
		MimeType:                "text/plain",
		UploadTime:              time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Entropy:                 4.2,
		SuspiciousIndicators:    []string{"Contains suspicious string: powershell"},
		DetectionRulesTriggered: []heuristics.RuleTag{heuristics.RuleSuspiciousString},
		ThreatScore:             25,
		ThreatLevel:             heuristics.Clean,
		Recommendation:          heuristics.Clean.Recommendation(),
	}
}

func storeRoundTrip(t *testing.T, s Store) {
	digest := "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"

	ok, err := s.Has(digest)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Get(digest)
	assert.ErrorIs(t, err, ErrNotFound)

	v := testVerdict(digest)
	require.NoError(t, s.Put(v))

	ok, err = s.Has(digest)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.Get(digest)
	require.NoError(t, err)
	v.ID = digest
	assert.Equal(t, v, got)

	// overwrite, not merge
	v2 := testVerdict(digest)
	v2.FileName = "renamed.ps1"
	v2.SuspiciousIndicators = nil
	v2.DetectionRulesTriggered = nil
	require.NoError(t, s.Put(v2))
	got, err = s.Get(digest)
	require.NoError(t, err)
	assert.Equal(t, "renamed.ps1", got.FileName)
	assert.Empty(t, got.SuspiciousIndicators)

	assert.Error(t, s.Put(Verdict{FileName: "nodigest"}))
}

func TestMemoryStore(t *testing.T) {
	storeRoundTrip(t, MakeMemoryStore())
}

func TestBoltStore(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenBoltStore(dir)
	require.NoError(t, err)
	storeRoundTrip(t, s)
	require.NoError(t, s.Close())

	// verdicts survive reopening
	s, err = OpenBoltStore(dir)
	require.NoError(t, err)
	defer s.Close()
	ok, err := s.Has("9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStoreIsolation(t *testing.T) {
	s := MakeMemoryStore()
	v := testVerdict("abc")
	require.NoError(t, s.Put(v))

	v.SuspiciousIndicators[0] = "tampered"
	got, err := s.Get("abc")
	require.NoError(t, err)
	assert.Equal(t, "Contains suspicious string: powershell", got.SuspiciousIndicators[0])

	got.DetectionRulesTriggered[0] = heuristics.RuleHighEntropy
	again, err := s.Get("abc")
	require.NoError(t, err)
	assert.Equal(t, heuristics.RuleSuspiciousString, again.DetectionRulesTriggered[0])
}

func TestMemoryStoreConcurrentWrites(t *testing.T) {
	s := MakeMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// half of the writers race on the same digest
			digest := "shared"
			if i%2 == 1 {
				digest = fmt.Sprintf("digest-%d", i)
			}
			assert.NoError(t, s.Put(testVerdict(digest)))
			got, err := s.Get(digest)
			assert.NoError(t, err)
			assert.Equal(t, digest, got.ID)
			assert.Len(t, got.SuspiciousIndicators, 1)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 26, s.Len())
}
