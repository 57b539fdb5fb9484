// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-scoreboard.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package dedupe holds the per-(cluster, month) membership filters
// that make re-ingestion idempotent. The filter is a Bloom set: it can
// report a JobID as seen when it was not (bounded by the target
// false-positive rate) but never the other way around.
package dedupe

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/ClusterCockpit/cc-scoreboard/internal/util"
	"github.com/OneOfOne/xxhash"
)

var ErrCorrupt = errors.New("dedupe file corrupt")

var fileMagic = [4]byte{'C', 'C', 'S', 'B'}

const fileVersion uint32 = 1

// header mirrors the on-disk layout: magic, version, then the filter
// parameters, all little-endian, followed by ceil(m/8) raw bytes.
type header struct {
	Magic   [4]byte
	Version uint32
	M       uint64
	K       uint32
	N       uint64
	P       float64
}

// Filter is an in-memory Bloom set. Not safe for concurrent use; the
// per-cluster lock serializes all writers.
type Filter struct {
	m    uint64
	k    uint32
	n    uint64
	p    float64
	bits []byte
}

// New sizes a filter for expectedJobs insertions at false-positive
// rate p. Exceeding the capacity keeps the filter correct but lets p
// degrade; monthly partitioning bounds growth in practice.
func New(expectedJobs uint64, p float64) *Filter {
	if expectedJobs == 0 {
		expectedJobs = 1
	}
	if p <= 0 || p >= 1 {
		p = 1e-4
	}

	ln2 := math.Ln2
	m := uint64(math.Ceil(-float64(expectedJobs) * math.Log(p) / (ln2 * ln2)))
	if m < 64 {
		m = 64
	}
	k := uint32(math.Round(float64(m) / float64(expectedJobs) * ln2))
	if k < 1 {
		k = 1
	}

	return &Filter{
		m:    m,
		k:    k,
		p:    p,
		bits: make([]byte, (m+7)/8),
	}
}

// Count returns the number of insertions so far.
func (f *Filter) Count() uint64 { return f.n }

func (f *Filter) offsets(jobID string) (uint64, uint64) {
	b := []byte(jobID)
	h1 := xxhash.Checksum64S(b, 0)
	h2 := xxhash.Checksum64S(b, 0x9e3779b97f4a7c15)
	return h1, h2 | 1
}

func (f *Filter) bit(i uint64) bool {
	return f.bits[i/8]&(1<<(i%8)) != 0
}

func (f *Filter) setBit(i uint64) {
	f.bits[i/8] |= 1 << (i % 8)
}

// Contains reports membership; false positives are possible, false
// negatives are not.
func (f *Filter) Contains(jobID string) bool {
	h1, h2 := f.offsets(jobID)
	for i := uint32(0); i < f.k; i++ {
		if !f.bit((h1 + uint64(i)*h2) % f.m) {
			return false
		}
	}
	return true
}

// Add inserts jobID and reports whether it was already present.
func (f *Filter) Add(jobID string) bool {
	h1, h2 := f.offsets(jobID)
	present := true
	for i := uint32(0); i < f.k; i++ {
		idx := (h1 + uint64(i)*h2) % f.m
		if !f.bit(idx) {
			present = false
			f.setBit(idx)
		}
	}
	if !present {
		f.n++
	}
	return present
}

// Load reads a filter from path. A missing file yields (nil, nil) so
// callers can create a fresh one; damaged files yield ErrCorrupt.
func Load(path string) (*Filter, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var h header
	r := bytes.NewReader(data)
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("%w: short header in %s", ErrCorrupt, path)
	}
	if h.Magic != fileMagic || h.Version != fileVersion {
		return nil, fmt.Errorf("%w: bad magic/version in %s", ErrCorrupt, path)
	}
	if h.M == 0 || h.K == 0 {
		return nil, fmt.Errorf("%w: zero parameters in %s", ErrCorrupt, path)
	}

	want := int((h.M + 7) / 8)
	bits := make([]byte, want)
	if n, _ := r.Read(bits); n != want {
		return nil, fmt.Errorf("%w: truncated bit array in %s (%d of %d bytes)", ErrCorrupt, path, n, want)
	}

	return &Filter{m: h.M, k: h.K, n: h.N, p: h.P, bits: bits}, nil
}

// Persist writes the filter atomically.
func (f *Filter) Persist(path string) error {
	var buf bytes.Buffer
	h := header{Magic: fileMagic, Version: fileVersion, M: f.m, K: f.k, N: f.n, P: f.p}
	if err := binary.Write(&buf, binary.LittleEndian, &h); err != nil {
		return err
	}
	buf.Write(f.bits)
	return util.AtomicWriteFile(path, buf.Bytes())
}
