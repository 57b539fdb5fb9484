// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-scoreboard.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Parsing helpers for the resource strings emitted by the batch
// accounting tool: memory sizes, ReqMem scoping and TRES lists.
package units

import (
	"regexp"
	"strconv"
	"strings"
)

// Slurm memory fields come as a number with an optional K/M/G/T
// suffix. The suffixes are decimal powers of 1000 bytes; a bare
// number is plain bytes.
var memRegex = regexp.MustCompile(`^([0-9]*\.?[0-9]+)([KMGTkmgt])?$`)

var memFactors = map[string]float64{
	"":  1,
	"K": 1e3,
	"M": 1e6,
	"G": 1e9,
	"T": 1e12,
}

// ParseMemoryMB converts a memory string like "4000M", "2.5G" or
// "1048576" into megabytes. The second return value is false when the
// string does not describe a memory quantity; callers treat that as 0.
func ParseMemoryMB(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	m := memRegex.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}

	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}

	return v * memFactors[strings.ToUpper(m[2])] / 1e6, true
}

// ResolveReqMemMB turns a ReqMem string into the total requested
// megabytes of a job. A trailing 'c' scopes the quantity per allocated
// CPU, a trailing 'n' per node; without either the per-node reading
// applies.
func ResolveReqMemMB(reqmem string, allocCPUs int, nnodes int) float64 {
	reqmem = strings.TrimSpace(reqmem)
	if reqmem == "" {
		return 0
	}

	factor := nnodes
	switch reqmem[len(reqmem)-1] {
	case 'c':
		factor = allocCPUs
		reqmem = reqmem[:len(reqmem)-1]
	case 'n':
		reqmem = reqmem[:len(reqmem)-1]
	}

	mb, ok := ParseMemoryMB(reqmem)
	if !ok {
		return 0
	}

	return mb * float64(factor)
}
