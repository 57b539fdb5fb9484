// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-scoreboard.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package units

import (
	"strconv"
	"strings"
)

// GPUCount sums the GPU allocations out of an AllocTRES string like
// "billing=4,cpu=4,gres/gpu:a100=2,mem=16G,node=1". Both the typed
// (gres/gpu:<type>=N) and untyped (gres/gpu=N) forms count.
func GPUCount(allocTRES string) int {
	if allocTRES == "" {
		return 0
	}

	total := 0
	for _, tok := range strings.Split(allocTRES, ",") {
		key, val, found := strings.Cut(tok, "=")
		if !found {
			continue
		}
		if key != "gres/gpu" && !strings.HasPrefix(key, "gres/gpu:") {
			continue
		}
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			total += n
		}
	}

	return total
}

// NormalizeUsername lowercases an accounting username and strips a
// Kerberos-style @realm suffix.
func NormalizeUsername(user string) string {
	user = strings.ToLower(strings.TrimSpace(user))
	if i := strings.IndexByte(user, '@'); i >= 0 {
		user = user[:i]
	}
	return user
}
