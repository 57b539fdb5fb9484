// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-scoreboard.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package util

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ClusterCockpit/cc-scoreboard/pkg/log"
)

func CheckFileExists(filePath string) bool {
	_, err := os.Stat(filePath)
	return !errors.Is(err, os.ErrNotExist)
}

// AtomicWriteFile writes data to path via a sibling .tmp file and a
// rename, so readers only ever observe complete files. On write
// failure the temp file is left behind for the recovery sweep.
func AtomicWriteFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// AtomicWriteJSON marshals v indented and writes it atomically.
func AtomicWriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return AtomicWriteFile(path, append(data, '\n'))
}

// Quarantine moves a damaged artifact aside as <path>.bad so that a
// rebuild can start from empty without destroying evidence.
func Quarantine(path string) error {
	if !CheckFileExists(path) {
		return nil
	}
	log.Warnw("quarantining corrupt file", "file", path)
	return os.Rename(path, path+".bad")
}

// SweepTmpFiles removes stale *.tmp files below root, left behind by
// a crashed or disk-full previous run.
func SweepTmpFiles(root string) {
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && strings.HasSuffix(path, ".tmp") {
			log.Infow("removing stale temp file", "file", path)
			if err := os.Remove(path); err != nil {
				log.Errorf("sweep: remove %s: %v", path, err)
			}
		}
		return nil
	})
}
