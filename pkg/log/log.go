// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-scoreboard.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package log

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Provides leveled logging as one JSON object per line on stderr so
// that journald and file collectors can ingest records without a
// parser. Field order inside a record is not significant.

type level int

const (
	lvlDebug level = iota
	lvlInfo
	lvlWarn
	lvlErr
	lvlCrit
)

var levelNames = map[level]string{
	lvlDebug: "debug",
	lvlInfo:  "info",
	lvlWarn:  "warn",
	lvlErr:   "err",
	lvlCrit:  "crit",
}

var (
	mu       sync.Mutex
	minLevel level     = lvlInfo
	out      io.Writer = os.Stderr
	now                = time.Now
)

// Init sets the minimum level: one of debug, info, warn, err, crit.
// Unknown strings leave the current level unchanged.
func Init(lvl string) {
	mu.Lock()
	defer mu.Unlock()
	switch lvl {
	case "debug":
		minLevel = lvlDebug
	case "info":
		minLevel = lvlInfo
	case "warn":
		minLevel = lvlWarn
	case "err", "fatal":
		minLevel = lvlErr
	case "crit":
		minLevel = lvlCrit
	default:
		fmt.Fprintf(os.Stderr, "pkg/log: unknown loglevel %#v, keeping %#v\n", lvl, levelNames[minLevel])
	}
}

// SetOutput redirects log output, mainly for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

func emit(l level, msg string, keyvals []any) {
	mu.Lock()
	defer mu.Unlock()
	if l < minLevel {
		return
	}

	rec := make(map[string]any, 3+len(keyvals)/2)
	rec["ts"] = now().UTC().Format(time.RFC3339)
	rec["level"] = levelNames[l]
	rec["msg"] = msg
	for i := 0; i+1 < len(keyvals); i += 2 {
		k, ok := keyvals[i].(string)
		if !ok {
			k = fmt.Sprint(keyvals[i])
		}
		rec[k] = keyvals[i+1]
	}

	b, err := json.Marshal(rec)
	if err != nil {
		fmt.Fprintf(out, `{"level":"err","msg":"log marshal failed: %v"}`+"\n", err)
		return
	}
	out.Write(append(b, '\n'))
}

func Debugf(format string, args ...any) { emit(lvlDebug, fmt.Sprintf(format, args...), nil) }
func Infof(format string, args ...any)  { emit(lvlInfo, fmt.Sprintf(format, args...), nil) }
func Warnf(format string, args ...any)  { emit(lvlWarn, fmt.Sprintf(format, args...), nil) }
func Errorf(format string, args ...any) { emit(lvlErr, fmt.Sprintf(format, args...), nil) }

func Debug(args ...any) { emit(lvlDebug, fmt.Sprint(args...), nil) }
func Info(args ...any)  { emit(lvlInfo, fmt.Sprint(args...), nil) }
func Warn(args ...any)  { emit(lvlWarn, fmt.Sprint(args...), nil) }
func Error(args ...any) { emit(lvlErr, fmt.Sprint(args...), nil) }

// Structured variants take alternating key/value pairs after the message.
func Debugw(msg string, keyvals ...any) { emit(lvlDebug, msg, keyvals) }
func Infow(msg string, keyvals ...any)  { emit(lvlInfo, msg, keyvals) }
func Warnw(msg string, keyvals ...any)  { emit(lvlWarn, msg, keyvals) }
func Errorw(msg string, keyvals ...any) { emit(lvlErr, msg, keyvals) }

// Fatalf logs at crit level and exits the process.
func Fatalf(format string, args ...any) {
	emit(lvlCrit, fmt.Sprintf(format, args...), nil)
	os.Exit(1)
}

// Abortf works like Fatalf and exists for parity with other
// ClusterCockpit tools.
func Abortf(format string, args ...any) {
	emit(lvlCrit, fmt.Sprintf(format, args...), nil)
	os.Exit(1)
}
