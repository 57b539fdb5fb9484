// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-scoreboard.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

import (
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"net/url"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

type Kind int

const (
	Monthly Kind = iota + 1
	UserAgg
	Board
)

//go:embed schemas/*
var schemaFiles embed.FS

func loadSchema(s string) (io.ReadCloser, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}
	return schemaFiles.Open(u.Path)
}

func init() {
	jsonschema.Loaders["embedFS"] = loadSchema
}

// Validate checks a serialized artifact against its embedded JSON
// schema. Only enabled when the validate config key is set; artifact
// loads treat a validation error like a parse error.
func Validate(k Kind, r io.Reader) error {
	var s *jsonschema.Schema
	var err error

	switch k {
	case Monthly:
		s, err = jsonschema.Compile("embedFS://schemas/monthly-rollup.schema.json")
	case UserAgg:
		s, err = jsonschema.Compile("embedFS://schemas/user-aggregate.schema.json")
	case Board:
		s, err = jsonschema.Compile("embedFS://schemas/leaderboard.schema.json")
	default:
		return fmt.Errorf("unknown schema kind %d", k)
	}
	if err != nil {
		return err
	}

	var v any
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		return fmt.Errorf("decode for validation: %w", err)
	}

	if err := s.Validate(v); err != nil {
		return fmt.Errorf("schema validation: %v", err)
	}

	return nil
}
