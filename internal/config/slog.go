// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"encoding/json"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

type changeValue struct {
	Change
}

func (v changeValue) LogValue() slog.Value {
	events := make([]eventValue, len(v.Event))
	for i, e := range v.Event {
		events[i] = eventValue{e}
	}
	return slog.AnyValue(struct {
		Event []eventValue `json:"event"`
		Sum   *Sum         `json:"sum,omitempty"`
		Err   error        `json:"err,omitempty"`
	}{
		Event: events,
		Sum:   v.Sum,
		Err:   v.Err,
	})
}

type eventValue struct {
	fsnotify.Event
}

func (v eventValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name string `json:"name"`
		Op   string `json:"op"`
		Code int    `json:"op_code"`
	}{
		Name: v.Name,
		Op:   v.Op.String(),
		Code: int(v.Op),
	})
}
