// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"fmt"
	"slices"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/encoding/gocode/gocodec"
	"golang.org/x/exp/constraints"
)

// Validate performs a validation of the provided configuration value, returning
// a list of invalid paths and a CUE errors.Error explaining the issues found if
// the configuration is invalid according to the provided schema. Field names
// are taken from the json tags of cfg.
func Validate(schema string, cfg any) (paths [][]string, err error) {
	ctx := cuecontext.New()

	v := ctx.CompileString(schema)
	if v.Err() != nil {
		return nil, v.Err()
	}
	codec := gocodec.New(ctx, nil)

	w, err := codec.Decode(cfg)
	if err != nil {
		return nil, err
	}

	u := v.Unify(w)
	err = u.Validate(cue.Concrete(true), cue.Final())
	errs := cerrors.Errors(err)
	if len(errs) == 0 {
		return nil, nil
	}
	paths = make([][]string, 0, len(errs))
	for _, e := range errs {
		if p := cerrors.Path(e); len(p) != 0 {
			paths = append(paths, p)
		}
	}
	err = cerrors.Append(
		cerrors.Promote(err, ""),
		cerrors.Promote(fmt.Errorf("%s", u), "not concrete"),
	)
	return unique(paths), err
}

// unique returns paths lexically sorted in ascending order and with repeated
// elements omitted.
func unique(paths [][]string) [][]string {
	if len(paths) < 2 {
		return paths
	}
	slices.SortFunc(paths, compare[string])
	return slices.CompactFunc(paths, func(a, b []string) bool {
		return compare(a, b) == 0
	})
}

func compare[T constraints.Ordered](a, b []T) int {
	l := min(len(a), len(b))
	for i := range l {
		e1, e2 := a[i], b[i]
		if e1 < e2 {
			return -1
		}
		if e1 > e2 {
			return +1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return +1
	}
	return 0
}
