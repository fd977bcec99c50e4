// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
)

// Dir is the name of the gifplay directory within configuration
// directories.
const Dir = "gifplay"

// Find returns the path to the named file in the gifplay directory of the
// first configuration directory holding it. The user's configuration
// directory is searched before the system directories. If no file is found
// Find returns fs.ErrNotExist.
func Find(name string) (string, error) {
	for _, base := range configDirs() {
		path := filepath.Join(base, Dir, name)
		fi, err := os.Stat(path)
		if err == nil && !fi.IsDir() {
			return path, nil
		}
	}
	return "", fs.ErrNotExist
}

// configDirs returns the configuration directories in search order.
// On Linux these follow the XDG base directory conventions.
func configDirs() []string {
	var (
		homeKey, homeDef string
		dirsKey, dirsDef string
	)
	switch runtime.GOOS {
	case "darwin":
		homeDef = "Library/Application Support"
		dirsDef = "/Library/Application Support"
	default:
		homeKey, homeDef = "XDG_CONFIG_HOME", ".config"
		dirsKey, dirsDef = "XDG_CONFIG_DIRS", "/etc/xdg"
	}
	var dirs []string
	if home, ok := envOrDefault(homeKey, homeDef, "HOME"); ok {
		dirs = append(dirs, home)
	}
	if list, ok := envOrDefault(dirsKey, dirsDef, ""); ok {
		dirs = append(dirs, filepath.SplitList(list)...)
	}
	return dirs
}

// envOrDefault return the path or path list corresponding to the provided
// key and default. If home is not empty, the default is treated as an absolute
// path or path list and returned unaltered, otherwise the default is returned
// relative to home.
func envOrDefault(key, def, home string) (string, bool) {
	if key != "" {
		val, ok := os.LookupEnv(key)
		if ok && val != "" {
			return val, true
		}
	}
	if def == "" {
		return "", false
	}
	if home == "" || filepath.IsAbs(def) {
		return def, true
	}
	base, ok := os.LookupEnv(home)
	if !ok {
		return "", false
	}
	return filepath.Join(base, def), true
}
