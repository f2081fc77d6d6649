// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build unix

package walker

import (
	"golang.org/x/sys/unix"
)

// dirKey identifies a directory independently of the path used to reach it.
type dirKey struct {
	dev  uint64
	ino  uint64
	path string
}

// keyOf stats path (following symlinks) and returns its device/inode pair.
func keyOf(path string) (dirKey, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return dirKey{}, err
	}
	return dirKey{dev: uint64(st.Dev), ino: uint64(st.Ino)}, nil
}
