/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package upload

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
)

// journalPath returns the sidecar path spec.md 4.8/6.3 names:
// {session}_{client}[_{fragment}].txt under the configured journal
// directory (the source's {repo.TempPath}/Session_Upload/).
func journalPath(dir string, req Request) string {
	name := fmt.Sprintf("%s_%s", req.SessionID, req.ClientID)
	if req.FragmentID != "" {
		name = fmt.Sprintf("%s_%s", name, req.FragmentID)
	}
	return filepath.Join(dir, name+".txt")
}

// loadJournal reads the little-endian int32 bytes_written value from
// path, or returns 0 if the journal doesn't exist (fresh upload).
func loadJournal(path string) (int64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	if len(b) < 4 {
		return 0, nil
	}
	return int64(int32(binary.LittleEndian.Uint32(b))), nil
}

// writeJournal atomically persists bytesWritten to path: write to a
// temp file in the same directory, then rename, so a crash mid-write
// never leaves a torn journal behind.
func writeJournal(path string, bytesWritten int64) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(bytesWritten))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf[:], 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// removeJournal deletes the journal on successful completion (spec.md
// 4.8). A missing journal is not an error.
func removeJournal(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
