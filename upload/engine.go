/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/gravwell/sessiontrace/internal/slog"
	"github.com/gravwell/sessiontrace/webchannel"
)

const (
	defaultSmallThreshold = 3 * 1024 * 1024 // spec.md 4.8: < 3MB is a single PUT
	defaultSegmentSize    = 1024 * 1024     // spec.md 4.8: segments are <= 1MB
	defaultMaxRestarts    = 4               // spec.md 4.8: restart from zero up to 4 times
)

// ProgressFunc reports bytes acknowledged per segment, for CLI progress
// bars (SPEC_FULL.md's supplemented upload.Progress observer).
type ProgressFunc func(written, total int64)

// Config configures an Engine at construction (spec.md's ambient
// "construction-time config struct" pattern, §2).
type Config struct {
	SmallThreshold  int64
	SegmentSize     int64
	MaxZeroRestarts int
	JournalDir      string
	Logger          *slog.Logger
	Progress        ProgressFunc
}

func (c Config) withDefaults() Config {
	if c.SmallThreshold <= 0 {
		c.SmallThreshold = defaultSmallThreshold
	}
	if c.SegmentSize <= 0 {
		c.SegmentSize = defaultSegmentSize
	}
	if c.MaxZeroRestarts <= 0 {
		c.MaxZeroRestarts = defaultMaxRestarts
	}
	if c.Logger == nil {
		c.Logger = slog.Nop()
	}
	return c
}

// Request names a single fragment upload (spec.md 4.8's contract).
type Request struct {
	ClientID          string
	SessionID         string
	FragmentID        string // empty means the full session.glf
	LocalFragmentPath string
	PurgeOnSuccess    bool
}

// Engine is the resumable segmented upload engine (C8).
type Engine struct {
	cfg     Config
	channel *webchannel.Channel
	log     *slog.Tagged
}

// New builds an Engine that transmits over channel.
func New(channel *webchannel.Channel, cfg Config) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{cfg: cfg, channel: channel, log: cfg.Logger.WithMsgID("upload")}
}

// uploadPath builds the relative URL spec.md 6.2 names for req.
func uploadPath(req Request) string {
	if req.FragmentID == "" {
		return fmt.Sprintf("/Hub/Hosts/%s/Sessions/%s/session.glf", req.ClientID, req.SessionID)
	}
	return fmt.Sprintf("/Hub/Hosts/%s/Sessions/%s/Files/%s.zip", req.ClientID, req.SessionID, req.FragmentID)
}

// Upload transmits req.LocalFragmentPath reliably and resumably (spec.md
// 4.8). If another process already holds the advisory lock for this
// fragment, Upload returns nil without contacting the server (spec.md 8
// invariant 6).
func (e *Engine) Upload(ctx context.Context, req Request) error {
	lock, err := acquireLock(e.cfg.JournalDir, req)
	if err != nil {
		if errors.Is(err, ErrAlreadyUploading) {
			e.log.Debugf("fragment %s/%s already locked by another process, skipping", req.SessionID, req.FragmentID)
			return nil
		}
		return err
	}
	defer lock.Unlock()

	info, err := os.Stat(req.LocalFragmentPath)
	if err != nil {
		return err
	}
	size := info.Size()
	relURL := uploadPath(req)

	hash, herr := sha1HexOf(req.LocalFragmentPath)
	if herr != nil {
		e.log.Warnf("sha1 hash unavailable for %s, uploading without integrity header: %v", req.LocalFragmentPath, herr)
		hash = ""
	}

	if size < e.cfg.SmallThreshold {
		if err := e.uploadSmall(ctx, relURL, req.LocalFragmentPath, hash); err != nil {
			return err
		}
	} else {
		jPath := journalPath(e.cfg.JournalDir, req)
		if err := e.uploadLarge(ctx, relURL, req.LocalFragmentPath, size, hash, jPath); err != nil {
			return err
		}
		if err := removeJournal(jPath); err != nil {
			return err
		}
	}

	if req.PurgeOnSuccess {
		if err := os.Remove(req.LocalFragmentPath); err != nil {
			e.log.Warnf("purge of %s after successful upload failed: %v", req.LocalFragmentPath, err)
		}
	}
	return nil
}

// uploadSmall is a single whole-body PUT (spec.md 4.8's "< 3MB" path).
func (e *Engine) uploadSmall(ctx context.Context, relURL, path, hash string) error {
	headers := http.Header{}
	if hash != "" {
		headers.Set(headerSHA1Hash, hash)
	}
	_, err := e.channel.UploadFile(ctx, relURL, path, webchannel.RequestOptions{Headers: headers, RequireAuth: true})
	if e.cfg.Progress != nil && err == nil {
		if info, serr := os.Stat(path); serr == nil {
			e.cfg.Progress(info.Size(), info.Size())
		}
	}
	return err
}

// uploadLarge drives the segmented POST loop of spec.md 4.8: resume
// from the journaled offset, POST <=1MB segments with
// Start/Complete/FileSize query parameters, and on a 400 mid-stream
// DELETE the partial server-side state and restart from byte zero, up
// to Config.MaxZeroRestarts times.
func (e *Engine) uploadLarge(ctx context.Context, relURL, path string, size int64, hash, journal string) error {
	bytesWritten, err := loadJournal(journal)
	if err != nil {
		return err
	}

	restarts := 0
	for {
		n, err := e.segmentLoop(ctx, relURL, path, size, bytesWritten, hash, journal)
		if err == nil {
			return nil
		}
		if !errors.Is(err, webchannel.ErrBadRequest) {
			return err
		}
		restarts++
		if restarts > e.cfg.MaxZeroRestarts {
			return fmt.Errorf("%w: %v", ErrTooManyRestarts, err)
		}
		e.log.Warnf("400 mid-stream at offset %d, discarding server-side state and restarting from zero (attempt %d/%d)", n, restarts, e.cfg.MaxZeroRestarts)
		if _, derr := e.channel.Delete(ctx, relURL, webchannel.RequestOptions{RequireAuth: true}); derr != nil {
			e.log.Warnf("DELETE to discard partial upload state failed: %v", derr)
		}
		bytesWritten = 0
		if werr := writeJournal(journal, 0); werr != nil {
			return werr
		}
	}
}

// segmentLoop runs the segment POST loop starting at startOffset,
// returning the offset reached if it's aborted by a 400 (so the caller
// can log it) or nil on full completion.
func (e *Engine) segmentLoop(ctx context.Context, relURL, path string, size, startOffset int64, hash, journal string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return startOffset, err
	}
	defer f.Close()

	if _, err := f.Seek(startOffset, io.SeekStart); err != nil {
		return startOffset, err
	}

	written := startOffset
	buf := make([]byte, e.cfg.SegmentSize)
	for written < size {
		n, rerr := io.ReadFull(f, buf)
		if rerr != nil && rerr != io.ErrUnexpectedEOF {
			return written, rerr
		}
		chunk := buf[:n]
		complete := written+int64(n) >= size

		q := url.Values{}
		q.Set("Start", strconv.FormatInt(written, 10))
		q.Set("Complete", strconv.FormatBool(complete))
		q.Set("FileSize", strconv.FormatInt(size, 10))
		segURL := relURL + "?" + q.Encode()

		headers := http.Header{}
		if complete && hash != "" {
			headers.Set(headerSHA1Hash, hash)
		}
		if _, err := e.channel.Post(ctx, segURL, chunk, webchannel.RequestOptions{Headers: headers, RequireAuth: true}); err != nil {
			return written, err
		}

		written += int64(n)
		if err := writeJournal(journal, written); err != nil {
			return written, err
		}
		if e.cfg.Progress != nil {
			e.cfg.Progress(written, size)
		}
	}
	return written, nil
}
