package tracker

import (
	"context"
	"errors"
	"os"
	"slices"
	"sort"
	"time"

	"github.com/janekbaraniewski/geminiusage/internal/session"
)

type candidate struct {
	path      string
	sessionID string
	mtime     time.Time
	// file is set when this pass already decoded the file; invalid when it
	// tried and the content was not a session file.
	file    *session.File
	invalid bool
}

// Query returns the usage rows of every matching session, newest session
// file first. A missing sessions directory yields an empty result. The only
// error is ctx's, checked before a pass begins; a running pass always
// completes.
func (e *Engine) Query(ctx context.Context, q Query) ([]session.UsageRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q = q.normalized()

	if _, err := os.Stat(e.root); err != nil {
		e.debugf("sessions_dir_missing", "root=%q error=%v", e.root, err)
		return []session.UsageRow{}, nil
	}

	e.Start()

	e.passMu.Lock()
	defer e.passMu.Unlock()

	if q.SessionID == "" {
		if rows, ok := e.result.get(q, e.now(), e.ttl); ok {
			e.stats.ResultCacheHits++
			e.debugf("result_cache_hit", "count=%d", len(rows))
			return slices.Clone(rows), nil
		}
	}

	rows := e.reconcile(q)
	if q.SessionID == "" {
		e.result.set(q, slices.Clone(rows), e.now())
	}
	return rows, nil
}

// reconcile runs one pass. Callers hold passMu.
func (e *Engine) reconcile(q Query) []session.UsageRow {
	started := time.Now()
	now := e.now()

	dirty := e.dirty.drain()
	ps := PassStats{Forced: e.forceFull.Swap(false)}
	if ps.Forced {
		e.debugf("full_reconciliation_sweep", "")
	}

	projectDirs, err := session.ProjectDirs(e.root)
	if err != nil && !errors.Is(err, session.ErrNotInstalled) {
		e.debugf("project_enumeration_failed", "error=%v", err)
	}

	var candidates []candidate
	seen := make(map[string]bool)

	for _, projectDir := range projectDirs {
		chatsDir := session.ChatsDir(projectDir)
		e.watcher.WatchChats(chatsDir)

		files, err := session.ListSessionFiles(chatsDir)
		if err != nil {
			continue
		}

		for _, path := range files {
			seen[path] = true

			isDirty := dirty[path]
			if isDirty {
				ps.DirtyHits++
			}

			meta, known := e.metadata[path]
			if known && !isDirty && !ps.Forced {
				ps.StatSkips++
				if q.matches(meta.sessionID, meta.mtime) {
					candidates = append(candidates, candidate{path: path, sessionID: meta.sessionID, mtime: meta.mtime})
				}
				continue
			}

			ps.StatChecks++
			info, err := os.Stat(path)
			if err != nil {
				delete(e.metadata, path)
				continue
			}
			mtime := info.ModTime()

			// A directory-level event does not mean this file changed.
			if known && meta.mtime.Equal(mtime) {
				if q.matches(meta.sessionID, meta.mtime) {
					candidates = append(candidates, candidate{path: path, sessionID: meta.sessionID, mtime: meta.mtime})
				}
				continue
			}

			ps.FileReads++
			sessionID := session.SessionIDFromPath(path)
			f, err := session.ReadFile(path)
			switch {
			case err == nil:
				sessionID = f.SessionID
			case isContentError(err):
				ps.SkippedFiles++
				e.debugf("session_file_invalid", "error=%v", err)
			default:
				delete(e.metadata, path)
				e.debugf("session_file_unreadable", "path=%s error=%v", path, err)
				continue
			}

			e.metadata[path] = metadataEntry{mtime: mtime, sessionID: sessionID}
			if q.matches(sessionID, mtime) {
				candidates = append(candidates, candidate{path: path, sessionID: sessionID, mtime: mtime, file: f, invalid: f == nil})
			}
		}
	}

	e.metadata.retain(seen)

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].mtime.After(candidates[j].mtime)
	})
	ps.SessionFiles = len(candidates)

	rows := make([]session.UsageRow, 0)
	for _, c := range candidates {
		if cached, ok := e.aggregates.lookup(c.sessionID, c.mtime, now); ok {
			ps.AggregateHits++
			rows = append(rows, cached...)
			continue
		}
		ps.AggregateMisses++

		f, invalid := c.file, c.invalid
		if f == nil && !invalid {
			ps.FileReads++
			f, err = session.ReadFile(c.path)
			if err != nil {
				e.debugf("session_file_skipped", "error=%v", err)
				if !isContentError(err) {
					continue
				}
				invalid = true
			}
		}

		// Invalid files cache an empty aggregate so unchanged ones are not
		// re-read every pass.
		var usage []session.UsageRow
		if !invalid {
			usage = session.ExtractUsageRows(f, c.mtime)
		}
		e.aggregates.store(c.sessionID, c.mtime, usage, now)
		rows = append(rows, usage...)
	}

	ps.Evicted = e.aggregates.evict(e.maxAggregate)
	ps.Rows = len(rows)
	ps.MetadataSize = len(e.metadata)
	ps.AggregateSize = e.aggregates.len()
	ps.Duration = time.Since(started)
	e.stats.add(ps)

	e.debugf(
		"pass_complete",
		"count=%d session_files=%d stat_checks=%d stat_skips=%d dirty_hits=%d aggregate_hits=%d aggregate_misses=%d metadata_index_size=%d aggregate_cache_size=%d",
		ps.Rows, ps.SessionFiles, ps.StatChecks, ps.StatSkips, ps.DirtyHits,
		ps.AggregateHits, ps.AggregateMisses, ps.MetadataSize, ps.AggregateSize,
	)
	return rows
}

func isContentError(err error) bool {
	return errors.Is(err, session.ErrMalformedJSON) || errors.Is(err, session.ErrSchemaInvalid)
}
