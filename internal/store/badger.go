package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"lease-analyzer/internal/models"
)

// BadgerConfig configures the embedded store.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string
	// InMemory keeps everything in RAM. Tests only.
	InMemory bool
	// Logger receives BadgerDB's internal logs. Nil disables them.
	Logger *slog.Logger
}

// Badger is an embedded single-node Store. Writes are synced before they
// return so a checkpoint survives a crash right after WriteCheckpoint.
//
// Key layout:
//
//	job/<id>             job snapshot JSON
//	active/<id>          present while the job is Running
//	cancel/<id>          cancellation request timestamp
//	cp/<id>/<phase>      checkpoint JSON
type Badger struct {
	db  *badger.DB
	now func() time.Time
}

// sortableTime has a fixed width so active entries sort lexically by creation.
const sortableTime = "2006-01-02T15:04:05.000000000Z"

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenBadger opens (creating if needed) the embedded database.
func OpenBadger(cfg BadgerConfig) (*Badger, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("badger path is required for persistent database")
		}
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &Badger{db: db, now: time.Now}, nil
}

func (b *Badger) Close() error {
	return b.db.Close()
}

func jobKey(id string) []byte    { return []byte("job/" + id) }
func activeKey(id string) []byte { return []byte("active/" + id) }
func cancelKey(id string) []byte { return []byte("cancel/" + id) }
func cpPrefix(id string) []byte  { return []byte("cp/" + id + "/") }
func cpKey(id string, phase models.Phase) []byte {
	return []byte("cp/" + id + "/" + string(phase))
}

// update retries optimistic transaction conflicts a few times; each job has a
// single writer so conflicts only come from the cancel flag.
func (b *Badger) update(fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < 3; i++ {
		err = b.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func (b *Badger) WriteCheckpoint(_ context.Context, jobID string, phase models.Phase, output []byte) error {
	return b.update(func(txn *badger.Txn) error {
		item, err := txn.Get(cpKey(jobID, phase))
		switch {
		case err == nil:
			var existing models.Checkpoint
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &existing) }); err != nil {
				return fmt.Errorf("decode checkpoint: %w", err)
			}
			return compareCheckpoint(jobID, phase, existing.Output, output)
		case !errors.Is(err, badger.ErrKeyNotFound):
			return fmt.Errorf("read checkpoint: %w", err)
		}
		raw, err := json.Marshal(models.Checkpoint{
			JobID:     jobID,
			Phase:     phase,
			Output:    output,
			WrittenAt: b.now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("encode checkpoint: %w", err)
		}
		return txn.Set(cpKey(jobID, phase), raw)
	})
}

func (b *Badger) ReadCheckpoint(_ context.Context, jobID string, phase models.Phase) ([]byte, error) {
	var cp models.Checkpoint
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(cpKey(jobID, phase))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error { return json.Unmarshal(val, &cp) })
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, notFound("checkpoint", jobID+"/"+string(phase))
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	return cp.Output, nil
}

func (b *Badger) ListCheckpoints(_ context.Context, jobID string) ([]models.Checkpoint, error) {
	var out []models.Checkpoint
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, Prefix: cpPrefix(jobID)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var cp models.Checkpoint
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &cp) }); err != nil {
				return fmt.Errorf("decode checkpoint: %w", err)
			}
			out = append(out, cp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortCheckpoints(out)
	return out, nil
}

func (b *Badger) UpsertJob(_ context.Context, job models.Job) (models.Job, error) {
	err := b.update(func(txn *badger.Txn) error {
		var prev time.Time
		item, err := txn.Get(jobKey(job.ID))
		switch {
		case err == nil:
			var existing models.Job
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &existing) }); err != nil {
				return fmt.Errorf("decode job: %w", err)
			}
			if existing.Status.Terminal() {
				return terminalConflict(existing)
			}
			prev = existing.UpdatedAt
		case !errors.Is(err, badger.ErrKeyNotFound):
			return fmt.Errorf("read job: %w", err)
		}
		job.UpdatedAt = nextUpdatedAt(b.now(), prev)
		raw, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("encode job: %w", err)
		}
		if err := txn.Set(jobKey(job.ID), raw); err != nil {
			return err
		}
		if job.Status == models.StatusRunning {
			return txn.Set(activeKey(job.ID), []byte(job.CreatedAt.UTC().Format(sortableTime)))
		}
		return txn.Delete(activeKey(job.ID))
	})
	if err != nil {
		return models.Job{}, err
	}
	return job, nil
}

func (b *Badger) GetJob(_ context.Context, id string) (models.Job, error) {
	var job models.Job
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(jobKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error { return json.Unmarshal(val, &job) })
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return models.Job{}, notFound("job", id)
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("read job: %w", err)
	}
	return job, nil
}

func (b *Badger) ListActiveJobs(_ context.Context, limit int) ([]string, error) {
	type entry struct {
		id      string
		created string
	}
	var entries []entry
	prefix := []byte("active/")
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, Prefix: prefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			entries = append(entries, entry{id: string(item.Key()[len(prefix):]), created: string(val)})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list active jobs: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].created < entries[j].created })
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, e.id)
	}
	return out, nil
}

func (b *Badger) RequestCancel(_ context.Context, id string) error {
	return b.update(func(txn *badger.Txn) error {
		if _, err := txn.Get(jobKey(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return notFound("job", id)
			}
			return err
		}
		return txn.Set(cancelKey(id), []byte(b.now().UTC().Format(time.RFC3339Nano)))
	})
}

func (b *Badger) CancelRequested(_ context.Context, id string) (bool, error) {
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(cancelKey(id))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read cancel flag: %w", err)
	}
	return true, nil
}
