package queue

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/omomi/internal/event"
	"github.com/ashita-ai/omomi/internal/telemetry"
)

// Segment file layout:
//
//	header: magic(4) | version(2) | reserved(2) | baseLSN(8)
//	record: lsn(8) | payloadLen(4) | payload | crc32c(4)
//
// Each payload is a walEntry: either a put carrying the event envelope or a
// delete tombstone. Replaying every live segment in order rebuilds the
// pending set.
const (
	walMagic      = 0x4F4D5145 // "OMQE"
	walVersion    = 1
	walHeaderSize = 16
	walRecordHead = 12
	walCRCSize    = 4
	walMaxPayload = 1 << 20

	defaultMaxSegmentRecs = 10_000
	minSegmentRecs        = 16
	defaultMaxSegments    = 8
	defaultSyncInterval   = 10 * time.Millisecond
)

// Sync modes.
const (
	SyncFull  = "full"
	SyncBatch = "batch"
	SyncNone  = "none"
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// WALConfig configures the file-backed queue.
type WALConfig struct {
	Dir            string        // required
	SyncMode       string        // full, batch or none. Default full.
	SyncInterval   time.Duration // batch mode only. Default 10ms.
	MaxSegmentRecs int           // records before rotation. Default 10K.
	MaxSegments    int           // live segments before compaction. Default 8.
}

// WAL is a queue persisted as an append-only log of put and delete
// records. The pending set is mirrored in memory; compaction rewrites the
// survivors into a fresh segment and drops the older files.
type WAL struct {
	dir         string
	syncMode    string
	maxSegRecs  int
	maxSegments int
	logger      *slog.Logger
	now         func() time.Time

	mu          sync.Mutex
	current     *os.File
	segmentNum  uint64 // number of the open segment
	segmentRecs int
	segments    int // live segment files, including the open one
	nextLSN     uint64
	nextID      int64
	pending     []Record
	closed      bool

	syncCancel context.CancelFunc
	syncDone   chan struct{}
}

type walOp string

const (
	opPut    walOp = "put"
	opDelete walOp = "del"
)

type walEntry struct {
	Op       walOp           `json:"op"`
	ID       int64           `json:"id"`
	Envelope *event.Envelope `json:"envelope,omitempty"`
}

type walCheckpoint struct {
	Segment     uint64    `json:"segment"`
	NextID      int64     `json:"next_id"`
	CompactedAt time.Time `json:"compacted_at"`
}

// OpenWAL opens the queue in cfg.Dir, replaying any existing segments.
func OpenWAL(logger *slog.Logger, cfg WALConfig) (*WAL, error) {
	if cfg.Dir == "" {
		return nil, errors.New("queue: wal: directory is required")
	}
	if cfg.SyncMode == "" {
		cfg.SyncMode = SyncFull
	}
	switch cfg.SyncMode {
	case SyncFull, SyncBatch, SyncNone:
	default:
		return nil, fmt.Errorf("queue: wal: invalid sync mode %q (must be full, batch, or none)", cfg.SyncMode)
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = defaultSyncInterval
	}
	if cfg.MaxSegmentRecs <= 0 {
		cfg.MaxSegmentRecs = defaultMaxSegmentRecs
	}
	if cfg.MaxSegmentRecs < minSegmentRecs {
		return nil, fmt.Errorf("queue: wal: segment records %d too small (min %d)", cfg.MaxSegmentRecs, minSegmentRecs)
	}
	if cfg.MaxSegments <= 1 {
		cfg.MaxSegments = defaultMaxSegments
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("queue: wal: create directory: %w", err)
	}

	w := &WAL{
		dir:         cfg.Dir,
		syncMode:    cfg.SyncMode,
		maxSegRecs:  cfg.MaxSegmentRecs,
		maxSegments: cfg.MaxSegments,
		logger:      logger,
		now:         time.Now,
		nextLSN:     1,
		nextID:      1,
	}
	if err := w.recover(); err != nil {
		return nil, err
	}
	if err := w.rotate(); err != nil {
		return nil, fmt.Errorf("queue: wal: open segment: %w", err)
	}

	if cfg.SyncMode == SyncNone {
		logger.Warn("queue: wal sync mode is 'none'; queued events may be lost on crash")
	}
	if cfg.SyncMode == SyncBatch {
		ctx, cancel := context.WithCancel(context.Background())
		w.syncCancel = cancel
		w.syncDone = make(chan struct{})
		go w.syncLoop(ctx, cfg.SyncInterval)
	}

	w.registerMetrics()
	return w, nil
}

func (w *WAL) Enqueue(_ context.Context, ev event.Event) (Record, error) {
	if err := checkDurable(ev); err != nil {
		return Record{}, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return Record{}, ErrClosed
	}

	env, err := event.Wrap(ev, w.now())
	if err != nil {
		return Record{}, fmt.Errorf("queue: enqueue: %w", err)
	}
	rec := Record{ID: w.nextID, AccountID: env.AccountID, Event: ev, EnqueuedAt: env.EnqueuedAt}
	if err := w.append(walEntry{Op: opPut, ID: rec.ID, Envelope: &env}); err != nil {
		return Record{}, fmt.Errorf("queue: enqueue: %w", err)
	}
	w.nextID++
	w.pending = append(w.pending, rec)
	return rec, nil
}

func (w *WAL) Next(context.Context) (Record, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return Record{}, false, ErrClosed
	}
	if len(w.pending) == 0 {
		return Record{}, false, nil
	}
	return w.pending[0], true, nil
}

func (w *WAL) Delete(_ context.Context, rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	idx := w.indexOf(rec.ID)
	if idx < 0 {
		return nil
	}
	if err := w.append(walEntry{Op: opDelete, ID: rec.ID}); err != nil {
		return fmt.Errorf("queue: delete %d: %w", rec.ID, err)
	}
	w.pending = append(w.pending[:idx], w.pending[idx+1:]...)

	if len(w.pending) == 0 || w.segments > w.maxSegments {
		if err := w.compact(); err != nil {
			// The log is still consistent; compaction is retried on the next delete.
			w.logger.Warn("queue: wal compaction failed", "error", err)
		}
	}
	return nil
}

func (w *WAL) Len(context.Context) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, ErrClosed
	}
	return len(w.pending), nil
}

// Close syncs and closes the open segment.
func (w *WAL) Close() error {
	if w.syncCancel != nil {
		w.syncCancel()
		<-w.syncDone
		w.syncCancel = nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.current == nil {
		return nil
	}
	if err := w.current.Sync(); err != nil {
		w.logger.Warn("queue: wal final sync failed", "error", err)
	}
	return w.current.Close()
}

// SegmentCount returns the number of live segment files.
func (w *WAL) SegmentCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.segments
}

func (w *WAL) indexOf(id int64) int {
	i := sort.Search(len(w.pending), func(i int) bool { return w.pending[i].ID >= id })
	if i < len(w.pending) && w.pending[i].ID == id {
		return i
	}
	return -1
}

// append writes one framed record. Caller holds w.mu.
func (w *WAL) append(e walEntry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	if len(payload) > walMaxPayload {
		return fmt.Errorf("entry too large (%d bytes, max %d)", len(payload), walMaxPayload)
	}

	var head [walRecordHead]byte
	binary.BigEndian.PutUint64(head[0:8], w.nextLSN)
	binary.BigEndian.PutUint32(head[8:12], uint32(len(payload))) //nolint:gosec // bounded by walMaxPayload

	h := crc32.New(crc32cTable)
	_, _ = h.Write(head[:])
	_, _ = h.Write(payload)
	var crcBuf [walCRCSize]byte
	binary.BigEndian.PutUint32(crcBuf[:], h.Sum32())

	buf := make([]byte, 0, walRecordHead+len(payload)+walCRCSize)
	buf = append(buf, head[:]...)
	buf = append(buf, payload...)
	buf = append(buf, crcBuf[:]...)
	if _, err := w.current.Write(buf); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	if w.syncMode == SyncFull {
		if err := w.current.Sync(); err != nil {
			return fmt.Errorf("fsync: %w", err)
		}
	}
	w.nextLSN++
	w.segmentRecs++

	if w.segmentRecs >= w.maxSegRecs {
		if err := w.rotate(); err != nil {
			return fmt.Errorf("rotate segment: %w", err)
		}
	}
	return nil
}

// compact copies the pending records into a fresh segment, records it in
// the checkpoint and removes every older segment. Caller holds w.mu.
func (w *WAL) compact() error {
	if err := w.rotate(); err != nil {
		return err
	}
	base := w.segmentNum
	for i := range w.pending {
		rec := w.pending[i]
		env, err := event.Wrap(rec.Event, rec.EnqueuedAt)
		if err != nil {
			return err
		}
		if err := w.append(walEntry{Op: opPut, ID: rec.ID, Envelope: &env}); err != nil {
			return err
		}
	}
	if err := w.current.Sync(); err != nil {
		return fmt.Errorf("sync compacted segment: %w", err)
	}
	if err := w.saveCheckpoint(walCheckpoint{Segment: base, NextID: w.nextID, CompactedAt: w.now().UTC()}); err != nil {
		return err
	}
	return w.removeSegmentsBefore(base)
}

// recover replays live segments into the pending mirror.
func (w *WAL) recover() error {
	cp, err := w.loadCheckpoint()
	if err != nil {
		return err
	}
	if err := w.removeSegmentsBefore(cp.Segment); err != nil {
		return err
	}
	if cp.NextID > w.nextID {
		w.nextID = cp.NextID
	}

	paths, err := w.listSegments()
	if err != nil {
		return fmt.Errorf("queue: wal: list segments: %w", err)
	}
	live := make(map[int64]Record)
	for _, path := range paths {
		entries, highLSN, err := w.readSegment(path)
		if err != nil {
			w.logger.Warn("queue: wal recovery: unreadable segment, skipping",
				"segment", path, "error", err)
			continue
		}
		if highLSN >= w.nextLSN {
			w.nextLSN = highLSN + 1
		}
		for _, e := range entries {
			if e.ID >= w.nextID {
				w.nextID = e.ID + 1
			}
			switch e.Op {
			case opPut:
				if _, ok := live[e.ID]; ok || e.Envelope == nil {
					continue
				}
				ev, err := e.Envelope.Unwrap()
				if err != nil {
					w.logger.Warn("queue: wal recovery: dropping undecodable record",
						"id", e.ID, "error", err)
					continue
				}
				live[e.ID] = Record{ID: e.ID, AccountID: e.Envelope.AccountID, Event: ev, EnqueuedAt: e.Envelope.EnqueuedAt}
			case opDelete:
				delete(live, e.ID)
			}
		}
	}

	w.pending = w.pending[:0]
	for _, rec := range live {
		w.pending = append(w.pending, rec)
	}
	sort.Slice(w.pending, func(i, j int) bool { return w.pending[i].ID < w.pending[j].ID })

	high, err := w.highestSegment()
	if err != nil {
		return fmt.Errorf("queue: wal: scan segments: %w", err)
	}
	w.segmentNum = max(high, cp.Segment)
	w.segments = len(paths)
	if len(w.pending) > 0 {
		w.logger.Info("queue: wal recovered pending events", "count", len(w.pending))
	}
	return nil
}

// rotate closes the open segment and starts the next one. Caller holds w.mu.
func (w *WAL) rotate() error {
	if w.current != nil {
		if err := w.current.Sync(); err != nil {
			w.logger.Warn("queue: wal sync before rotation failed", "error", err)
		}
		if err := w.current.Close(); err != nil {
			w.logger.Warn("queue: wal close before rotation failed", "error", err)
		}
		w.current = nil
	}

	num := w.segmentNum + 1
	f, err := os.OpenFile(w.segmentPath(num), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) //nolint:gosec // path built from w.dir
	if err != nil {
		return fmt.Errorf("queue: wal: open segment %d: %w", num, err)
	}
	var hdr [walHeaderSize]byte
	binary.BigEndian.PutUint32(hdr[0:4], walMagic)
	binary.BigEndian.PutUint16(hdr[4:6], walVersion)
	binary.BigEndian.PutUint64(hdr[8:16], w.nextLSN)
	if _, err := f.Write(hdr[:]); err != nil {
		_ = f.Close()
		return fmt.Errorf("queue: wal: write segment header: %w", err)
	}

	w.current = f
	w.segmentNum = num
	w.segmentRecs = 0
	w.segments++
	return nil
}

func (w *WAL) segmentPath(num uint64) string {
	return filepath.Join(w.dir, fmt.Sprintf("%09d.wal", num))
}

func (w *WAL) checkpointPath() string {
	return filepath.Join(w.dir, "checkpoint.json")
}

func (w *WAL) loadCheckpoint() (walCheckpoint, error) {
	data, err := os.ReadFile(w.checkpointPath())
	if errors.Is(err, os.ErrNotExist) {
		return walCheckpoint{}, nil
	}
	if err != nil {
		return walCheckpoint{}, fmt.Errorf("queue: wal: read checkpoint: %w", err)
	}
	var cp walCheckpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return walCheckpoint{}, fmt.Errorf("queue: wal: parse checkpoint: %w", err)
	}
	return cp, nil
}

func (w *WAL) saveCheckpoint(cp walCheckpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("queue: wal: marshal checkpoint: %w", err)
	}
	tmp := w.checkpointPath() + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) //nolint:gosec // path built from w.dir
	if err != nil {
		return fmt.Errorf("queue: wal: open checkpoint tmp: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("queue: wal: write checkpoint tmp: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("queue: wal: sync checkpoint tmp: %w", err)
	}
	_ = f.Close()
	if err := os.Rename(tmp, w.checkpointPath()); err != nil {
		return fmt.Errorf("queue: wal: rename checkpoint: %w", err)
	}
	return nil
}

func (w *WAL) listSegments() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".wal") {
			paths = append(paths, filepath.Join(w.dir, e.Name()))
		}
	}
	sort.Strings(paths) // zero padded, so lexicographic is numeric
	return paths, nil
}

func segmentNumber(path string) (uint64, bool) {
	var num uint64
	if _, err := fmt.Sscanf(filepath.Base(path), "%09d.wal", &num); err != nil {
		return 0, false
	}
	return num, true
}

func (w *WAL) highestSegment() (uint64, error) {
	paths, err := w.listSegments()
	if err != nil {
		return 0, err
	}
	var highest uint64
	for _, p := range paths {
		if num, ok := segmentNumber(p); ok && num > highest {
			highest = num
		}
	}
	return highest, nil
}

func (w *WAL) removeSegmentsBefore(num uint64) error {
	paths, err := w.listSegments()
	if err != nil {
		return fmt.Errorf("queue: wal: list segments: %w", err)
	}
	for _, p := range paths {
		n, ok := segmentNumber(p)
		if !ok || n >= num {
			continue
		}
		if err := os.Remove(p); err != nil {
			w.logger.Warn("queue: wal failed to delete compacted segment", "path", p, "error", err)
			continue
		}
		if w.segments > 0 {
			w.segments--
		}
	}
	return nil
}

// readSegment returns the valid entries of a segment, stopping at the first
// torn or corrupt record.
func (w *WAL) readSegment(path string) ([]walEntry, uint64, error) {
	f, err := os.Open(path) //nolint:gosec // path built from w.dir
	if err != nil {
		return nil, 0, fmt.Errorf("open segment: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only

	var hdr [walHeaderSize]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		return nil, 0, fmt.Errorf("read segment header: %w", err)
	}
	if magic := binary.BigEndian.Uint32(hdr[0:4]); magic != walMagic {
		return nil, 0, fmt.Errorf("bad magic 0x%08X", magic)
	}
	if version := binary.BigEndian.Uint16(hdr[4:6]); version != walVersion {
		return nil, 0, fmt.Errorf("unsupported version %d", version)
	}

	var (
		entries []walEntry
		highLSN uint64
	)
	for {
		var head [walRecordHead]byte
		if _, err := io.ReadFull(f, head[:]); err != nil {
			break
		}
		lsn := binary.BigEndian.Uint64(head[0:8])
		payloadLen := binary.BigEndian.Uint32(head[8:12])
		if payloadLen > walMaxPayload {
			w.logger.Warn("queue: wal corrupted payload length", "path", path, "lsn", lsn)
			break
		}
		payload := make([]byte, payloadLen)
		if _, err := io.ReadFull(f, payload); err != nil {
			break
		}
		var crcBuf [walCRCSize]byte
		if _, err := io.ReadFull(f, crcBuf[:]); err != nil {
			break
		}
		h := crc32.New(crc32cTable)
		_, _ = h.Write(head[:])
		_, _ = h.Write(payload)
		if h.Sum32() != binary.BigEndian.Uint32(crcBuf[:]) {
			w.logger.Warn("queue: wal crc mismatch", "path", path, "lsn", lsn)
			break
		}
		var e walEntry
		if err := json.Unmarshal(payload, &e); err != nil {
			w.logger.Warn("queue: wal corrupted entry", "path", path, "lsn", lsn, "error", err)
			break
		}
		entries = append(entries, e)
		highLSN = max(highLSN, lsn)
	}
	return entries, highLSN, nil
}

func (w *WAL) syncLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer close(w.syncDone)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.mu.Lock()
			if w.current != nil && !w.closed {
				if err := w.current.Sync(); err != nil {
					w.logger.Warn("queue: wal batch sync failed", "error", err)
				}
			}
			w.mu.Unlock()
		}
	}
}

func (w *WAL) registerMetrics() {
	meter := telemetry.Meter("omomi/queue")
	_, _ = meter.Int64ObservableGauge("omomi.queue.wal.segment_count",
		metric.WithDescription("Live segment files of the file-backed event queue"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(w.SegmentCount()))
			return nil
		}),
	)
}
