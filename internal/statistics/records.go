package statistics

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/sunbk201/clickrelay/internal/relay"
)

const (
	dumpInterval = 5 * time.Second

	// Hosts come from the visitor's Host header, so the list is capped.
	maxResolveRecords = 1024
	resolveRecordTTL  = 24 * time.Hour
)

// ResolveRecordList keeps the most recently seen host and source pairs.
// Pairs idle for resolveRecordTTL are forgotten, as is the least recently
// seen one once maxResolveRecords is reached.
type ResolveRecordList struct {
	recordAddChan chan *ResolveRecord
	records       *expirable.LRU[string, *ResolveRecord]
	mu            sync.RWMutex

	dumpRecords []*ResolveRecord
	dumpFile    string
	dumpWriter  *bufio.Writer
}

// ResolveRecord counts resolutions for one landing host and verdict source.
type ResolveRecord struct {
	Host     string       `json:"host"`
	Source   relay.Source `json:"source"`
	Count    int          `json:"count"`
	LastSeen time.Time    `json:"last_seen"`
}

func (r *ResolveRecord) key() string {
	return r.Host + "|" + string(r.Source)
}

func NewResolveRecordList(dumpFile string) *ResolveRecordList {
	return &ResolveRecordList{
		recordAddChan: make(chan *ResolveRecord, 100),
		records:       expirable.NewLRU[string, *ResolveRecord](maxResolveRecords, nil, resolveRecordTTL),
		dumpRecords:   make([]*ResolveRecord, 0, 64),
		dumpFile:      dumpFile,
		dumpWriter:    bufio.NewWriter(nil),
	}
}

// Run drains queued records and dumps the list periodically until ctx is
// done, then dumps once more.
func (l *ResolveRecordList) Run(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(dumpInterval)
		defer ticker.Stop()

		for {
			select {
			case record := <-l.recordAddChan:
				l.Add(record)
			case <-ticker.C:
				l.Dump()
			case <-ctx.Done():
				l.drain()
				l.Dump()
				return
			}
		}
	}()
}

func (l *ResolveRecordList) drain() {
	for {
		select {
		case record := <-l.recordAddChan:
			l.Add(record)
		default:
			return
		}
	}
}

// Enqueue hands a record to the Run loop. It never blocks; records are
// dropped while the queue is full.
func (l *ResolveRecordList) Enqueue(record *ResolveRecord) {
	select {
	case l.recordAddChan <- record:
	default:
	}
}

func (l *ResolveRecordList) Add(record *ResolveRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	seen := record.LastSeen
	if seen.IsZero() {
		seen = time.Now()
	}
	if r, exists := l.records.Get(record.key()); exists {
		r.Count++
		r.LastSeen = seen
		l.records.Add(record.key(), r)
		return
	}
	l.records.Add(record.key(), &ResolveRecord{
		Host:     record.Host,
		Source:   record.Source,
		Count:    1,
		LastSeen: seen,
	})
}

// Snapshot returns a copy of the records, most frequent first.
func (l *ResolveRecordList) Snapshot() []ResolveRecord {
	l.mu.RLock()
	values := l.records.Values()
	out := make([]ResolveRecord, 0, len(values))
	for _, r := range values {
		out = append(out, *r)
	}
	l.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].key() < out[j].key()
	})
	return out
}

func (l *ResolveRecordList) Dump() {
	f, err := os.Create(l.dumpFile)
	if err != nil {
		slog.Error("os.Create", slog.Any("error", err))
		return
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Error("os.File.Close", slog.Any("error", err))
		}
	}()

	l.dumpRecords = l.dumpRecords[:0]
	l.mu.RLock()
	l.dumpRecords = append(l.dumpRecords, l.records.Values()...)
	l.mu.RUnlock()

	sort.SliceStable(l.dumpRecords, func(i, j int) bool {
		return l.dumpRecords[i].Count > l.dumpRecords[j].Count
	})

	l.dumpWriter.Reset(f)
	defer func() {
		if err := l.dumpWriter.Flush(); err != nil {
			slog.Error("bufio.Writer.Flush", slog.Any("error", err))
		}
	}()

	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, record := range l.dumpRecords {
		source := string(record.Source)
		if source == "" {
			source = "none"
		}
		_, err := fmt.Fprintf(l.dumpWriter, "%s %s %d %s\n",
			record.Host, source, record.Count, record.LastSeen.Format(time.RFC3339))
		if err != nil {
			slog.Error("Dump fmt.Fprintf", slog.Any("error", err))
		}
	}
}
