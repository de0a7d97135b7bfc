package engine

import (
	"fmt"
	"strconv"
	"strings"
)

// Property names understood by GetProperty. The "leveldb." prefix is
// accepted as an alias of "rocksdb.".
const (
	PropNumEntriesActiveMemTable = "rocksdb.num-entries-active-mem-table"
	PropCurSizeActiveMemTable    = "rocksdb.cur-size-active-mem-table"
	PropEstimateNumKeys          = "rocksdb.estimate-num-keys"
	PropNumFilesAtLevel0         = "rocksdb.num-files-at-level0"
	PropTotalSSTFilesSize        = "rocksdb.total-sst-files-size"
	PropNumSnapshots             = "rocksdb.num-snapshots"
	PropOldestSnapshotSequence   = "rocksdb.oldest-snapshot-sequence"
	PropBlockCacheUsage          = "rocksdb.block-cache-usage"
	PropBlockCacheCapacity       = "rocksdb.block-cache-capacity"
	PropSSTables                 = "rocksdb.sstables"
	PropStats                    = "rocksdb.stats"
	PropDBID                     = "rocksdb.db-id"
)

// GetProperty returns the value of a named property and whether the name
// is known.
func (db *DB) GetProperty(name string) (string, bool) {
	if rest, ok := strings.CutPrefix(name, "leveldb."); ok {
		name = "rocksdb." + rest
	}
	rs, err := db.acquire(ReadOptions{})
	if err != nil {
		return "", false
	}
	defer rs.release()

	u := func(v uint64) string { return strconv.FormatUint(v, 10) }
	switch name {
	case PropNumEntriesActiveMemTable:
		return u(uint64(rs.mem.Count())), true
	case PropCurSizeActiveMemTable:
		return u(uint64(rs.mem.ApproximateMemoryUsage())), true
	case PropEstimateNumKeys:
		n := uint64(rs.mem.Count())
		for _, t := range rs.tables {
			p := t.reader.Properties()
			n += p.NumEntries - min(p.NumEntries, 2*p.NumDeletions)
		}
		return u(n), true
	case PropNumFilesAtLevel0:
		return strconv.Itoa(len(rs.tables)), true
	case PropTotalSSTFilesSize:
		var total int64
		for _, t := range rs.tables {
			total += t.size
		}
		return strconv.FormatInt(total, 10), true
	case PropNumSnapshots:
		n, _ := db.numSnapshots()
		return strconv.Itoa(n), true
	case PropOldestSnapshotSequence:
		_, oldest := db.numSnapshots()
		return u(uint64(oldest)), true
	case PropBlockCacheUsage:
		if db.cache == nil {
			return "0", true
		}
		return u(db.cache.Usage()), true
	case PropBlockCacheCapacity:
		if db.cache == nil {
			return "0", true
		}
		return u(db.cache.Capacity()), true
	case PropSSTables:
		var b strings.Builder
		for _, t := range rs.tables {
			p := t.reader.Properties()
			fmt.Fprintf(&b, "%06d.tbl: %d bytes, %d entries, %d deletions, %s\n",
				t.number, t.size, p.NumEntries, p.NumDeletions, p.Compression)
		}
		return b.String(), true
	case PropStats:
		return db.statsString(rs), true
	case PropDBID:
		return db.identity, true
	}
	return "", false
}

func (db *DB) statsString(rs *readState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "** DB Stats **\n")
	fmt.Fprintf(&b, "Sequence: %d\n", rs.seq)
	fmt.Fprintf(&b, "Writes: %d records, %d bytes\n", db.stats.writes.Load(), db.stats.writeBytes.Load())
	fmt.Fprintf(&b, "Reads: %d keys\n", db.stats.gets.Load())
	fmt.Fprintf(&b, "Flushes: %d\n", db.stats.flushes.Load())
	fmt.Fprintf(&b, "Compactions: %d\n", db.stats.compactions.Load())
	fmt.Fprintf(&b, "Memtable: %d entries, %d bytes\n", rs.mem.Count(), rs.mem.ApproximateMemoryUsage())
	fmt.Fprintf(&b, "Tables: %d\n", len(rs.tables))
	if db.cache != nil {
		hits, misses := db.cache.Stats()
		fmt.Fprintf(&b, "Block cache: %d/%d bytes, %d hits, %d misses\n",
			db.cache.Usage(), db.cache.Capacity(), hits, misses)
	}
	return b.String()
}
