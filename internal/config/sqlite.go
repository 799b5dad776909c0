package config

import (
	"bufio"
	"bytes"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// SQLiteConfig tunes the response cache database. Entries are small JSON
// documents looked up by fingerprint, so the page cache stays modest, and
// a write lost on power failure only costs one repeated request.
type SQLiteConfig struct {
	// CacheSizeKB is the page cache in KiB.
	CacheSizeKB int           `yaml:"cache_size_kb" validate:"gte=0"`
	WALMode     bool          `yaml:"wal_mode"`
	SyncLevel   string        `yaml:"sync_level" validate:"oneof=OFF NORMAL FULL EXTRA"`
	BusyTimeout time.Duration `yaml:"busy_timeout" validate:"gte=0"`
}

func defaultSQLite() SQLiteConfig {
	return SQLiteConfig{
		CacheSizeKB: cacheSizeKB(detectRAM()),
		WALMode:     true,
		SyncLevel:   "NORMAL",
		BusyTimeout: 5 * time.Second,
	}
}

// cacheSizeKB gives the page cache 1% of memory, clamped to 2..64 MiB.
// Unknown memory gets 8 MiB.
func cacheSizeKB(ramMB int) int {
	if ramMB <= 0 {
		return 8 * 1024
	}
	return min(max(ramMB/100, 2), 64) * 1024
}

// detectRAM reports usable memory in MiB: the cgroup limit when the
// process runs under one, otherwise the machine total. Zero means unknown.
func detectRAM() int {
	if data, err := os.ReadFile("/sys/fs/cgroup/memory.max"); err == nil {
		if mb := parseCgroupLimit(data); mb > 0 {
			return mb
		}
	}
	if data, err := os.ReadFile("/proc/meminfo"); err == nil {
		return parseMemTotal(data)
	}
	return 0
}

func parseCgroupLimit(data []byte) int {
	s := strings.TrimSpace(string(data))
	if s == "" || s == "max" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0
	}
	return int(n >> 20)
}

func parseMemTotal(data []byte) int {
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 || fields[0] != "MemTotal:" {
			continue
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0
		}
		return int(kb >> 10)
	}
	return 0
}

// DSNParams are the connection parameters for the go-sqlite3 driver.
func (c SQLiteConfig) DSNParams() string {
	if c.BusyTimeout <= 0 {
		return ""
	}
	return "_busy_timeout=" + strconv.FormatInt(c.BusyTimeout.Milliseconds(), 10)
}

type pragma struct {
	name  string
	value string
}

func (c SQLiteConfig) pragmas() []pragma {
	journal := "DELETE"
	if c.WALMode {
		journal = "WAL"
	}
	ps := []pragma{{"journal_mode", journal}}
	if c.SyncLevel != "" {
		ps = append(ps, pragma{"synchronous", c.SyncLevel})
	}
	if c.CacheSizeKB > 0 {
		ps = append(ps, pragma{"cache_size", strconv.Itoa(-c.CacheSizeKB)})
	}
	return ps
}

// ApplyPragmas sets the tuning on db. It must hold a single connection,
// since pragmas apply per connection.
func (c SQLiteConfig) ApplyPragmas(db *sql.DB) error {
	for _, p := range c.pragmas() {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA %s = %s", p.name, p.value)); err != nil {
			return fmt.Errorf("failed to set PRAGMA %s: %w", p.name, err)
		}
	}
	return nil
}
