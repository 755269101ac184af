// Command latchdb wires the buffer pool, extendible hash index, and lock
// manager together and exercises them once, replacing DaemonDB's REPL entry
// point (main.go's bufio.Scanner loop over query_parser/query_executor) with
// a fixed demo pass over the storage substrate those packages sat on top of.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"os"

	"latchdb/internal/buffer"
	"latchdb/internal/config"
	"latchdb/internal/diskmanager"
	"latchdb/internal/hashindex"
	"latchdb/internal/lockmanager"
	"latchdb/internal/logging"
	"latchdb/internal/metrics"
	"latchdb/internal/rid"
	"latchdb/internal/txn"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "latchdb:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a latchdb YAML config file")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	log, err := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputFile: cfg.Logging.OutputFile,
	})
	if err != nil {
		log = logging.Nop()
	}
	defer log.Sync()

	reg := metrics.NewRegistry()

	disk, err := diskmanager.Open(cfg.Storage.DataFile)
	if err != nil {
		return fmt.Errorf("open data file: %w", err)
	}
	defer disk.Close()

	pool := buffer.NewPool(cfg.Storage.PoolSize, cfg.Storage.NumInstances, disk, log, reg)
	table, err := hashindex.NewTable(pool, log)
	if err != nil {
		return fmt.Errorf("build hash index: %w", err)
	}

	tm := txn.NewTxnManager()
	lm := lockmanager.New(log, reg)

	transaction := tm.Begin(txn.ReadCommitted)
	log.Infow("began transaction", "txn_id", transaction.ID())

	const rowCount = 32
	for i := 0; i < rowCount; i++ {
		key := hashindex.EncodeKey(keyBytes(i))
		value := rid.RID{PageID: 100, SlotNum: uint32(i)}

		ok, err := lm.LockExclusive(transaction, value)
		if err != nil || !ok {
			return fmt.Errorf("lock row %d: ok=%v err=%w", i, ok, err)
		}

		inserted, err := table.Insert(key, value)
		if err != nil {
			return fmt.Errorf("insert row %d: %w", i, err)
		}
		log.Debugw("inserted row", "key", i, "rid", value, "inserted", inserted)
	}

	// Strict 2PL: releasing an exclusive lock moves the transaction to
	// SHRINKING, so every row lock is released only after the last acquire.
	for i := 0; i < rowCount; i++ {
		value := rid.RID{PageID: 100, SlotNum: uint32(i)}
		if !lm.Unlock(transaction, value) {
			return fmt.Errorf("unlock row %d: not held", i)
		}
	}

	if err := tm.Commit(transaction.ID()); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	if err := table.VerifyIntegrity(); err != nil {
		return fmt.Errorf("verify integrity: %w", err)
	}

	gd, err := table.GlobalDepth()
	if err != nil {
		return fmt.Errorf("read global depth: %w", err)
	}

	lookup := hashindex.EncodeKey(keyBytes(rowCount / 2))
	values, err := table.GetValues(lookup)
	if err != nil {
		return fmt.Errorf("lookup row: %w", err)
	}

	log.Infow("demo pass complete",
		"rows_inserted", rowCount,
		"global_depth", gd,
		"sample_lookup", values,
	)
	fmt.Println(reg.Summary())
	return nil
}

func keyBytes(n int) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(n))
	return b[:]
}
