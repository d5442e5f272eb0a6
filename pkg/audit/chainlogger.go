// Package audit provides a tamper-evident operation log: every entry is
// hash-chained to its predecessor, so any rewrite of history breaks the chain.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
)

// LogEntry is a single chained entry.
type LogEntry struct {
	Seq          uint64 `json:"seq"`
	Timestamp    string `json:"timestamp"`
	PreviousHash string `json:"previous_hash"`
	Payload      string `json:"payload"`
	Hash         string `json:"hash"`
}

// ChainLogger appends hash-chained entries. Safe for concurrent use.
type ChainLogger struct {
	mu           sync.Mutex
	seq          uint64
	previousHash string
	entries      []*LogEntry
}

// NewChainLogger starts a chain anchored at the zero hash.
func NewChainLogger() *ChainLogger {
	return &ChainLogger{previousHash: strings.Repeat("0", 64)}
}

// Append adds a new entry to the chain and returns it.
func (c *ChainLogger) Append(payload string) *LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	entry := &LogEntry{
		Seq:          c.seq,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		PreviousHash: c.previousHash,
		Payload:      payload,
	}
	entry.Hash = entryHash(entry)

	c.previousHash = entry.Hash
	c.entries = append(c.entries, entry)
	return entry
}

// Entries returns a snapshot of the chain so far.
func (c *ChainLogger) Entries() []*LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*LogEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// VerifyChain reports whether entries form an unbroken hash chain.
func VerifyChain(entries []*LogEntry) bool {
	prev := strings.Repeat("0", 64)
	for _, entry := range entries {
		if entry.PreviousHash != prev {
			return false
		}
		if entryHash(entry) != entry.Hash {
			return false
		}
		prev = entry.Hash
	}
	return true
}

func entryHash(e *LogEntry) string {
	input := fmt.Sprintf("%d|%s|%s|%s", e.Seq, e.PreviousHash, e.Timestamp, e.Payload)
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}
