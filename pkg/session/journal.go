package session

import (
	"bufio"
	"encoding/json"
	"os"

	"github.com/jg-phare/gshell/pkg/types"
)

const (
	journalFile = "journal.jsonl"
	maxLineSize = 10 * 1024 * 1024 // 10 MB
)

// marshalEntry encodes a SessionEntry as a single newline-terminated JSON line.
func marshalEntry(entry types.SessionEntry) ([]byte, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// appendJSONL marshals v as JSON and appends it as a single line to the file at path.
func appendJSONL(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(data)
	return err
}

// loadEntries reads all SessionEntry records from a journal file. Lines that
// fail to decode are skipped rather than aborting the read, so a truncated
// trailing line left by a crash mid-write doesn't take the rest of the
// session down with it.
func loadEntries(path string) ([]types.SessionEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // empty session
		}
		return nil, err
	}
	defer f.Close()

	var entries []types.SessionEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry types.SessionEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue // skip corrupt lines
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return entries, err
	}
	return entries, nil
}

// loadEntriesUpTo reads SessionEntry records until the one with the given
// UUID (inclusive), tolerating the same corrupt-line cases as loadEntries.
func loadEntriesUpTo(path string, uuid string) ([]types.SessionEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var entries []types.SessionEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry types.SessionEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
		if entry.UUID == uuid {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return entries, err
	}
	return entries, nil
}

// lastUUID returns the UUID of the last well-formed entry in the journal, or
// "" if the journal is empty or has no parseable entries. Used to resume the
// parentUuid chain for a session reopened after a process restart.
func lastUUID(path string) (string, error) {
	entries, err := loadEntries(path)
	if err != nil || len(entries) == 0 {
		return "", err
	}
	return entries[len(entries)-1].UUID, nil
}
