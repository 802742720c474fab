package session

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const namesFile = "names"

// SetName records a short name for sessionID in baseDir's names file,
// appending a new "name\tuuid" line. Last write wins on lookup, so renaming
// a session is just another append rather than a rewrite of the file.
func SetName(baseDir, name, sessionID string) error {
	if strings.ContainsAny(name, "\t\n") {
		return fmt.Errorf("session name must not contain tabs or newlines")
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(baseDir, namesFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = fmt.Fprintf(f, "%s\t%s\n", name, sessionID)
	return err
}

// ResolveName looks up the session UUID last mapped to name. Returns
// ErrNameNotFound if the name has never been set.
func ResolveName(baseDir, name string) (string, error) {
	f, err := os.Open(filepath.Join(baseDir, namesFile))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNameNotFound
		}
		return "", err
	}
	defer f.Close()

	found := ""
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) != 2 {
			continue // skip corrupt lines
		}
		if parts[0] == name {
			found = parts[1]
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	if found == "" {
		return "", ErrNameNotFound
	}
	return found, nil
}
