// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package workspace

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Level is the severity column of a transcript line.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
	LevelEvent Level = "EVENT"
)

// AppendLog appends one timestamped line to the session transcript. The
// transcript is for audit only; nothing reads it to make decisions.
func (s *Store) AppendLog(id string, level Level, message string) error {
	path, err := s.Path(id, TranscriptFile)
	if err != nil {
		return err
	}
	line := fmt.Sprintf("%s %-5s %s\n",
		s.now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		string(level),
		strings.ReplaceAll(strings.TrimSpace(message), "\n", " "),
	)

	s.logMu.Lock()
	defer s.logMu.Unlock()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening transcript: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("appending transcript: %w", err)
	}
	return nil
}

// Transcript returns up to maxLines of the most recent transcript lines.
func (s *Store) Transcript(id string, maxLines int) ([]string, error) {
	path, err := s.Path(id, TranscriptFile)
	if err != nil {
		return nil, err
	}
	s.logMu.Lock()
	defer s.logMu.Unlock()
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if maxLines > 0 && len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return lines, nil
}
