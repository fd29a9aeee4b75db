package research

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStageLogger is an implementation of StageLogger that logs to a file.
// A file is created per task. The file is formatted as newline-delimited JSON.
type FileStageLogger struct {
	directory string
	mutex     sync.Mutex
}

func NewFileStageLogger(directory string) *FileStageLogger {
	return &FileStageLogger{directory: directory}
}

func (l *FileStageLogger) taskLogPath(taskID string) string {
	return filepath.Join(l.directory, fmt.Sprintf("%s.jsonl", taskID))
}

func (l *FileStageLogger) GetStageHistory(ctx context.Context, taskID string) ([]*StageLogEntry, error) {
	data, err := os.ReadFile(l.taskLogPath(taskID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var entries []*StageLogEntry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry StageLogEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, err
		}
		entries = append(entries, &entry)
	}
	return entries, scanner.Err()
}

func (l *FileStageLogger) LogStage(ctx context.Context, entry *StageLogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	l.mutex.Lock()
	defer l.mutex.Unlock()

	filePath := l.taskLogPath(entry.TaskID)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return f.Sync()
}
