package counsel

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zoobzio/capitan"
)

// FileMemory stores each conversation as a JSON-lines file under a base
// directory. Every Append writes one line holding the whole batch, so a torn
// write can only lose that batch and never half of it.
//
// Appends to the same conversation are serialized; different conversations
// never contend for a lock.
type FileMemory struct {
	dir   string
	mu    sync.Mutex
	locks map[string]*conversationLock
	log   logrus.FieldLogger
}

// conversationLock is dropped from FileMemory.locks when its last holder
// releases it.
type conversationLock struct {
	sync.RWMutex
	refs int
}

// fileRecord is one line of a conversation file.
type fileRecord struct {
	Messages []Message `json:"messages"`
	Written  time.Time `json:"written"`
}

// maxRecordSize bounds a single line when reading conversation files.
const maxRecordSize = 16 << 20

// NewFileMemory creates a file-backed memory rooted at dir, creating the
// directory if needed.
func NewFileMemory(dir string) (*FileMemory, error) {
	if dir == "" {
		dir = DefaultMemoryDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create memory directory: %w", ErrPersistence, err)
	}
	return &FileMemory{
		dir:   dir,
		locks: make(map[string]*conversationLock),
		log:   logrus.StandardLogger(),
	}, nil
}

// WithLogger sets the logger used for corrupt record warnings.
func (m *FileMemory) WithLogger(l logrus.FieldLogger) *FileMemory {
	m.log = l
	return m
}

// Dir returns the base directory.
func (m *FileMemory) Dir() string {
	return m.dir
}

// Path returns the file backing a conversation. The id is encoded so that any
// string maps to a single safe file name and distinct ids never collide.
func (m *FileMemory) Path(conversationID string) string {
	return filepath.Join(m.dir, base64.RawURLEncoding.EncodeToString([]byte(conversationID))+".jsonl")
}

func (m *FileMemory) acquire(conversationID string) *conversationLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks == nil {
		m.locks = make(map[string]*conversationLock)
	}
	l, ok := m.locks[conversationID]
	if !ok {
		l = &conversationLock{}
		m.locks[conversationID] = l
	}
	l.refs++
	return l
}

func (m *FileMemory) release(conversationID string, l *conversationLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, conversationID)
	}
}

func (m *FileMemory) lockCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

// Load implements Memory. Records that cannot be decoded are skipped with a
// warning; everything readable is returned.
func (m *FileMemory) Load(ctx context.Context, conversationID string, lastN int) ([]Message, error) {
	l := m.acquire(conversationID)
	defer m.release(conversationID, l)
	l.RLock()
	defer l.RUnlock()

	path := m.Path(conversationID)
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return []Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrPersistence, path, err)
	}
	defer f.Close()

	var all []Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordSize)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec fileRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			m.corrupt(ctx, conversationID, path, line, err)
			continue
		}
		all = append(all, rec.Messages...)
	}
	if err := scanner.Err(); err != nil {
		m.corrupt(ctx, conversationID, path, line+1, err)
	}

	return lastMessages(all, lastN), nil
}

func (m *FileMemory) corrupt(ctx context.Context, conversationID, path string, line int, err error) {
	m.log.WithFields(logrus.Fields{
		"conversation_id": conversationID,
		"path":            path,
		"line":            line,
	}).WithError(err).Warn("skipping unreadable memory record")
	capitan.Emit(ctx, MemoryCorrupt,
		FieldConversationID.Field(conversationID),
		FieldPath.Field(path),
		FieldLine.Field(line),
		FieldError.Field(err),
	)
}

// Append implements Memory.
func (m *FileMemory) Append(_ context.Context, conversationID string, messages ...Message) error {
	if len(messages) == 0 {
		return nil
	}
	line, err := json.Marshal(fileRecord{Messages: messages, Written: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("%w: encode messages: %w", ErrPersistence, err)
	}
	line = append(line, '\n')

	l := m.acquire(conversationID)
	defer m.release(conversationID, l)
	l.Lock()
	defer l.Unlock()

	path := m.Path(conversationID)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrPersistence, path, err)
	}
	defer f.Close()

	// A previous torn write may have left a line without its newline.
	terminated, err := endsWithNewline(f)
	if err != nil {
		return fmt.Errorf("%w: inspect %s: %w", ErrPersistence, path, err)
	}
	if !terminated {
		line = append([]byte{'\n'}, line...)
	}

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrPersistence, path, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("%w: sync %s: %w", ErrPersistence, path, err)
	}
	return nil
}

func endsWithNewline(f *os.File) (bool, error) {
	info, err := f.Stat()
	if err != nil {
		return false, err
	}
	if info.Size() == 0 {
		return true, nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	return last[0] == '\n', nil
}

var _ Memory = (*FileMemory)(nil)
