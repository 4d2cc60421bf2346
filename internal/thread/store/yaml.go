package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/coday/coday/internal/common/logger"
	"github.com/coday/coday/internal/events"
)

// threadDocument is the on-disk YAML shape.
type threadDocument struct {
	ThreadID string    `yaml:"threadId"`
	Project  string    `yaml:"project"`
	Messages []Message `yaml:"messages"`
}

// YAMLStore persists thread messages as <baseDir>/<project>/<threadId>.yaml.
type YAMLStore struct {
	baseDir string
	mu      sync.Mutex
	logger  *logger.Logger
}

// NewYAMLStore creates the store rooted at baseDir, creating it if missing.
func NewYAMLStore(baseDir string, log *logger.Logger) (*YAMLStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create threads dir: %w", err)
	}
	return &YAMLStore{baseDir: baseDir, logger: log}, nil
}

func (s *YAMLStore) path(project, threadID string) string {
	// Thread and project names come from URL parameters; keep them from
	// escaping the base directory.
	clean := func(name string) string {
		return strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(name)
	}
	return filepath.Join(s.baseDir, clean(project), clean(threadID)+".yaml")
}

func (s *YAMLStore) load(project, threadID string) (*threadDocument, error) {
	data, err := os.ReadFile(s.path(project, threadID))
	if err != nil {
		if os.IsNotExist(err) {
			return &threadDocument{ThreadID: threadID, Project: project}, nil
		}
		return nil, fmt.Errorf("read thread file: %w", err)
	}

	var doc threadDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse thread file: %w", err)
	}
	return &doc, nil
}

func (s *YAMLStore) save(doc *threadDocument) error {
	path := s.path(doc.Project, doc.ThreadID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create project dir: %w", err)
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal thread file: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write thread file: %w", err)
	}
	return os.Rename(tmp, path)
}

// AppendMessage appends a message to the thread, creating the file if needed.
func (s *YAMLStore) AppendMessage(ctx context.Context, project, threadID string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(project, threadID)
	if err != nil {
		return err
	}
	doc.Messages = append(doc.Messages, msg)
	return s.save(doc)
}

// Messages returns all messages of the thread in append order.
func (s *YAMLStore) Messages(ctx context.Context, project, threadID string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(project, threadID)
	if err != nil {
		return nil, err
	}
	out := make([]Message, len(doc.Messages))
	copy(out, doc.Messages)
	return out, nil
}

// GetMessage returns a single message by id.
func (s *YAMLStore) GetMessage(ctx context.Context, project, threadID, id string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(project, threadID)
	if err != nil {
		return Message{}, err
	}
	for _, msg := range doc.Messages {
		if msg.ID == id {
			return msg, nil
		}
	}
	return Message{}, ErrMessageNotFound
}

// TruncateAt removes the identified user message and everything after it.
func (s *YAMLStore) TruncateAt(ctx context.Context, project, threadID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(project, threadID)
	if err != nil {
		return err
	}

	index := -1
	for i, msg := range doc.Messages {
		if msg.ID == id {
			index = i
			break
		}
	}
	if index == -1 {
		return ErrMessageNotFound
	}
	if doc.Messages[index].Role != events.RoleUser {
		return ErrNotUserMessage
	}
	if index == 0 {
		return ErrFirstMessage
	}

	doc.Messages = doc.Messages[:index]
	return s.save(doc)
}
