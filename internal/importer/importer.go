// Package importer turns plain-text and PDF checklists into tasks.
package importer

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"

	"github.com/kalambet/taskpilot/internal/storage"
)

const maxLineLength = 500

var (
	bulletRe   = regexp.MustCompile(`^(?:[-*+•▪◦]|\d{1,3}[.)])\s+`)
	checkboxRe = regexp.MustCompile(`^\[([ xX✓]?)\]\s*`)
)

// Item is one checklist entry.
type Item struct {
	Text string
	Done bool
}

// TaskCreator stores new tasks.
type TaskCreator interface {
	CreateTask(ctx context.Context, t storage.Task) error
}

// ParseLines reads one item per non-empty line, stripping list bullets,
// numbering and checkboxes. A checked box marks the item done.
func ParseLines(r io.Reader) ([]Item, error) {
	var items []Item
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if it, ok := parseLine(sc.Text()); ok {
			items = append(items, it)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading checklist: %w", err)
	}
	return items, nil
}

func parseLine(line string) (Item, bool) {
	s := strings.TrimSpace(line)
	s = bulletRe.ReplaceAllString(s, "")

	var it Item
	if m := checkboxRe.FindStringSubmatch(s); m != nil {
		it.Done = m[1] != "" && m[1] != " "
		s = s[len(m[0]):]
	}

	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return Item{}, false
	}
	if r := []rune(s); len(r) > maxLineLength {
		s = string(r[:maxLineLength])
	}
	it.Text = s
	return it, true
}

// Parse reads the checklist in data. Names ending in .pdf are read through
// their text layer; anything else is treated as plain text.
func Parse(name string, data []byte) ([]Item, error) {
	if strings.EqualFold(filepath.Ext(name), ".pdf") {
		return parsePDF(name, data)
	}
	return ParseLines(bytes.NewReader(data))
}

func parsePDF(name string, data []byte) ([]Item, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening pdf %s: %w", name, err)
	}
	text, err := r.GetPlainText()
	if err != nil {
		return nil, fmt.Errorf("extracting text from %s: %w", name, err)
	}
	return ParseLines(text)
}

// Importer creates tasks from checklist items. Embeddings are left to the
// backfill worker.
type Importer struct {
	store    TaskCreator
	priority storage.Priority
	logger   *slog.Logger
}

// New returns an Importer that creates tasks with the given priority.
// An invalid priority falls back to medium.
func New(store TaskCreator, priority storage.Priority) *Importer {
	if !priority.Valid() {
		priority = storage.PriorityMedium
	}
	return &Importer{
		store:    store,
		priority: priority,
		logger:   slog.Default().With("component", "importer"),
	}
}

// Import stores items as top-level tasks owned by ownerID and returns the
// ids it created, in item order. It stops at the first store error.
func (im *Importer) Import(ctx context.Context, ownerID string, items []Item) ([]string, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("owner id is required")
	}
	ids := make([]string, 0, len(items))
	for _, it := range items {
		now := time.Now().UTC()
		status := storage.StatusPending
		if it.Done {
			status = storage.StatusCompleted
		}
		t := storage.Task{
			ID:        uuid.New().String(),
			OwnerID:   ownerID,
			Text:      it.Text,
			Priority:  im.priority,
			Status:    status,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := im.store.CreateTask(ctx, t); err != nil {
			return ids, fmt.Errorf("creating task %q: %w", it.Text, err)
		}
		ids = append(ids, t.ID)
	}
	im.logger.Info("imported tasks", "owner_id", ownerID, "count", len(ids))
	return ids, nil
}
