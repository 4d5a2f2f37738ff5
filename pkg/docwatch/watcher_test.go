package docwatch

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeDoc(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestModifiedEventDebounced(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "notes.md")
	writeDoc(t, doc, "# v1\n")

	w, err := New(Options{Debounce: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	changes := make(chan Change, 10)
	w.Subscribe("*.md", func(c Change) { changes <- c })

	if err := w.Watch(doc); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	// A burst of writes should collapse into one notification.
	writeDoc(t, doc, "# v2\n")
	writeDoc(t, doc, "# v3\n")
	writeDoc(t, doc, "# v4 final\n")

	select {
	case c := <-changes:
		if c.Type != ChangeModified {
			t.Fatalf("type = %s, want %s", c.Type, ChangeModified)
		}
		if c.Path != doc {
			t.Fatalf("path = %s, want %s", c.Path, doc)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no change notification")
	}

	select {
	case c := <-changes:
		t.Fatalf("unexpected second notification: %+v", c)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRemovedEvent(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "gone.md")
	writeDoc(t, doc, "content\n")

	w, err := New(Options{Debounce: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	changes := make(chan Change, 10)
	w.Subscribe("", func(c Change) { changes <- c })

	if err := w.Watch(doc); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if err := os.Remove(doc); err != nil {
		t.Fatalf("remove: %v", err)
	}

	select {
	case c := <-changes:
		if c.Type != ChangeRemoved {
			t.Fatalf("type = %s, want %s", c.Type, ChangeRemoved)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no change notification")
	}
}

func TestPatternFiltersAndUnsubscribe(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "readme.txt")
	writeDoc(t, doc, "v1\n")

	w, err := New(Options{Debounce: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	mdOnly := make(chan Change, 10)
	all := make(chan Change, 10)
	w.Subscribe("*.md", func(c Change) { mdOnly <- c })
	id := w.Subscribe("*", func(c Change) { all <- c })

	if err := w.Watch(doc); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	writeDoc(t, doc, "v2\n")

	select {
	case <-all:
	case <-time.After(2 * time.Second):
		t.Fatal("wildcard subscriber saw nothing")
	}
	select {
	case c := <-mdOnly:
		t.Fatalf("*.md subscriber saw %s", c.Path)
	case <-time.After(50 * time.Millisecond):
	}

	w.Unsubscribe(id)
	writeDoc(t, doc, "v3\n")
	select {
	case c := <-all:
		t.Fatalf("unsubscribed handler saw %+v", c)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestUnwatchStopsEvents(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "doc.md")
	writeDoc(t, doc, "v1\n")

	w, err := New(Options{Debounce: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	changes := make(chan Change, 10)
	w.Subscribe("*", func(c Change) { changes <- c })

	if err := w.Watch(doc); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	w.Unwatch(doc)

	writeDoc(t, doc, "v2\n")
	select {
	case c := <-changes:
		t.Fatalf("unwatched document fired %+v", c)
	case <-time.After(150 * time.Millisecond):
	}
}
