// Package guide registers the LCA calculation guidance surface: a
// static resource and prompt, optionally backed by a watched directory
// of guidance documents so edits show up without a restart.
package guide

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// GuidanceURI is the canonical resource URI of the calculation guide.
const GuidanceURI = "resource://openlca"

const defaultGuidance = `The workflow to perform LCA calculations using the MCP tool is as follows:
            1. Use the OpenLCA_List_LCIA_Methods_Tool to list all LCIA (Life Cycle Impact Assessment) method UUIDs and their corresponding names.
            2. Use the OpenLCA_List_System_Processes_Tool to list all system process UUIDs and their corresponding names.
            3. Use the OpenLCA_Impact_Assessment_Tool to perform LCA calculations.`

const promptText = `I am an expert in Life Cycle Assessment (LCA) and use the MCP tool to perform LCA calculations.
            The workflow is as follows:
            1. Use the OpenLCA_List_LCIA_Methods_Tool to list all LCIA (Life Cycle Impact Assessment) method UUIDs and their corresponding names.
            2. Use the OpenLCA_List_System_Processes_Tool to list all system process UUIDs and their corresponding names.
            3. Use the OpenLCA_Impact_Assessment_Tool to perform LCA calculations.`

// Store holds the guidance text. When a docs directory is configured it
// serves the concatenated *.md and *.txt files there and refreshes them
// on filesystem changes; otherwise it serves the built-in text.
type Store struct {
	dir string
	log *slog.Logger

	mu   sync.RWMutex
	text string
}

// NewStore creates a Store. dir may be empty.
func NewStore(dir string, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	s := &Store{dir: dir, log: log, text: defaultGuidance}
	if dir != "" {
		s.reload()
	}
	return s
}

// Text returns the current guidance text.
func (s *Store) Text() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.text
}

func (s *Store) reload() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.log.Warn("guidance dir unreadable, serving built-in text", "dir", s.dir, "err", err)
		return
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".md", ".txt":
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return
	}
	sort.Strings(names)

	var parts []string
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			s.log.Warn("guidance file unreadable", "file", name, "err", err)
			continue
		}
		parts = append(parts, strings.TrimSpace(string(raw)))
	}
	if len(parts) == 0 {
		return
	}

	s.mu.Lock()
	s.text = strings.Join(parts, "\n\n")
	s.mu.Unlock()
}

// Watch reloads the guidance when files in the directory change. It
// blocks until the context ends. No-op without a directory.
func (s *Store) Watch(ctx context.Context) error {
	if s.dir == "" {
		<-ctx.Done()
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start guidance watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(s.dir); err != nil {
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				s.log.Debug("guidance changed, reloading", "file", ev.Name)
				s.reload()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("guidance watcher error", "err", err)
		}
	}
}

// Register adds the guidance resource and prompt to the server.
func Register(server *mcp.Server, store *Store) {
	server.AddResource(&mcp.Resource{
		Name:     "Guidance for LCA calculation",
		URI:      GuidanceURI,
		MIMEType: "text/plain",
	}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{{
				URI:      GuidanceURI,
				MIMEType: "text/plain",
				Text:     store.Text(),
			}},
		}, nil
	})

	server.AddPrompt(&mcp.Prompt{
		Name:        "openlca",
		Description: "The workflow for LCA calculation",
	}, func(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		return &mcp.GetPromptResult{
			Messages: []*mcp.PromptMessage{{
				Role:    "assistant",
				Content: &mcp.TextContent{Text: promptText},
			}},
		}, nil
	})
}
