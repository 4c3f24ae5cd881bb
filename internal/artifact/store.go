package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/stevehiehn/stepwise/internal/engine"
)

// Store writes the artifacts of one finished run.
type Store struct {
	RunID   string
	BaseDir string // <out-dir>/runs/<run_id>
}

// New creates a store for a run, rooted at outDir.
func New(runID, outDir string) (*Store, error) {
	base := filepath.Join(outDir, "runs", runID)
	if err := os.MkdirAll(filepath.Join(base, "steps"), 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact dir: %w", err)
	}
	return &Store{RunID: runID, BaseDir: base}, nil
}

// Export writes report.json, audit.json, one steps/<id>.json per record,
// log.txt/err.txt and, when handlers wrote one, history.json.
func Export(outDir string, rc *engine.RunContext, rep *engine.Report) (*Store, error) {
	s, err := New(rc.Runtime.RunID, outDir)
	if err != nil {
		return nil, err
	}
	if err := s.WriteJSON("report.json", rep); err != nil {
		return nil, err
	}
	if err := s.WriteAudit(rc.Runtime.Steps); err != nil {
		return nil, err
	}
	if err := s.WriteLogs(rc.Runtime.Log, rc.Runtime.Err); err != nil {
		return nil, err
	}
	if h, ok := rc.Scratch[engine.HistoryKey].(*engine.History); ok && len(h.Rows) > 0 {
		if err := s.WriteJSON("history.json", h); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// WriteAudit writes the record list and one file per record.
func (s *Store) WriteAudit(records []engine.StepRecord) error {
	if err := s.WriteJSON("audit.json", records); err != nil {
		return err
	}
	for _, rec := range records {
		if err := s.WriteJSON(filepath.Join("steps", stepFileName(rec.ID)), rec); err != nil {
			return err
		}
	}
	return nil
}

// WriteLogs writes the info and error buffers. Empty buffers are skipped.
func (s *Store) WriteLogs(info, errs []string) error {
	if len(info) > 0 {
		if err := s.writeFile("log.txt", strings.Join(info, "\n")+"\n"); err != nil {
			return err
		}
	}
	if len(errs) > 0 {
		if err := s.writeFile("err.txt", strings.Join(errs, "\n")+"\n"); err != nil {
			return err
		}
	}
	return nil
}

// WriteJSON writes v as indented JSON to name under the run directory.
func (s *Store) WriteJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}
	return s.writeFile(name, string(data))
}

func (s *Store) writeFile(name, content string) error {
	return os.WriteFile(filepath.Join(s.BaseDir, name), []byte(content), 0o644)
}

// stepFileName keeps a step id inside the steps directory.
func stepFileName(id string) string {
	name := strings.NewReplacer("/", "_", "\\", "_").Replace(id)
	if name == "" || name == "." || name == ".." {
		name = "_" + name
	}
	return name + ".json"
}
