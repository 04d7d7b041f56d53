// Package artifact resolves and persists the turn-scoped JSON reports that
// carry all data between the engine, the Player and the Coach.
//
// Every task owns one directory, <root>/<namespace>/<taskID>/, containing:
//
//	player_turn_<N>.json     Player report for turn N
//	coach_turn_<N>.json      Coach decision for turn N
//	task_work_results.json   consolidated quality-gate claims
//	security_review.json     security scan findings
//	checkpoints.json         checkpoint history
//	design_results.json      pre-loop design gate output
//	summary.json             final run summary
//
// The Store is safe for concurrent use by goroutines working on different
// tasks. Writes are atomic: readers never observe a partially written file.
package artifact

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/autobuild/internal/errors"
)

// DefaultNamespace is the directory under the workspace root holding all
// task artifact directories.
const DefaultNamespace = ".autobuild"

// archiveDir holds the artifacts of earlier runs, one directory per task and
// run. The leading dot keeps it out of Tasks.
const archiveDir = ".archive"

// Kind identifies one artifact file in a task directory.
type Kind int

const (
	KindPlayerReport Kind = iota
	KindCoachDecision
	KindTaskWorkResults
	KindSecurityReview
	KindCheckpoints
	KindDesignResults
	KindSummary
)

var kindNames = map[Kind]string{
	KindPlayerReport:    "player_turn",
	KindCoachDecision:   "coach_turn",
	KindTaskWorkResults: "task_work_results",
	KindSecurityReview:  "security_review",
	KindCheckpoints:     "checkpoints",
	KindDesignResults:   "design_results",
	KindSummary:         "summary",
}

// String returns the file stem for the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// TurnScoped reports whether a distinct file exists for each turn.
func (k Kind) TurnScoped() bool {
	return k == KindPlayerReport || k == KindCoachDecision
}

// FileName returns the file name for the kind. turn is ignored for kinds
// that are not turn-scoped.
func (k Kind) FileName(turn int) string {
	if k.TurnScoped() {
		return fmt.Sprintf("%s_%d.json", k, turn)
	}
	return k.String() + ".json"
}

// Store reads and writes artifacts on an afero filesystem.
type Store struct {
	fs        afero.Fs
	root      string
	namespace string
}

// NewStore creates a Store rooted at root. An empty namespace selects
// DefaultNamespace.
func NewStore(fs afero.Fs, root, namespace string) *Store {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Store{fs: fs, root: root, namespace: namespace}
}

// NewOSStore creates a Store on the real filesystem.
func NewOSStore(root, namespace string) *Store {
	return NewStore(afero.NewOsFs(), root, namespace)
}

// Root returns the workspace root the store resolves paths against.
func (s *Store) Root() string { return s.root }

// Fs returns the underlying filesystem.
func (s *Store) Fs() afero.Fs { return s.fs }

// BaseDir returns <root>/<namespace>.
func (s *Store) BaseDir() string {
	return filepath.Join(s.root, s.namespace)
}

// TaskDir returns the artifact directory for a task.
func (s *Store) TaskDir(taskID string) string {
	return filepath.Join(s.BaseDir(), taskID)
}

// Path returns the absolute path of an artifact.
func (s *Store) Path(kind Kind, taskID string, turn int) string {
	return filepath.Join(s.TaskDir(taskID), kind.FileName(turn))
}

// EnsureDirs creates the task's artifact directory. Calling it repeatedly is
// harmless.
func (s *Store) EnsureDirs(taskID string) error {
	if err := s.checkTaskID(taskID); err != nil {
		return err
	}
	dir := s.TaskDir(taskID)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return errors.NewEnvironmentError("artifact directory", err).WithPath(dir)
	}
	// Artifacts must never be captured by checkpoints or undone by rollback.
	ignore := filepath.Join(s.BaseDir(), ".gitignore")
	if ok, _ := afero.Exists(s.fs, ignore); !ok {
		if err := afero.WriteFile(s.fs, ignore, []byte("*\n"), 0o644); err != nil {
			return errors.NewEnvironmentError("artifact directory", err).WithPath(ignore)
		}
	}
	return nil
}

// Write encodes v as indented JSON and atomically replaces the artifact.
func (s *Store) Write(kind Kind, taskID string, turn int, v any) error {
	if err := s.checkAddress(kind, taskID, turn); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", kind, err)
	}
	data = append(data, '\n')
	return s.WriteRaw(kind, taskID, turn, data)
}

// WriteRaw atomically replaces the artifact with data as-is.
func (s *Store) WriteRaw(kind Kind, taskID string, turn int, data []byte) error {
	if err := s.checkAddress(kind, taskID, turn); err != nil {
		return err
	}
	if err := s.EnsureDirs(taskID); err != nil {
		return err
	}

	path := s.Path(kind, taskID, turn)
	tmp, err := afero.TempFile(s.fs, filepath.Dir(path), "."+kind.String()+"-*.tmp")
	if err != nil {
		return errors.NewEnvironmentError("artifact file", err).WithPath(path)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = s.fs.Remove(tmpName)
		return errors.NewEnvironmentError("artifact file", err).WithPath(path)
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmpName)
		return errors.NewEnvironmentError("artifact file", err).WithPath(path)
	}
	if err := s.fs.Rename(tmpName, path); err != nil {
		_ = s.fs.Remove(tmpName)
		return errors.NewEnvironmentError("artifact file", err).WithPath(path)
	}
	return nil
}

// Read decodes the artifact into v. A missing file yields an ArtifactError of
// kind missing, malformed JSON one of kind invalid. Markdown fences and
// typographic quotes around agent-written JSON are tolerated.
func (s *Store) Read(kind Kind, taskID string, turn int, v any) error {
	data, err := s.ReadRaw(kind, taskID, turn)
	if err != nil {
		return err
	}
	if err := decodeLenient(data, v); err != nil {
		return errors.NewArtifactError(errors.ArtifactInvalid, s.Path(kind, taskID, turn), err).
			WithTask(taskID, turn)
	}
	return nil
}

// ReadRaw returns the artifact bytes.
func (s *Store) ReadRaw(kind Kind, taskID string, turn int) ([]byte, error) {
	if err := s.checkAddress(kind, taskID, turn); err != nil {
		return nil, err
	}
	path := s.Path(kind, taskID, turn)
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewArtifactError(errors.ArtifactMissing, path, err).WithTask(taskID, turn)
		}
		return nil, errors.NewArtifactError(errors.ArtifactInvalid, path, err).WithTask(taskID, turn)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.NewArtifactError(errors.ArtifactInvalid, path, errors.New("empty file")).
			WithTask(taskID, turn)
	}
	return data, nil
}

// Exists reports whether the artifact file is present.
func (s *Store) Exists(kind Kind, taskID string, turn int) bool {
	ok, err := afero.Exists(s.fs, s.Path(kind, taskID, turn))
	return err == nil && ok
}

// Remove deletes the artifact. Removing a missing artifact is not an error.
func (s *Store) Remove(kind Kind, taskID string, turn int) error {
	err := s.fs.Remove(s.Path(kind, taskID, turn))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Reject moves a turn-scoped artifact to <kind>_<N>.rejected.json so a
// replacement can take its name. It returns the new path.
func (s *Store) Reject(kind Kind, taskID string, turn int) (string, error) {
	if err := s.checkAddress(kind, taskID, turn); err != nil {
		return "", err
	}
	if !kind.TurnScoped() {
		return "", fmt.Errorf("%s is not turn-scoped", kind)
	}
	path := s.Path(kind, taskID, turn)
	dst := strings.TrimSuffix(path, ".json") + ".rejected.json"
	if err := s.fs.Rename(path, dst); err != nil {
		return "", errors.NewEnvironmentError("artifact file", err).WithPath(path)
	}
	return dst, nil
}

// ArchiveDir returns the directory holding the archived runs of a task.
func (s *Store) ArchiveDir(taskID string) string {
	return filepath.Join(s.BaseDir(), archiveDir, taskID)
}

// Archive moves every file in the task directory to ArchiveDir(taskID)/label
// and leaves the task directory empty. A label already in use gets a numeric
// suffix. It returns the archive path, or "" when there was nothing to move.
func (s *Store) Archive(taskID, label string) (string, error) {
	if err := s.checkTaskID(taskID); err != nil {
		return "", err
	}
	if err := s.checkTaskID(label); err != nil {
		return "", err
	}
	src := s.TaskDir(taskID)
	entries, err := afero.ReadDir(s.fs, src)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", errors.NewEnvironmentError("artifact directory", err).WithPath(src)
	}
	if len(entries) == 0 {
		return "", nil
	}

	dst := filepath.Join(s.ArchiveDir(taskID), label)
	for i := 2; ; i++ {
		if ok, _ := afero.Exists(s.fs, dst); !ok {
			break
		}
		dst = filepath.Join(s.ArchiveDir(taskID), fmt.Sprintf("%s-%d", label, i))
	}

	// Copy then remove; directory renames are not portable across afero
	// backends.
	err = afero.Walk(s.fs, src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return s.fs.MkdirAll(target, 0o755)
		}
		data, err := afero.ReadFile(s.fs, path)
		if err != nil {
			return err
		}
		return afero.WriteFile(s.fs, target, data, info.Mode().Perm())
	})
	if err != nil {
		return "", errors.NewEnvironmentError("artifact archive", err).WithPath(dst)
	}
	if err := s.fs.RemoveAll(src); err != nil {
		return "", errors.NewEnvironmentError("artifact directory", err).WithPath(src)
	}
	if err := s.fs.MkdirAll(src, 0o755); err != nil {
		return "", errors.NewEnvironmentError("artifact directory", err).WithPath(src)
	}
	return dst, nil
}

// Turns lists the turn numbers with an artifact of the given turn-scoped
// kind, in ascending order.
func (s *Store) Turns(kind Kind, taskID string) ([]int, error) {
	if !kind.TurnScoped() {
		return nil, fmt.Errorf("%s is not turn-scoped", kind)
	}
	entries, err := afero.ReadDir(s.fs, s.TaskDir(taskID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var turns []int
	for _, e := range entries {
		if n, ok := ParseTurnFile(kind, e.Name()); ok {
			turns = append(turns, n)
		}
	}
	sort.Ints(turns)
	return turns, nil
}

// Tasks lists task IDs that have an artifact directory.
func (s *Store) Tasks() ([]string, error) {
	entries, err := afero.ReadDir(s.fs, s.BaseDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// ParseTurnFile extracts the turn number from a turn-scoped file name such
// as "coach_turn_3.json".
func ParseTurnFile(kind Kind, name string) (int, bool) {
	prefix := kind.String() + "_"
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".json") {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".json"))
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// KindForFile maps a file name back to its kind and turn.
func KindForFile(name string) (Kind, int, bool) {
	for k := range kindNames {
		if k.TurnScoped() {
			if n, ok := ParseTurnFile(k, name); ok {
				return k, n, true
			}
			continue
		}
		if name == k.FileName(0) {
			return k, 0, true
		}
	}
	return 0, 0, false
}

func (s *Store) checkTaskID(taskID string) error {
	if taskID == "" || strings.ContainsAny(taskID, `/\`) || taskID == "." || taskID == ".." {
		return errors.NewValidationError("invalid task id for artifact path").
			WithField("task_id").WithValue(taskID)
	}
	return nil
}

func (s *Store) checkAddress(kind Kind, taskID string, turn int) error {
	if err := s.checkTaskID(taskID); err != nil {
		return err
	}
	if _, ok := kindNames[kind]; !ok {
		return errors.NewValidationError("unknown artifact kind").WithValue(int(kind))
	}
	if kind.TurnScoped() && turn < 1 {
		return errors.NewValidationError(fmt.Sprintf("%s requires a turn number", kind)).
			WithField("turn").WithValue(turn)
	}
	return nil
}
