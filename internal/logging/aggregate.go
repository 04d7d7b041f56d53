package logging

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Entry is one parsed debug.log record.
type Entry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"msg"`
	TaskID  string         `json:"task_id,omitempty"`
	Turn    int            `json:"turn,omitempty"`
	Phase   string         `json:"phase,omitempty"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// Filter selects entries. Zero-valued fields match everything; set fields
// are combined with AND.
type Filter struct {
	Level    string
	TaskID   string
	Turn     int
	Phase    string
	Contains string
	Since    time.Time
}

var levelOrder = map[string]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ReadEntries parses {dir}/debug.log. Lines that are not JSON are skipped.
// Entries are returned in timestamp order.
func ReadEntries(dir string) ([]Entry, error) {
	f, err := os.Open(filepath.Join(dir, LogFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no log file in %s: %w", dir, err)
		}
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		entry, err := parseEntry(line)
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading log file: %w", err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Time.Before(entries[j].Time)
	})
	return entries, nil
}

func parseEntry(line string) (Entry, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return Entry{}, err
	}

	e := Entry{Attrs: map[string]any{}}
	for k, v := range raw {
		switch k {
		case "time":
			if s, ok := v.(string); ok {
				e.Time, _ = time.Parse(time.RFC3339Nano, s)
			}
		case "level":
			e.Level, _ = v.(string)
		case "msg":
			e.Message, _ = v.(string)
		case "task_id":
			e.TaskID, _ = v.(string)
		case "turn":
			if n, ok := v.(float64); ok {
				e.Turn = int(n)
			}
		case "phase":
			e.Phase, _ = v.(string)
		default:
			e.Attrs[k] = v
		}
	}
	return e, nil
}

// Apply returns the entries matching f.
func (f Filter) Apply(entries []Entry) []Entry {
	var out []Entry
	for _, e := range entries {
		if f.matches(e) {
			out = append(out, e)
		}
	}
	return out
}

func (f Filter) matches(e Entry) bool {
	if f.Level != "" {
		want, ok1 := levelOrder[strings.ToUpper(f.Level)]
		got, ok2 := levelOrder[e.Level]
		if ok1 && ok2 && got < want {
			return false
		}
	}
	if f.TaskID != "" && e.TaskID != f.TaskID {
		return false
	}
	if f.Turn > 0 && e.Turn != f.Turn {
		return false
	}
	if f.Phase != "" && e.Phase != f.Phase {
		return false
	}
	if f.Contains != "" && !strings.Contains(e.Message, f.Contains) {
		return false
	}
	if !f.Since.IsZero() && e.Time.Before(f.Since) {
		return false
	}
	return true
}

// WriteText renders entries one per line:
// [time] LEVEL msg (task=..., turn=..., phase=...) {attrs}
func WriteText(w io.Writer, entries []Entry) error {
	for _, e := range entries {
		var b strings.Builder
		fmt.Fprintf(&b, "[%s] %-5s %s", e.Time.Format("2006-01-02 15:04:05.000"), e.Level, e.Message)

		var ctx []string
		if e.TaskID != "" {
			ctx = append(ctx, "task="+e.TaskID)
		}
		if e.Turn > 0 {
			ctx = append(ctx, fmt.Sprintf("turn=%d", e.Turn))
		}
		if e.Phase != "" {
			ctx = append(ctx, "phase="+e.Phase)
		}
		if len(ctx) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(ctx, ", "))
		}
		if len(e.Attrs) > 0 {
			attrs, _ := json.Marshal(e.Attrs)
			b.WriteString(" ")
			b.Write(attrs)
		}
		b.WriteString("\n")

		if _, err := io.WriteString(w, b.String()); err != nil {
			return err
		}
	}
	return nil
}
