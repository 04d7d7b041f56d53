// Package prompt renders the instructions handed to the Player.
//
// Templates are embedded in the binary and may be overridden per file from
// a directory (executor.template_dir). Parsed templates live in a Cache that
// the caller owns and shares across engines.
package prompt

import (
	"bytes"
	"embed"
	"os"
	"path/filepath"
	"sync"
	"text/template"

	"github.com/Iron-Ham/autobuild/internal/artifact"
	"github.com/Iron-Ham/autobuild/internal/errors"
	"github.com/Iron-Ham/autobuild/internal/task"
)

//go:embed templates/*.tmpl
var builtin embed.FS

// Template names.
const (
	TemplatePlayer = "player"
	TemplateDesign = "design"
)

var funcs = template.FuncMap{
	"criterionID": task.CriterionID,
	"inc":         func(i int) int { return i + 1 },
}

// Cache holds parsed templates for the life of the process.
type Cache struct {
	mu        sync.RWMutex
	templates map[string]*template.Template
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{templates: make(map[string]*template.Template)}
}

// Get returns the template cached under key, parsing it with load on a miss.
func (c *Cache) Get(key string, load func() (*template.Template, error)) (*template.Template, error) {
	c.mu.RLock()
	t, ok := c.templates[key]
	c.mu.RUnlock()
	if ok {
		return t, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.templates[key]; ok {
		return t, nil
	}
	t, err := load()
	if err != nil {
		return nil, err
	}
	c.templates[key] = t
	return t, nil
}

// Len returns the number of cached templates.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.templates)
}

// Reset drops every cached template so edited overrides are picked up.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.templates = make(map[string]*template.Template)
}

// PlayerInput is the data behind one Player turn prompt.
type PlayerInput struct {
	Task     *task.Task
	Turn     int
	MaxTurns int
	// Feedback is the previous turn's Coach feedback, nil on turn 1.
	Feedback     *artifact.Feedback
	FeedbackTurn int
	// PerspectiveReset withholds Feedback on this turn.
	PerspectiveReset bool
	ReportPath       string
	ResultsPath      string
}

// DesignInput is the data behind the pre-loop design prompt.
type DesignInput struct {
	Task                  *task.Task
	DesignPath            string
	ArchitectureThreshold int
}

// Builder renders prompts from cached templates.
type Builder struct {
	cache *Cache
	dir   string
}

// NewBuilder creates a Builder. dir may be empty; a nil cache gets a
// private one.
func NewBuilder(cache *Cache, dir string) *Builder {
	if cache == nil {
		cache = NewCache()
	}
	return &Builder{cache: cache, dir: dir}
}

// Player renders the prompt for one implementation turn.
func (b *Builder) Player(in PlayerInput) (string, error) {
	if in.Task == nil {
		return "", errors.NewValidationError("player prompt needs a task")
	}
	return b.render(TemplatePlayer, in)
}

// Design renders the pre-loop design prompt.
func (b *Builder) Design(in DesignInput) (string, error) {
	if in.Task == nil {
		return "", errors.NewValidationError("design prompt needs a task")
	}
	return b.render(TemplateDesign, in)
}

func (b *Builder) render(name string, data any) (string, error) {
	t, err := b.cache.Get(b.dir+"|"+name, func() (*template.Template, error) { return b.load(name) })
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", errors.Wrapf(err, "render %s prompt", name)
	}
	return buf.String(), nil
}

// load prefers <dir>/<name>.tmpl and falls back to the embedded template.
func (b *Builder) load(name string) (*template.Template, error) {
	file := name + ".tmpl"
	var (
		src []byte
		err error
	)
	if b.dir != "" {
		src, err = os.ReadFile(filepath.Join(b.dir, file))
		if err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "read %s template", name)
		}
	}
	if src == nil {
		if src, err = builtin.ReadFile("templates/" + file); err != nil {
			return nil, errors.Wrapf(err, "read built-in %s template", name)
		}
	}
	t, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(string(src))
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s template", name)
	}
	return t, nil
}
