package artifact

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Agents write report files themselves and often decorate them: typographic
// quotes, markdown fences, or prose around the object.
var quoteReplacer = strings.NewReplacer(
	"“", `"`,
	"”", `"`,
	"„", `"`,
	"‟", `"`,
	"‘", `'`,
	"’", `'`,
	"‚", `'`,
	"‛", `'`,
	"«", `"`,
	"»", `"`,
	"＂", `"`,
)

var codeFencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*\n?(.*?)\n?```")

// Sanitize strips the usual decoration agents add around a JSON object.
// A bare object comes back with only surrounding whitespace trimmed.
func Sanitize(data []byte) []byte {
	content := quoteReplacer.Replace(string(data))

	if m := codeFencePattern.FindStringSubmatch(content); len(m) > 1 {
		content = m[1]
	}

	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "{") {
		if i := strings.Index(content, "{"); i != -1 {
			content = content[i:]
		}
	}
	if !strings.HasSuffix(content, "}") {
		if i := strings.LastIndex(content, "}"); i != -1 {
			content = content[:i+1]
		}
	}
	return []byte(strings.TrimSpace(content))
}

// decodeLenient decodes data into v, retrying once on the sanitized form.
// The original decode error is returned when both attempts fail.
func decodeLenient(data []byte, v any) error {
	err := json.Unmarshal(data, v)
	if err == nil {
		return nil
	}
	if clean := Sanitize(data); string(clean) != string(data) {
		if json.Unmarshal(clean, v) == nil {
			return nil
		}
	}
	return err
}

// Validate checks the report belongs to the given task and turn and that its
// file lists are usable.
func (r *PlayerReport) Validate(taskID string, turn int) error {
	var problems []string
	if r.TaskID != "" && r.TaskID != taskID {
		problems = append(problems, fmt.Sprintf("task_id is %q, expected %q", r.TaskID, taskID))
	}
	if r.Turn != 0 && r.Turn != turn {
		problems = append(problems, fmt.Sprintf("turn is %d, expected %d", r.Turn, turn))
	}
	for i, f := range r.FilesModified {
		if strings.TrimSpace(f) == "" {
			problems = append(problems, fmt.Sprintf("files_modified[%d] is empty", i))
		}
	}
	for i, f := range r.FilesCreated {
		if strings.TrimSpace(f) == "" {
			problems = append(problems, fmt.Sprintf("files_created[%d] is empty", i))
		}
	}
	for i, p := range r.CompletionPromises {
		if p.CriterionID == "" {
			problems = append(problems, fmt.Sprintf("completion_promises[%d] has no criterion_id", i))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("player report validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}
