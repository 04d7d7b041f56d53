package artifact

import (
	"strings"
	"testing"

	"github.com/spf13/afero"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"bare object", `{"a":1}`, `{"a":1}`},
		{"fenced json", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"fenced plain", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"smart quotes", `{“a”:1}`, `{"a":1}`},
		{"surrounding prose", "Here is the report:\n{\"a\":1}\nDone.", `{"a":1}`},
		{"whitespace", "  \n{\"a\":1}\n ", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(Sanitize([]byte(tt.input))); got != tt.want {
				t.Errorf("Sanitize() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStore_ReadToleratesDecoratedJSON(t *testing.T) {
	s := NewStore(afero.NewMemMapFs(), "/ws", "")
	raw := "I wrote the report:\n```json\n{\"task_id\": \"T\", \"turn\": 1, \"tests_passed\": true}\n```\n"
	if err := s.WriteRaw(KindPlayerReport, "T", 1, []byte(raw)); err != nil {
		t.Fatal(err)
	}
	var r PlayerReport
	if err := s.Read(KindPlayerReport, "T", 1, &r); err != nil {
		t.Fatalf("Read() = %v", err)
	}
	if r.TaskID != "T" || !r.TestsPassed {
		t.Errorf("report = %+v", r)
	}
}

func TestPlayerReport_Validate(t *testing.T) {
	tests := []struct {
		name    string
		report  PlayerReport
		wantErr string
	}{
		{"valid", PlayerReport{TaskID: "T", Turn: 2, FilesModified: []string{"a.go"}}, ""},
		{"unset identity", PlayerReport{}, ""},
		{"wrong task", PlayerReport{TaskID: "X", Turn: 2}, "task_id"},
		{"wrong turn", PlayerReport{TaskID: "T", Turn: 1}, "turn is 1"},
		{"blank file", PlayerReport{FilesCreated: []string{" "}}, "files_created[0]"},
		{"promise without id", PlayerReport{CompletionPromises: []CompletionPromise{{Status: PromiseComplete}}}, "criterion_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.report.Validate("T", 2)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}
