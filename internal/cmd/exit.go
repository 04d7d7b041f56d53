package cmd

import (
	"fmt"
	"io"

	"github.com/Iron-Ham/autobuild/internal/errors"
)

// Exit codes.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitNotApproved = 2
	ExitUsage       = 64
)

// notApprovedError reports runs that finished without approval. The result
// has already been printed.
type notApprovedError struct {
	count int
	total int
}

func (e *notApprovedError) Error() string {
	if e.total <= 1 {
		return "task was not approved"
	}
	return fmt.Sprintf("%d of %d tasks were not approved", e.count, e.total)
}

// ExitCode maps an error returned by Execute to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var na *notApprovedError
	if errors.As(err, &na) {
		return ExitNotApproved
	}
	var verr *errors.ValidationError
	if errors.As(err, &verr) {
		return ExitUsage
	}
	return ExitFailure
}

// ReportError prints err for the user, labeled with its severity. Not
// approved runs get no label since their result is already on screen.
func ReportError(w io.Writer, err error) {
	if err == nil {
		return
	}
	var na *notApprovedError
	if errors.As(err, &na) {
		fmt.Fprintln(w, mutedStyle.Render(err.Error()))
		return
	}

	sev := errors.GetSeverity(err)
	style := errorStyle
	if sev <= errors.SeverityWarning {
		style = warningStyle
	}
	fmt.Fprintf(w, "%s %s\n", style.Render(sev.String()+":"), err)
	if errors.IsRetryable(err) {
		fmt.Fprintln(w, mutedStyle.Render("The failure may be transient; running the command again can succeed."))
	}
	if !errors.IsUserFacing(err) && sev >= errors.SeverityError {
		fmt.Fprintln(w, mutedStyle.Render("Run with --log-level debug for details."))
	}
}
