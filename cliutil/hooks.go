package cliutil

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sdboyer/constext"
)

// HookTimeout bounds a single hook invocation; a hook that never exits
// still respects the driver's own cancellation (spec §5 "Cancellation").
const HookTimeout = 5 * time.Minute

// RunHook invokes name (e.g. "prerestore", "postrestore", "prepare")
// looked up in commands, expanding it through the variable grammar, and
// runs it in dir. A non-zero exit aborts with the hook's stderr (spec §4.6
// steps 3/9, §7 "Hook (pre/post/prepare) non-zero exit: fatal; surface
// hook's error output"). Missing hooks are a no-op.
func RunHook(ctx context.Context, name, dir string, commands map[string]string, vars map[string]string) error {
	command, ok := commands[name]
	if !ok || strings.TrimSpace(command) == "" {
		return nil
	}

	app, args, err := ExpandCommand(command, vars)
	if err != nil {
		return errors.Wrapf(err, "hook %s", name)
	}

	timeoutCtx, cancelTimeout := context.WithTimeout(context.Background(), HookTimeout)
	defer cancelTimeout()
	runCtx, cancelRun := constext.Cons(ctx, timeoutCtx)
	defer cancelRun()

	cmd := exec.CommandContext(runCtx, app, args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "hook %s failed: %s", name, strings.TrimSpace(stderr.String()))
	}
	return nil
}
