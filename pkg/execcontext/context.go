package execcontext

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	utilexec "k8s.io/utils/exec"
)

// Context describes how external tools are invoked: extra environment
// variables and a command prefix such as "sudo".
type Context interface {
	Envs() map[string]string
	PrependCmd() []string
}

func New(envs map[string]string, prependCmd []string) Context {
	return &execContext{
		prependCmd: prependCmd,
		envs:       envs,
	}
}

// Empty returns a Context with no environment and no prefix.
func Empty() Context {
	return New(nil, nil)
}

type execContext struct {
	envs       map[string]string
	prependCmd []string
}

// Envs implements Context.
func (c *execContext) Envs() map[string]string {
	out := make(map[string]string, len(c.envs))
	maps.Copy(out, c.envs)
	return out
}

// PrependCmd implements Context.
func (c *execContext) PrependCmd() []string {
	out := make([]string, len(c.prependCmd))
	copy(out, c.prependCmd)
	return out
}

// Argv returns the full argument vector, prefix first.
func Argv(ctx Context, cmd ...string) []string {
	return append(ctx.PrependCmd(), cmd...)
}

// EnvList returns the environment as sorted KEY=VALUE pairs.
func EnvList(ctx Context) []string {
	envs := ctx.Envs()
	out := make([]string, 0, len(envs))
	for _, k := range slices.Sorted(maps.Keys(envs)) {
		out = append(out, fmt.Sprintf("%s=%s", k, envs[k]))
	}
	return out
}

// CommandContext builds a cancellable command through runner with the
// prefix and environment of execCtx applied. When ctx is cancelled the
// process is killed.
func CommandContext(
	ctx context.Context,
	runner utilexec.Interface,
	execCtx Context,
	cmd ...string,
) utilexec.Cmd {
	argv := Argv(execCtx, cmd...)
	c := runner.CommandContext(ctx, argv[0], argv[1:]...)
	if envs := EnvList(execCtx); len(envs) > 0 {
		c.SetEnv(envs)
	}
	return c
}

func FormatCmd(ctx Context, cmd ...string) string {
	out := ""

	for _, env := range EnvList(ctx) {
		k, v, _ := strings.Cut(env, "=")
		out = fmt.Sprintf("%s%s=%q ", out, k, v)
	}

	for _, s := range ctx.PrependCmd() {
		out = safelyAppendToCmd(out, s)
	}

	for _, s := range cmd {
		out = safelyAppendToCmd(out, s)
	}

	return strings.TrimSpace(out)
}

var unquottable = map[string]struct{}{
	"&&": {},
	"||": {},
	";":  {},
	":":  {},
	"&":  {},
}

func safelyAppendToCmd(cmd string, s string) string {
	if _, ok := unquottable[s]; ok {
		return fmt.Sprintf("%s%s ", cmd, s)
	}
	return fmt.Sprintf("%s%q ", cmd, s)
}
