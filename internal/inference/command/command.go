// Package command runs an external automaton learner as a child process.
//
// The request is written to the process's stdin as one JSON object and the
// response is read from stdout:
//
//	request:  {"component": "...", "traces": [["a", "b"], ...], "generalization_level": 2}
//	response: {"states": [...], "alphabet": [...], "initial": "...",
//	           "accepting": [...], "transitions": [{"from": "...", "label": "...", "to": "..."}]}
//	failure:  {"error": "..."}
//
// A non-zero exit status, unparsable output or an invalid automaton are all
// reported as engine errors attributed to the requested component.
package command

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/roach88/weave/internal/automaton"
	"github.com/roach88/weave/internal/inference"
)

// maxStderr bounds how much of the child's stderr is kept in error messages.
const maxStderr = 4096

// Response is the learner's reply.
type Response struct {
	States      []string               `json:"states"`
	Alphabet    []string               `json:"alphabet"`
	Initial     string                 `json:"initial"`
	Accepting   []string               `json:"accepting"`
	Transitions []automaton.Transition `json:"transitions"`
	Error       string                 `json:"error,omitempty"`
}

// Engine invokes Argv once per component.
type Engine struct {
	Argv []string

	// Env is appended to the child's environment when non-empty.
	Env []string

	// Dir is the child's working directory. Empty means the current one.
	Dir string
}

// New returns an engine running argv.
func New(argv ...string) *Engine {
	return &Engine{Argv: argv}
}

// Name implements inference.Engine.
func (e *Engine) Name() string {
	return "command"
}

// Infer implements inference.Engine. The child is killed when ctx is done.
func (e *Engine) Infer(ctx context.Context, req inference.Request) (*automaton.DFA, error) {
	if len(e.Argv) == 0 {
		return nil, inference.NewEngineError(req.Component, "no engine command configured", nil)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, inference.NewEngineError(req.Component, "encode request", err)
	}

	cmd := exec.CommandContext(ctx, e.Argv[0], e.Argv[1:]...)
	cmd.Dir = e.Dir
	if len(e.Env) > 0 {
		cmd.Env = append(cmd.Environ(), e.Env...)
	}
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		msg := fmt.Sprintf("%s exited with error", e.Argv[0])
		if s := tail(stderr.String()); s != "" {
			msg += ": " + s
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, inference.NewEngineError(req.Component, msg, exitErr)
		}
		return nil, inference.NewEngineError(req.Component, msg, err)
	}

	return Decode(req.Component, stdout.Bytes())
}

// Decode parses a learner response into a DFA.
func Decode(component string, data []byte) (*automaton.DFA, error) {
	var resp Response
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&resp); err != nil {
		return nil, inference.NewEngineError(component, "malformed engine response", err)
	}
	if resp.Error != "" {
		return nil, inference.NewEngineError(component, "engine reported: "+resp.Error, nil)
	}
	dfa, err := automaton.New(resp.States, resp.Alphabet, resp.Initial, resp.Accepting, resp.Transitions)
	if err != nil {
		return nil, inference.NewEngineError(component, "invalid automaton", err)
	}
	return dfa, nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxStderr {
		s = s[len(s)-maxStderr:]
	}
	return s
}
