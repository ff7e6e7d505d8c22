package harness

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/actionc/internal/ir"
	"github.com/roach88/actionc/internal/pgexec"
)

// fakeInvocation records one Invoke call.
type fakeInvocation struct {
	Action string
	Caller pgexec.Caller
	Input  map[string]any
}

// fakeQuery records one QueryRows call.
type fakeQuery struct {
	SQL  string
	Args []any
}

// fakeRunner replays scripted results per action, in call order.
type fakeRunner struct {
	results map[string][]*ir.MutationResult
	rows    [][]map[string]any
	execErr error
	invErr  error
	qryErr  error

	execs       []string
	invocations []fakeInvocation
	queries     []fakeQuery
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{results: make(map[string][]*ir.MutationResult)}
}

func (f *fakeRunner) respond(action string, res *ir.MutationResult) *fakeRunner {
	f.results[action] = append(f.results[action], res)
	return f
}

func (f *fakeRunner) Exec(_ context.Context, sql string) error {
	f.execs = append(f.execs, sql)
	return f.execErr
}

func (f *fakeRunner) Invoke(_ context.Context, action string, caller pgexec.Caller, input map[string]any) (*ir.MutationResult, error) {
	f.invocations = append(f.invocations, fakeInvocation{Action: action, Caller: caller, Input: input})
	if f.invErr != nil {
		return nil, f.invErr
	}
	queue := f.results[action]
	if len(queue) == 0 {
		return nil, fmt.Errorf("no scripted result for %s", action)
	}
	f.results[action] = queue[1:]
	return queue[0], nil
}

func (f *fakeRunner) QueryRows(_ context.Context, query string, args ...any) ([]map[string]any, error) {
	f.queries = append(f.queries, fakeQuery{SQL: query, Args: args})
	if f.qryErr != nil {
		return nil, f.qryErr
	}
	if len(f.rows) == 0 {
		return nil, errors.New("no scripted rows")
	}
	out := f.rows[0]
	f.rows = f.rows[1:]
	return out, nil
}

func success(id string, data map[string]any, impacts ...ir.Impact) *ir.MutationResult {
	if impacts == nil {
		impacts = []ir.Impact{}
	}
	return &ir.MutationResult{ID: id, Status: ir.StatusSuccess, Code: ir.CodeSuccess, Data: data, Impacts: impacts}
}

func failure(code, message string) *ir.MutationResult {
	return &ir.MutationResult{Status: ir.StatusError, Code: code, Message: message, Impacts: []ir.Impact{}}
}
