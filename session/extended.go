package session

import (
	"context"

	"github.com/go-pantheon/fabrica-dbgp/communicator"
	"github.com/go-pantheon/fabrica-dbgp/protocol"
)

// Extended groups the optional commands. Break is sent asynchronously so it
// can interrupt a pending run.
type Extended struct {
	comm *communicator.Communicator
}

func (e Extended) Break(ctx context.Context) (Status, error) {
	resp, err := e.comm.Communicate(ctx, protocol.NewCommand("break").SetAsync(true))
	if err != nil {
		return Status{}, err
	}

	if err := succeeded(resp); err != nil {
		return Status{}, err
	}

	return Status{Status: resp.Status, Reason: resp.Reason}, nil
}

// Stdin redirects the program's stdin to the IDE when redirect is true, and
// sends data when it is not empty.
func (e Extended) Stdin(ctx context.Context, redirect bool, data []byte) error {
	cmd := protocol.NewCommand("stdin")

	if redirect {
		cmd.Set("c", "1")
	} else {
		cmd.Set("c", "0")
	}

	if len(data) > 0 {
		cmd.SetData(data)
	}

	resp, err := e.comm.Communicate(ctx, cmd)
	if err != nil {
		return err
	}

	return succeeded(resp)
}

func (e Extended) Eval(ctx context.Context, expr string) (*protocol.Property, error) {
	return e.evaluate(ctx, "eval", expr)
}

func (e Extended) Expr(ctx context.Context, expr string) (*protocol.Property, error) {
	return e.evaluate(ctx, "expr", expr)
}

func (e Extended) Exec(ctx context.Context, code string) (*protocol.Property, error) {
	return e.evaluate(ctx, "exec", code)
}

// evaluate returns nil without error when the engine answers with no
// property, which is how statements without a value are reported.
func (e Extended) evaluate(ctx context.Context, name, code string) (*protocol.Property, error) {
	resp, err := e.comm.Communicate(ctx, protocol.NewCommand(name).SetData([]byte(code)))
	if err != nil {
		return nil, err
	}

	if len(resp.Properties) == 0 {
		return nil, nil
	}

	return &resp.Properties[0], nil
}

type InteractResult struct {
	Status string
	More   bool
	Prompt string
}

// Interact sends one line of an interactive shell. Mode 0 stops the shell.
func (e Extended) Interact(ctx context.Context, mode int, prefix string, line []byte) (InteractResult, error) {
	cmd := protocol.NewCommand("interact").SetInt("m", mode).SetIf("p", prefix)
	if line != nil {
		cmd.SetData(line)
	}

	resp, err := e.comm.Communicate(ctx, cmd)
	if err != nil {
		return InteractResult{}, err
	}

	return InteractResult{
		Status: resp.Status,
		More:   resp.More == "1",
		Prompt: resp.Prompt,
	}, nil
}
