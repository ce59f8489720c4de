package session

import (
	"context"
	"strconv"

	"github.com/go-pantheon/fabrica-dbgp/communicator"
	"github.com/go-pantheon/fabrica-dbgp/protocol"
	"github.com/go-pantheon/fabrica-util/errors"
)

var ErrNotSucceeded = errors.New("dbgp: engine reported failure")

// Status is the engine state returned by status and continuation commands.
type Status struct {
	Status string
	Reason string
}

func (s Status) Stopped() bool {
	return s.Status == "stopping" || s.Status == "stopped"
}

// StreamMode selects how stdout or stderr of the debugged program is handled.
type StreamMode int

const (
	StreamDisable StreamMode = iota
	StreamCopy
	StreamRedirect
)

type BreakpointType string

const (
	BreakpointLine        BreakpointType = "line"
	BreakpointCall        BreakpointType = "call"
	BreakpointReturn      BreakpointType = "return"
	BreakpointException   BreakpointType = "exception"
	BreakpointConditional BreakpointType = "conditional"
	BreakpointWatch       BreakpointType = "watch"
)

// BreakpointRequest describes a breakpoint to set. Zero fields are omitted
// from the command.
type BreakpointRequest struct {
	Type         BreakpointType
	Disabled     bool
	Filename     string
	Lineno       int
	Function     string
	Exception    string
	HitValue     int
	HitCondition string
	Temporary    bool
	Expression   string
}

type BreakpointUpdate struct {
	Disabled     *bool
	Lineno       int
	HitValue     int
	HitCondition string
}

// PropertyRequest addresses a property. Depth and ContextID default to the
// current frame and the local context.
type PropertyRequest struct {
	Name      string
	Depth     int
	ContextID int
	MaxData   int
	Page      int
	Key       string
	Type      string
}

func (r PropertyRequest) apply(c *protocol.Command) *protocol.Command {
	c.Set("n", r.Name)

	if r.Depth > 0 {
		c.SetInt("d", r.Depth)
	}

	if r.ContextID > 0 {
		c.SetInt("c", r.ContextID)
	}

	if r.MaxData > 0 {
		c.SetInt("m", r.MaxData)
	}

	if r.Page > 0 {
		c.SetInt("p", r.Page)
	}

	return c.SetIf("k", r.Key)
}

// Core groups the commands every engine implements.
type Core struct {
	comm *communicator.Communicator
}

func (c Core) Status(ctx context.Context) (Status, error) {
	return c.continuation(ctx, "status")
}

func (c Core) Run(ctx context.Context) (Status, error) {
	return c.continuation(ctx, "run")
}

func (c Core) StepInto(ctx context.Context) (Status, error) {
	return c.continuation(ctx, "step_into")
}

func (c Core) StepOver(ctx context.Context) (Status, error) {
	return c.continuation(ctx, "step_over")
}

func (c Core) StepOut(ctx context.Context) (Status, error) {
	return c.continuation(ctx, "step_out")
}

func (c Core) Stop(ctx context.Context) (Status, error) {
	return c.continuation(ctx, "stop")
}

func (c Core) Detach(ctx context.Context) (Status, error) {
	return c.continuation(ctx, "detach")
}

func (c Core) continuation(ctx context.Context, name string) (Status, error) {
	resp, err := c.comm.Communicate(ctx, protocol.NewCommand(name))
	if err != nil {
		return Status{}, err
	}

	return Status{Status: resp.Status, Reason: resp.Reason}, nil
}

// FeatureGet returns the feature value and whether the engine supports it.
func (c Core) FeatureGet(ctx context.Context, name string) (string, bool, error) {
	resp, err := c.comm.Communicate(ctx, protocol.NewCommand("feature_get").Set("n", name))
	if err != nil {
		return "", false, err
	}

	v, err := resp.Text()
	if err != nil {
		return "", false, err
	}

	return v, resp.IsSupported(), nil
}

func (c Core) FeatureSet(ctx context.Context, name, value string) error {
	resp, err := c.comm.Communicate(ctx, protocol.NewCommand("feature_set").Set("n", name).Set("v", value))
	if err != nil {
		return err
	}

	return succeeded(resp)
}

// BreakpointSet returns the id the engine assigned to the breakpoint.
func (c Core) BreakpointSet(ctx context.Context, bp BreakpointRequest) (string, error) {
	if bp.Type == "" {
		bp.Type = BreakpointLine
	}

	cmd := protocol.NewCommand("breakpoint_set").Set("t", string(bp.Type))

	if bp.Disabled {
		cmd.Set("s", "disabled")
	}

	cmd.SetIf("f", bp.Filename)

	if bp.Lineno > 0 {
		cmd.SetInt("n", bp.Lineno)
	}

	cmd.SetIf("m", bp.Function).SetIf("x", bp.Exception)

	if bp.HitValue > 0 {
		cmd.SetInt("h", bp.HitValue)
	}

	cmd.SetIf("o", bp.HitCondition)

	if bp.Temporary {
		cmd.Set("r", "1")
	}

	if bp.Expression != "" {
		cmd.SetData([]byte(bp.Expression))
	}

	resp, err := c.comm.Communicate(ctx, cmd)
	if err != nil {
		return "", err
	}

	return resp.ID, nil
}

func (c Core) BreakpointGet(ctx context.Context, id string) (protocol.Breakpoint, error) {
	resp, err := c.comm.Communicate(ctx, protocol.NewCommand("breakpoint_get").Set("d", id))
	if err != nil {
		return protocol.Breakpoint{}, err
	}

	if len(resp.Breakpoints) == 0 {
		return protocol.Breakpoint{}, errors.Errorf("breakpoint %s missing from response", id)
	}

	return resp.Breakpoints[0], nil
}

func (c Core) BreakpointUpdate(ctx context.Context, id string, u BreakpointUpdate) error {
	cmd := protocol.NewCommand("breakpoint_update").Set("d", id)

	if u.Disabled != nil {
		if *u.Disabled {
			cmd.Set("s", "disabled")
		} else {
			cmd.Set("s", "enabled")
		}
	}

	if u.Lineno > 0 {
		cmd.SetInt("n", u.Lineno)
	}

	if u.HitValue > 0 {
		cmd.SetInt("h", u.HitValue)
	}

	cmd.SetIf("o", u.HitCondition)

	_, err := c.comm.Communicate(ctx, cmd)

	return err
}

func (c Core) BreakpointRemove(ctx context.Context, id string) error {
	_, err := c.comm.Communicate(ctx, protocol.NewCommand("breakpoint_remove").Set("d", id))
	return err
}

func (c Core) BreakpointList(ctx context.Context) ([]protocol.Breakpoint, error) {
	resp, err := c.comm.Communicate(ctx, protocol.NewCommand("breakpoint_list"))
	if err != nil {
		return nil, err
	}

	return resp.Breakpoints, nil
}

func (c Core) StackDepth(ctx context.Context) (int, error) {
	resp, err := c.comm.Communicate(ctx, protocol.NewCommand("stack_depth"))
	if err != nil {
		return 0, err
	}

	return resp.Depth, nil
}

// StackGet returns one frame, or the whole stack when depth is negative.
func (c Core) StackGet(ctx context.Context, depth int) ([]protocol.StackLevel, error) {
	cmd := protocol.NewCommand("stack_get")
	if depth >= 0 {
		cmd.SetInt("d", depth)
	}

	resp, err := c.comm.Communicate(ctx, cmd)
	if err != nil {
		return nil, err
	}

	return resp.Stack, nil
}

func (c Core) ContextNames(ctx context.Context, depth int) ([]protocol.Context, error) {
	resp, err := c.comm.Communicate(ctx, protocol.NewCommand("context_names").SetInt("d", depth))
	if err != nil {
		return nil, err
	}

	return resp.Contexts, nil
}

func (c Core) ContextGet(ctx context.Context, contextID, depth int) ([]protocol.Property, error) {
	cmd := protocol.NewCommand("context_get").SetInt("d", depth).SetInt("c", contextID)

	resp, err := c.comm.Communicate(ctx, cmd)
	if err != nil {
		return nil, err
	}

	return resp.Properties, nil
}

func (c Core) TypemapGet(ctx context.Context) ([]protocol.TypeMap, error) {
	resp, err := c.comm.Communicate(ctx, protocol.NewCommand("typemap_get"))
	if err != nil {
		return nil, err
	}

	return resp.Types, nil
}

func (c Core) PropertyGet(ctx context.Context, r PropertyRequest) (*protocol.Property, error) {
	resp, err := c.comm.Communicate(ctx, r.apply(protocol.NewCommand("property_get")))
	if err != nil {
		return nil, err
	}

	if len(resp.Properties) == 0 {
		return nil, errors.Errorf("property %s missing from response", r.Name)
	}

	return &resp.Properties[0], nil
}

func (c Core) PropertySet(ctx context.Context, r PropertyRequest, value []byte) error {
	cmd := r.apply(protocol.NewCommand("property_set")).SetIf("t", r.Type)
	cmd.Set("l", strconv.Itoa(len(value))).SetData(value)

	resp, err := c.comm.Communicate(ctx, cmd)
	if err != nil {
		return err
	}

	return succeeded(resp)
}

func (c Core) PropertyValue(ctx context.Context, r PropertyRequest) (string, error) {
	resp, err := c.comm.Communicate(ctx, r.apply(protocol.NewCommand("property_value")))
	if err != nil {
		return "", err
	}

	return resp.Text()
}

// Source returns the file contents between lines begin and end. Zero
// bounds select the start or the end of the file.
func (c Core) Source(ctx context.Context, fileURI string, begin, end int) (string, error) {
	cmd := protocol.NewCommand("source").SetIf("f", fileURI)

	if begin > 0 {
		cmd.SetInt("b", begin)
	}

	if end > 0 {
		cmd.SetInt("e", end)
	}

	resp, err := c.comm.Communicate(ctx, cmd)
	if err != nil {
		return "", err
	}

	if resp.Success == "0" {
		return "", errors.Wrapf(ErrNotSucceeded, "source %s", fileURI)
	}

	return resp.Text()
}

func (c Core) Stdout(ctx context.Context, mode StreamMode) error {
	return c.stream(ctx, "stdout", mode)
}

func (c Core) Stderr(ctx context.Context, mode StreamMode) error {
	return c.stream(ctx, "stderr", mode)
}

func (c Core) stream(ctx context.Context, name string, mode StreamMode) error {
	resp, err := c.comm.Communicate(ctx, protocol.NewCommand(name).SetInt("c", int(mode)))
	if err != nil {
		return err
	}

	return succeeded(resp)
}

func succeeded(resp *protocol.Response) error {
	if !resp.Succeeded() {
		return errors.Wrapf(ErrNotSucceeded, "%s txid=%d", resp.Command, resp.TransactionID)
	}

	return nil
}
