package session

import (
	"context"

	"github.com/go-pantheon/fabrica-dbgp/communicator"
	"github.com/go-pantheon/fabrica-dbgp/protocol"
	"github.com/go-pantheon/fabrica-util/errors"
)

// Spawnpoints groups the spawnpoint commands of engines that start
// child sessions.
type Spawnpoints struct {
	comm *communicator.Communicator
}

func (s Spawnpoints) Set(ctx context.Context, filename string, lineno int, enabled bool) (protocol.Spawnpoint, error) {
	cmd := protocol.NewCommand("spawnpoint_set").Set("f", filename).SetInt("n", lineno).Set("s", spawnState(enabled))

	resp, err := s.comm.Communicate(ctx, cmd)
	if err != nil {
		return protocol.Spawnpoint{}, err
	}

	return protocol.Spawnpoint{ID: resp.ID, State: resp.State, Filename: filename, Lineno: lineno}, nil
}

func (s Spawnpoints) Get(ctx context.Context, id string) (protocol.Spawnpoint, error) {
	resp, err := s.comm.Communicate(ctx, protocol.NewCommand("spawnpoint_get").Set("d", id))
	if err != nil {
		return protocol.Spawnpoint{}, err
	}

	if len(resp.Spawnpoints) == 0 {
		return protocol.Spawnpoint{}, errors.Errorf("spawnpoint %s missing from response", id)
	}

	return resp.Spawnpoints[0], nil
}

func (s Spawnpoints) Update(ctx context.Context, id string, lineno int, enabled bool) error {
	cmd := protocol.NewCommand("spawnpoint_update").Set("d", id).Set("s", spawnState(enabled))
	if lineno > 0 {
		cmd.SetInt("n", lineno)
	}

	_, err := s.comm.Communicate(ctx, cmd)

	return err
}

func (s Spawnpoints) Remove(ctx context.Context, id string) error {
	_, err := s.comm.Communicate(ctx, protocol.NewCommand("spawnpoint_remove").Set("d", id))
	return err
}

func (s Spawnpoints) List(ctx context.Context) ([]protocol.Spawnpoint, error) {
	resp, err := s.comm.Communicate(ctx, protocol.NewCommand("spawnpoint_list"))
	if err != nil {
		return nil, err
	}

	return resp.Spawnpoints, nil
}

func spawnState(enabled bool) string {
	if enabled {
		return "enabled"
	}

	return "disabled"
}
