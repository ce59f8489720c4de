package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFacadeCommands(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		call     func(ctx context.Context, s *Session) (any, error)
		command  string
		options  map[string]string
		data     string
		response string
		want     any
	}{
		{
			name: "breakpoint_set",
			call: func(ctx context.Context, s *Session) (any, error) {
				return s.Core().BreakpointSet(ctx, BreakpointRequest{Filename: "file:///a.php", Lineno: 12, Expression: "$x > 1"})
			},
			command:  "breakpoint_set",
			options:  map[string]string{"t": "line", "f": "file:///a.php", "n": "12"},
			data:     "$x > 1",
			response: `<response command="breakpoint_set" transaction_id="%d" state="enabled" id="1001"/>`,
			want:     "1001",
		},
		{
			name: "feature_get",
			call: func(ctx context.Context, s *Session) (any, error) {
				v, _, err := s.Core().FeatureGet(ctx, "max_depth")
				return v, err
			},
			command:  "feature_get",
			options:  map[string]string{"n": "max_depth"},
			response: `<response command="feature_get" transaction_id="%d" feature_name="max_depth" supported="1"><![CDATA[1]]></response>`,
			want:     "1",
		},
		{
			name: "stack_depth",
			call: func(ctx context.Context, s *Session) (any, error) {
				return s.Core().StackDepth(ctx)
			},
			command:  "stack_depth",
			response: `<response command="stack_depth" transaction_id="%d" depth="3"/>`,
			want:     3,
		},
		{
			name: "eval",
			call: func(ctx context.Context, s *Session) (any, error) {
				p, err := s.Extended().Eval(ctx, "1+1")
				if err != nil {
					return nil, err
				}

				return p.Text()
			},
			command:  "eval",
			data:     "1+1",
			response: `<response command="eval" transaction_id="%d"><property type="int"><![CDATA[2]]></property></response>`,
			want:     "2",
		},
		{
			name: "break",
			call: func(ctx context.Context, s *Session) (any, error) {
				return s.Extended().Break(ctx)
			},
			command:  "break",
			response: `<response command="break" transaction_id="%d" success="1" status="break" reason="ok"/>`,
			want:     Status{Status: "break", Reason: "ok"},
		},
		{
			name: "spawnpoint_set",
			call: func(ctx context.Context, s *Session) (any, error) {
				sp, err := s.Spawnpoints().Set(ctx, "file:///a.php", 7, true)
				return sp.ID, err
			},
			command:  "spawnpoint_set",
			options:  map[string]string{"f": "file:///a.php", "n": "7", "s": "enabled"},
			response: `<response command="spawnpoint_set" transaction_id="%d" state="enabled" id="s1"/>`,
			want:     "s1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s, e := newTestSession(t)

			type result struct {
				v   any
				err error
			}

			done := make(chan result, 1)

			go func() {
				v, err := tt.call(context.Background(), s)
				done <- result{v: v, err: err}
			}()

			cmd := e.next(t)
			assert.Equal(t, tt.command, cmd.Name)

			for k, want := range tt.options {
				got, ok := cmd.Get(k)
				assert.True(t, ok, "option -%s", k)
				assert.Equal(t, want, got, "option -%s", k)
			}

			if tt.data != "" {
				assert.Equal(t, tt.data, string(cmd.Data))
			}

			e.send(t, fmt.Sprintf(tt.response, cmd.TransactionID))

			select {
			case r := <-done:
				require.NoError(t, r.err)
				assert.Equal(t, tt.want, r.v)
			case <-time.After(2 * time.Second):
				require.FailNow(t, "command did not resolve")
			}
		})
	}
}

func TestBreakBypassesPendingRun(t *testing.T) {
	t.Parallel()

	s, e := newTestSession(t)

	runDone := make(chan error, 1)

	go func() {
		_, err := s.Core().Run(context.Background())
		runDone <- err
	}()

	run := e.next(t)
	require.Equal(t, "run", run.Name)

	breakDone := make(chan error, 1)

	go func() {
		_, err := s.Extended().Break(context.Background())
		breakDone <- err
	}()

	brk := e.next(t)
	require.Equal(t, "break", brk.Name)

	e.send(t, fmt.Sprintf(`<response command="break" transaction_id="%d" success="1" status="break" reason="ok"/>`, brk.TransactionID))
	require.NoError(t, <-breakDone)

	e.send(t, fmt.Sprintf(`<response command="run" transaction_id="%d" status="break" reason="ok"/>`, run.TransactionID))
	require.NoError(t, <-runDone)
}

func TestFacadeReportsFailure(t *testing.T) {
	t.Parallel()

	s, e := newTestSession(t)

	done := make(chan error, 1)

	go func() {
		done <- s.Core().FeatureSet(context.Background(), "max_depth", "5")
	}()

	cmd := e.next(t)
	e.send(t, fmt.Sprintf(`<response command="feature_set" transaction_id="%d" feature="max_depth" success="0"/>`, cmd.TransactionID))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrNotSucceeded)
	case <-time.After(2 * time.Second):
		require.FailNow(t, "feature_set did not resolve")
	}
}
