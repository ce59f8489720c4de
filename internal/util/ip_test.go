package util

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInternalIP(t *testing.T) {
	t.Parallel()

	ip := InternalIP()

	// depends on the environment, only check the shape when present
	if ip != "" {
		parsedIP := net.ParseIP(ip)
		assert.NotNil(t, parsedIP)
		assert.NotNil(t, parsedIP.To4())
	}
}

func TestExtract(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		hostPort string
		want     string
		wantErr  error
	}{
		{
			name:     "invalid host:port",
			hostPort: "invalid",
			wantErr:  ErrInvalidHostPort,
		},
		{
			name:     "specific ip",
			hostPort: "192.168.1.1:9000",
			want:     "192.168.1.1:9000",
		},
		{
			name:     "hostname",
			hostPort: "localhost:9000",
			want:     "localhost:9000",
		},
		{
			name:     "wildcard ipv4",
			hostPort: "0.0.0.0:9000",
		},
		{
			name:     "wildcard ipv6",
			hostPort: "[::]:9000",
		},
		{
			name:     "empty host",
			hostPort: ":9000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := Extract(tt.hostPort)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)

			if tt.want != "" {
				assert.Equal(t, tt.want, got)
				return
			}

			host, port, err := net.SplitHostPort(got)
			require.NoError(t, err)
			assert.NotEmpty(t, host)
			assert.Equal(t, "9000", port)
		})
	}
}

func TestExtractUsesListenerPort(t *testing.T) {
	t.Parallel()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	defer lis.Close()

	got, err := Extract("127.0.0.1:0", lis)
	require.NoError(t, err)
	assert.Equal(t, lis.Addr().String(), got)
}

func TestIsPrivateIP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		addr string
		want bool
	}{
		{"invalid", "invalid-ip", false},
		{"empty", "", false},
		{"loopback", "127.0.0.1", false},
		{"public", "8.8.8.8", false},
		{"10/8", "10.0.0.1", true},
		{"172.16/12 low", "172.16.0.1", true},
		{"172.16/12 high", "172.31.255.255", true},
		{"below 172.16/12", "172.15.0.1", false},
		{"above 172.16/12", "172.32.0.1", false},
		{"192.168/16", "192.168.1.1", true},
		{"ipv6 loopback", "::1", false},
		{"ipv6 private", "fc00::1", true},
		{"ipv6 documentation", "2001:db8::1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, isPrivateIP(tt.addr))
		})
	}
}

func TestInterruptReadOnDone(t *testing.T) {
	t.Parallel()

	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	InterruptReadOnDone(ctx, a, "test")

	done := make(chan error, 1)

	go func() {
		_, err := a.Read(make([]byte, 1))
		done <- err
	}()

	cancel()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		require.FailNow(t, "read was not interrupted")
	}
}

func TestInterruptReadOnDoneStopped(t *testing.T) {
	t.Parallel()

	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	stop := InterruptReadOnDone(ctx, a, "test")
	assert.True(t, stop())

	cancel()

	go func() {
		_, _ = b.Write([]byte{1})
	}()

	_, err := a.Read(make([]byte, 1))
	assert.NoError(t, err)
}

func TestBoundWriteTimeout(t *testing.T) {
	t.Parallel()

	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	release := BoundWrite(context.Background(), a, 20*time.Millisecond, "test")
	defer release()

	_, err := a.Write([]byte("x"))
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
}

func TestBoundWriteCancelled(t *testing.T) {
	t.Parallel()

	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	release := BoundWrite(ctx, a, 0, "test")

	defer release()

	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := a.Write([]byte("x"))
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
}

func TestBoundWriteReleaseClearsDeadline(t *testing.T) {
	t.Parallel()

	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	release := BoundWrite(context.Background(), a, 20*time.Millisecond, "test")
	release()

	time.Sleep(40 * time.Millisecond)

	go func() {
		_, _ = b.Read(make([]byte, 1))
	}()

	_, err := a.Write([]byte("x"))
	assert.NoError(t, err)
}
