package session

import (
	"context"
	"strconv"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-pantheon/fabrica-dbgp/protocol"
	"google.golang.org/grpc/metadata"
)

const KindDBGp transport.Kind = "dbgp"

// Header keys set on inbound packets before they reach the read filter.
const (
	HeaderSession       = "x-dbgp-session"
	HeaderApplicationID = "x-dbgp-appid"
	HeaderIDEKey        = "x-dbgp-idekey"
	HeaderTransaction   = "x-dbgp-txid"
)

var _ transport.Transporter = (*Transport)(nil)

// Transport describes one inbound packet to kratos middleware.
type Transport struct {
	endpoint      string
	operation     string
	requestHeader HeaderCarrier
	replyHeader   HeaderCarrier
}

func newTransport(s *Session, pkt protocol.Packet) *Transport {
	header := HeaderCarrier(metadata.Pairs(
		HeaderSession, strconv.FormatUint(s.id, 10),
		HeaderApplicationID, s.info.ApplicationID,
		HeaderIDEKey, s.info.IDEKey,
	))

	op := string(pkt.Kind())

	switch p := pkt.(type) {
	case *protocol.Response:
		op += "/" + p.Command
		header.Set(HeaderTransaction, strconv.Itoa(p.TransactionID))
	case *protocol.Notify:
		op += "/" + p.Name
	case *protocol.Stream:
		op += "/" + p.Type
	}

	return &Transport{
		endpoint:      s.RemoteAddr(),
		operation:     op,
		requestHeader: header,
		replyHeader:   HeaderCarrier(metadata.MD{}),
	}
}

// TraceFilter is a read filter logging every inbound packet at debug level.
func TraceFilter() middleware.Middleware {
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req any) (any, error) {
			if tr, ok := transport.FromServerContext(ctx); ok {
				h := tr.RequestHeader()
				log.Debugf("[session] %s recv %s appid=%s txid=%s",
					h.Get(HeaderSession), tr.Operation(), h.Get(HeaderApplicationID), h.Get(HeaderTransaction))
			}

			return handler(ctx, req)
		}
	}
}

func (tr *Transport) Kind() transport.Kind {
	return KindDBGp
}

// Endpoint is the engine's remote address.
func (tr *Transport) Endpoint() string {
	return tr.endpoint
}

// Operation is the packet kind, followed by the command, notification or
// stream name, e.g. "response/run" or "notify/breakpoint_resolved".
func (tr *Transport) Operation() string {
	return tr.operation
}

func (tr *Transport) RequestHeader() transport.Header {
	return tr.requestHeader
}

func (tr *Transport) ReplyHeader() transport.Header {
	return tr.replyHeader
}

// HeaderCarrier is a wrapper around metadata.MD.
type HeaderCarrier metadata.MD

func (mc HeaderCarrier) Get(key string) string {
	vals := metadata.MD(mc).Get(key)
	if len(vals) > 0 {
		return vals[0]
	}

	return ""
}

func (mc HeaderCarrier) Set(key string, value string) {
	metadata.MD(mc).Set(key, value)
}

func (mc HeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(mc))
	for k := range metadata.MD(mc) {
		keys = append(keys, k)
	}

	return keys
}

func (mc HeaderCarrier) Add(key string, value string) {
	metadata.MD(mc).Append(key, value)
}

func (mc HeaderCarrier) Values(key string) []string {
	return metadata.MD(mc).Get(key)
}
