package main

import (
	"context"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-pantheon/fabrica-dbgp/http/admin"
	"github.com/go-pantheon/fabrica-dbgp/protocol"
	"github.com/go-pantheon/fabrica-dbgp/server"
	"github.com/go-pantheon/fabrica-dbgp/session"
)

func newSessionHandler(hub *admin.Hub, autoRun bool) server.SessionHandler {
	return func(ctx context.Context, s *session.Session) {
		info := s.Info()
		log.Infof("[dbgpd] session %d from %s: appid=%s idekey=%s language=%s file=%s",
			s.ID(), s.RemoteAddr(), info.ApplicationID, info.IDEKey, info.Language, info.FileURI)

		hub.Track(s)

		s.Streams().AddHandler(func(p *protocol.Stream) {
			text, err := p.Text()
			if err != nil {
				log.Warnf("[dbgpd] session %d undecodable %s stream. %+v", s.ID(), p.Type, err)
				return
			}

			log.Infof("[dbgpd] session %d %s: %s", s.ID(), p.Type, text)
		})

		s.Notifications().AddHandler(func(n *protocol.Notify) {
			log.Infof("[dbgpd] session %d notify %s", s.ID(), n.Name)
		})

		if !autoRun {
			return
		}

		st, err := s.Core().Run(ctx)
		if err != nil {
			log.Warnf("[dbgpd] session %d run failed. %+v", s.ID(), err)
			return
		}

		log.Infof("[dbgpd] session %d status=%s reason=%s", s.ID(), st.Status, st.Reason)
	}
}
