package server

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/authority/internal/core/network"
	"github.com/zeusync/authority/internal/core/observability/log"
	"github.com/zeusync/authority/internal/core/replication"
)

const (
	websocketListener = "websocket"
	quicListener      = "quic"
	metricsListener   = "metrics"
)

// Addr returns the bound address of a listener started by Run: "websocket",
// "quic" or "metrics".
func (r *Runtime) Addr(name string) (net.Addr, bool) {
	v, ok := r.addrs.Load(name)
	if !ok {
		return nil, false
	}
	return v.(net.Addr), true
}

// listen binds the server listeners before returning so that failures stop
// Run early.
func (r *Runtime) listen(ctx context.Context, g *errgroup.Group) error {
	cfg := r.config.Transport

	if cfg.Websocket.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle(cfg.Websocket.Path, replication.NewWebsocketHandler(r.hub.Serve, cfg.WriteTimeout.Std(), r.logger))
		if r.config.Metrics.Enabled && r.config.Metrics.Listen == "" {
			mux.Handle(r.config.Metrics.Path, r.metrics.Handler())
		}
		srv, err := NewHTTPServer(cfg.Websocket.Listen, mux, r.logger.Named(websocketListener))
		if err != nil {
			return err
		}
		r.addrs.Store(websocketListener, srv.Addr())
		srv.Start(ctx, g)
	}

	if cfg.QUIC.Listen != "" {
		var tlsConf *tls.Config
		if cfg.QUIC.CertFile != "" {
			var err error
			if tlsConf, err = replication.LoadTLS(cfg.QUIC.CertFile, cfg.QUIC.KeyFile); err != nil {
				return err
			}
		}
		l, err := replication.ListenQUIC(cfg.QUIC.Listen, tlsConf, cfg.QUIC.IdleTimeout.Std())
		if err != nil {
			return err
		}
		r.addrs.Store(quicListener, l.Addr())
		r.logger.Info("QUIC listener started", log.String("addr", l.Addr().String()))
		g.Go(func() error { return r.acceptQUIC(ctx, l) })
	}
	return nil
}

func (r *Runtime) acceptQUIC(ctx context.Context, l *replication.QUICListener) error {
	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()
	for {
		conn, err := l.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Warn("Failed to accept QUIC peer", log.Error(err))
			continue
		}
		go func() {
			if err := r.hub.Serve(ctx, conn); err != nil {
				r.logger.Debug("QUIC peer ended", log.String("remote_addr", conn.RemoteAddr()), log.Error(err))
			}
		}()
	}
}

// connect dials the server, learns its GUID from the handshake and builds
// the managers with it.
func (r *Runtime) connect(ctx context.Context, g *errgroup.Group) error {
	target, err := r.config.DialTarget()
	if err != nil {
		return err
	}

	var conn replication.Conn
	switch target.Scheme {
	case "quic":
		conn, err = replication.DialQUIC(ctx, target.Host, nil, r.config.Transport.QUIC.IdleTimeout.Std())
	default:
		conn, err = replication.DialWebsocket(ctx, target.String(), r.config.Transport.WriteTimeout.Std())
	}
	if err != nil {
		return err
	}

	peer, err := r.hub.Handshake(conn)
	if err != nil {
		_ = conn.Close()
		return err
	}
	if err := r.build(network.Identity{Mode: network.Client, Own: r.own, Server: peer.GUID()}); err != nil {
		_ = conn.Close()
		return err
	}
	r.logger.Info("Connected to server",
		log.Stringer("server", peer.GUID()),
		log.String("addr", peer.RemoteAddr()))

	g.Go(func() error {
		err := r.hub.Run(ctx, peer)
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			return errors.Wrapf(ErrServerDisconnected, "%v", err)
		}
		return ErrServerDisconnected
	})
	return nil
}

// serveMetrics starts the standalone metrics listener when one is
// configured.
func (r *Runtime) serveMetrics(ctx context.Context, g *errgroup.Group) error {
	m := r.config.Metrics
	if !m.Enabled {
		return nil
	}
	if m.Listen == "" {
		if _, shared := r.Addr(websocketListener); !shared {
			r.logger.Debug("Metrics enabled without a listener")
		}
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle(m.Path, r.metrics.Handler())
	srv, err := NewHTTPServer(m.Listen, mux, r.logger.Named(metricsListener))
	if err != nil {
		return errors.Wrap(err, "failed to start metrics listener")
	}
	r.addrs.Store(metricsListener, srv.Addr())
	srv.Start(ctx, g)
	return nil
}
