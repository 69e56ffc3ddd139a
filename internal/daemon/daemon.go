// Package daemon wires the RoutingTable, ContentStore, MappingsIndex,
// Node, and Bridge together into a running neromon process, and exposes
// a small chi-routed debug HTTP surface alongside them (spec.md §9
// "cyclic references... owned by the daemon bootstrap, passed in by
// reference"). Grounded on the teacher's walletserver/main.go wiring
// shape (config.Load -> construct services -> register routes -> serve),
// adapted from a single HTTP surface to the daemon's peer listener plus
// client bridge plus debug HTTP surface running side by side.
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"neromon/internal/bridge"
	"neromon/internal/codec"
	"neromon/internal/config"
	"neromon/internal/kademlia"
	"neromon/internal/mappings"
	"neromon/internal/nodeid"
	"neromon/internal/store"
	"neromon/internal/transport"
)

// Daemon owns every long-lived collaborator the protocol engine needs and
// runs their lifecycles together.
type Daemon struct {
	cfg *config.Config
	log *logrus.Logger

	Self   nodeid.NodeID
	Node   *kademlia.Node
	Store  *store.Store
	Index  *mappings.Index
	Bridge *bridge.Bridge

	debugSrv *http.Server
}

// New constructs every collaborator from cfg but does not yet bind any
// listener (spec.md §9's "constructed once at startup, wired by
// reference" bootstrap order: store and index first, then the node that
// depends on them, then the bridge that depends on the node and index).
func New(cfg *config.Config, log *logrus.Logger) (*Daemon, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if lvl, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		log.SetLevel(lvl)
	}

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("daemon: create data dir: %w", err)
	}
	blobDir := filepath.Join(cfg.Storage.DataDir, "store")
	st, err := store.New(blobDir, codec.ValidateStructure)
	if err != nil {
		return nil, fmt.Errorf("daemon: open content store: %w", err)
	}

	idx, err := mappings.Open(filepath.Join(cfg.Storage.DataDir, "data.sqlite3"))
	if err != nil {
		return nil, fmt.Errorf("daemon: open mappings index: %w", err)
	}

	self := nodeid.FromIdentity(cfg.Network.ListenEndpoint)
	factory := transport.NetFactory{Network: "tcp"}
	node := kademlia.NewWithConfig(self, cfg.Network.ListenEndpoint, factory, st, log,
		cfg.Routing.BucketSize, cfg.Routing.ReplicationFactor)

	b := bridge.NewWithWorkers(node, idx, log, cfg.Bridge.Workers)

	d := &Daemon{
		cfg:    cfg,
		log:    log,
		Self:   self,
		Node:   node,
		Store:  st,
		Index:  idx,
		Bridge: b,
	}
	return d, nil
}

// Run binds the peer listener and client bridge socket, joins any
// configured bootstrap peers, starts the maintenance scheduler, and
// blocks until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	factory := transport.NetFactory{Network: "tcp"}
	if err := d.Node.Listen(factory, d.cfg.Network.ListenEndpoint); err != nil {
		return fmt.Errorf("daemon: bind peer listener on %s: %w", d.cfg.Network.ListenEndpoint, err)
	}
	d.log.WithField("endpoint", d.cfg.Network.ListenEndpoint).Info("daemon: peer listener bound")

	if err := os.RemoveAll(d.cfg.Bridge.SocketPath); err != nil {
		return fmt.Errorf("daemon: clear stale bridge socket: %w", err)
	}
	bridgeLn, err := net.Listen("unix", d.cfg.Bridge.SocketPath)
	if err != nil {
		return fmt.Errorf("daemon: bind bridge socket %s: %w", d.cfg.Bridge.SocketPath, err)
	}
	d.log.WithField("socket", d.cfg.Bridge.SocketPath).Info("daemon: client bridge listening")

	for _, peer := range d.cfg.Network.BootstrapPeers {
		joinCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := d.Node.Join(joinCtx, peer); err != nil {
			d.log.WithError(err).WithField("peer", peer).Warn("daemon: bootstrap join failed")
		} else {
			d.log.WithField("peer", peer).Info("daemon: bootstrap join succeeded")
		}
		cancel()
	}

	go d.Node.RunMaintenance(ctx)
	go func() {
		if err := d.Bridge.Serve(ctx, bridgeLn); err != nil {
			d.log.WithError(err).Warn("daemon: bridge serve stopped")
		}
	}()

	d.debugSrv = &http.Server{Handler: d.debugRouter()}
	debugLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("daemon: bind debug listener: %w", err)
	}
	d.log.WithField("addr", debugLn.Addr().String()).Info("daemon: debug HTTP surface listening")
	go func() {
		if err := d.debugSrv.Serve(debugLn); err != nil && err != http.ErrServerClosed {
			d.log.WithError(err).Warn("daemon: debug HTTP server stopped")
		}
	}()

	<-ctx.Done()
	return d.Close()
}

// debugRouter builds the chi-routed introspection surface spec.md §6's
// DOMAIN STACK expansion names: GET /healthz and GET /debug/status,
// mirroring the bridge's own status method for operators without a
// bridge client handy.
func (d *Daemon) debugRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/debug/status", func(w http.ResponseWriter, r *http.Request) {
		contacts := d.Node.Table.All()
		status := struct {
			Host      string `json:"host"`
			Peers     int    `json:"peers"`
			DataCount int    `json:"data_count"`
		}{
			Host:      d.Node.SelfEndpoint,
			Peers:     len(contacts),
			DataCount: d.Store.Count(),
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(status)
	})
	return r
}

// Close releases every collaborator the daemon owns.
func (d *Daemon) Close() error {
	if d.debugSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.debugSrv.Shutdown(ctx)
	}
	d.Bridge.Close()
	_ = d.Node.Close()
	_ = d.Index.Close()
	return nil
}
