package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/p2panda/aquadoggo/internal/bus"
	"github.com/p2panda/aquadoggo/internal/config"
	"github.com/p2panda/aquadoggo/internal/crypto"
	"github.com/p2panda/aquadoggo/internal/materializer"
	"github.com/p2panda/aquadoggo/internal/publish"
	"github.com/p2panda/aquadoggo/internal/query"
	"github.com/p2panda/aquadoggo/internal/replication"
	"github.com/p2panda/aquadoggo/internal/schema"
	"github.com/p2panda/aquadoggo/internal/store"
	"github.com/p2panda/aquadoggo/internal/supervisor"
	"github.com/p2panda/aquadoggo/internal/tasks"
	"github.com/p2panda/aquadoggo/internal/utils"
	"github.com/p2panda/aquadoggo/internal/validator"
)

// NewRunCommand builds the "run" subcommand: the actual long-lived
// node process. Grounded on roach88-nysm/internal/cli/run.go's
// signal-handling-plus-graceful-shutdown shape.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "run",
		Short:         "Start the node",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(cmd.Context(), rootOpts)
		},
	}
	return cmd
}

// Node bundles every wired collaborator so tests can exercise the
// same construction path a real process boots into.
type Node struct {
	Config     *config.Config
	Store      *store.Store
	Schemas    *schema.Provider
	Queue      *tasks.Queue
	Pipeline   *publish.Pipeline
	Planner    *query.Planner
	Engine     *replication.Engine
	Peers      *replication.PeerSet
	Supervisor *supervisor.Supervisor
	Log        utils.Logger

	listener net.Listener
}

// Build wires every collaborator per spec §4, without starting
// background loops or opening listeners — Start does that.
func Build(cfg *config.Config, log utils.Logger) (*Node, error) {
	sup := supervisor.New(context.Background(), log)

	st, err := store.Open(cfg.DatabaseURL, cfg.DatabaseMaxConns, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	if _, _, err := crypto.LoadOrCreateKey(cfg.PrivateKeyPath); err != nil {
		st.Close()
		return nil, fmt.Errorf("load node identity: %w", err)
	}

	schemas := schema.New(schema.NewAllowPolicy(cfg.AllowSchemaIDs))
	suite := crypto.Ed25519SHA256{}
	v := validator.New(suite, schemas)

	opBus := bus.New[publish.NewOperation]()
	queue := tasks.New(st, log, tasks.Options{
		PoolSize: cfg.WorkerPoolSize,
		Fatal:    sup,
		Registry: prometheus.DefaultRegisterer,
	})
	pipeline := publish.New(st, v, queue, queue, opBus, log)

	mat := materializer.New(st, schemas, queue, cfg.BlobsBasePath, log)
	mat.Register(queue)

	policy := replication.NewPeerPolicy(cfg.AllowPeerIDs, cfg.BlockPeerIDs)
	peers := replication.NewPeerSet(policy, log)
	engine := replication.New(st, pipeline, schemas, peers, log)

	planner := query.New(schemas)

	logUnsupportedTransports(log, cfg)

	return &Node{
		Config:     cfg,
		Store:      st,
		Schemas:    schemas,
		Queue:      queue,
		Pipeline:   pipeline,
		Planner:    planner,
		Engine:     engine,
		Peers:      peers,
		Supervisor: sup,
		Log:        log,
	}, nil
}

// logUnsupportedTransports notes every configured feature spec §1
// places out of scope for this module (QUIC, mDNS discovery, relay/
// rendezvous) so an operator setting them doesn't assume they're
// silently working.
func logUnsupportedTransports(log utils.Logger, cfg *config.Config) {
	if cfg.MDNS {
		log.Warn("mdns discovery is not implemented; direct_node_addresses must be configured explicitly")
	}
	if len(cfg.RelayAddresses) > 0 || cfg.RelayMode {
		log.Warn("relay/rendezvous transport is not implemented; only direct TCP dialing is available")
	}
	if cfg.QUICPort != 0 {
		log.Warn("QUIC transport is not implemented; the replication listener uses TCP on the same port", "port", cfg.QUICPort)
	}
}

// Start begins background processing: the task queue's worker pools,
// the replication listener accepting inbound peer connections, and an
// outbound dial to every configured direct_node_addresses entry. Every
// loop it spawns observes n.Supervisor.Context(), so a fatal report
// from any collaborator (spec §5 "components observe cancellation at
// every suspension point") tears them all down together. It returns
// once every collaborator has started, closing the ready signal.
func (n *Node) Start() error {
	ctx := n.Supervisor.Context()
	if err := n.Queue.Start(ctx); err != nil {
		return fmt.Errorf("start task queue: %w", err)
	}

	addr := fmt.Sprintf(":%d", n.Config.QUICPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	n.listener = ln
	go n.acceptLoop(ctx)

	transport := tcpTransport{}
	for _, peerAddr := range n.Config.DirectNodeAddresses {
		go n.dialPeer(ctx, transport, peerAddr)
	}

	n.Supervisor.MarkReady()
	return nil
}

func (n *Node) acceptLoop(ctx context.Context) {
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			n.Log.WarnCtx(ctx, "replication: accept failed", "err", err)
			continue
		}
		peerID := conn.RemoteAddr().String()
		go func() {
			if err := n.Engine.ServeConn(ctx, peerID, conn); err != nil {
				n.Log.WarnCtx(ctx, "replication: connection ended", "peer", peerID, "err", err)
			}
		}()
	}
}

func (n *Node) dialPeer(ctx context.Context, transport tcpTransport, addr string) {
	conn, err := transport.Dial(addr)
	if err != nil {
		n.Log.WarnCtx(ctx, "replication: dial failed", "addr", addr, "err", err)
		return
	}
	if err := n.Engine.ServeConn(ctx, addr, conn); err != nil {
		n.Log.WarnCtx(ctx, "replication: connection ended", "peer", addr, "err", err)
	}
}

// Close releases every resource Build/Start acquired, in the reverse
// order they were acquired (spec §5 "release resources in LIFO
// order").
func (n *Node) Close() error {
	if n.listener != nil {
		n.listener.Close()
	}
	return n.Store.Close()
}

func runNode(ctx context.Context, rootOpts *RootOptions) error {
	cfg, err := config.Load(rootOpts.ConfigPath)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if rootOpts.Verbose {
		level = slog.LevelDebug
	}
	log := utils.NewDefaultLogger(level, "[aquadoggo-node] ")

	node, err := Build(cfg, log)
	if err != nil {
		return err
	}
	defer node.Close()

	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			log.Info("received signal, shutting down", "signal", sig)
			node.Supervisor.Shutdown()
			cancel()
		case <-node.Supervisor.Context().Done():
			cancel()
		case <-runCtx.Done():
		}
	}()

	if err := node.Start(); err != nil {
		return err
	}
	log.Info("node ready")

	<-node.Supervisor.Context().Done()

	if fatal := node.Supervisor.Err(); fatal != nil {
		return fatal
	}
	return nil
}
