// cmd/kvnode is the node binary: it wires storage, indexing, election,
// replication, the client wire server, and the admin HTTP plane together
// into one running node.
//
// Example — single node:
//
//	./kvnode --node-id node1 --addr :7070 --data-dir /var/kvnode/node1 --primary
//
// Example — 3-node cluster:
//
//	./kvnode --node-id node1 --addr :7070 --repl-addr :7071 --data-dir /tmp/n1 \
//	         --peers node2=localhost:7073,node3=localhost:7075 --primary
//	./kvnode --node-id node2 --addr :7072 --repl-addr :7073 --data-dir /tmp/n2 \
//	         --peers node1=localhost:7071,node3=localhost:7075
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"kvnode/internal/adminhttp"
	"kvnode/internal/cluster"
	"kvnode/internal/config"
	"kvnode/internal/logging"
	"kvnode/internal/replication"
	"kvnode/internal/server"
	"kvnode/internal/storage"
)

// checkpointInterval bounds how large the WAL is allowed to grow between
// snapshots during normal operation.
const checkpointInterval = 60 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	nodeID := flag.String("node-id", "", "unique node identifier")
	addr := flag.String("addr", "", "client wire protocol listen address (host:port)")
	port := flag.Int("port", 0, "client wire protocol listen port; shorthand for --addr :PORT")
	replAddr := flag.String("repl-addr", "", "replication/election wire protocol listen address")
	adminAddr := flag.String("admin-addr", "", "admin HTTP listen address, empty disables it")
	dataDir := flag.String("data-dir", "", "directory for WAL, checkpoint, and election meta")
	peersFlag := flag.String("peers", "", "comma-separated peer list: id=repl_host:port")
	primary := flag.Bool("primary", false, "start as PRIMARY (bootstrap node only)")
	configPath := flag.String("config", "", "optional YAML config file overlaying these flags")
	flag.Parse()
	if *port != 0 && *addr == "" {
		*addr = fmt.Sprintf(":%d", *port)
	}

	cfg := config.Defaults()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadFile(*configPath, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			return 2
		}
	}
	applyFlagOverrides(&cfg, *nodeID, *addr, *replAddr, *adminAddr, *dataDir, *peersFlag, *primary)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		return 2
	}

	log := logging.New(cfg.NodeID, os.Stderr)

	engine, err := storage.New(cfg.DataDir, logging.Component(log, "storage"))
	if err != nil {
		log.Error().Err(err).Msg("failed to open storage engine")
		return 1
	}
	defer engine.Close()

	membership := cluster.NewMembership(cfg.NodeID, cfg.Peers)

	var election *cluster.Election
	var replSrv *replServer
	router := server.NewRouter(engine, nil, logging.Component(log, "server"))

	if len(cfg.Peers) > 1 {
		election, replSrv = setupCluster(cfg, engine, membership, router, log)
		router.SetElection(election)
		if cfg.Primary {
			election.Bootstrap()
		}
		go election.Run()
		go func() {
			if err := replSrv.ListenAndServe(); err != nil {
				log.Error().Err(err).Msg("replication listener failed")
			}
		}()
	} else if *primary {
		log.Info().Msg("single-node mode: always PRIMARY")
	}

	clientSrv := server.New(cfg.Addr, router, logging.Component(log, "server"))
	go func() {
		if err := clientSrv.ListenAndServe(); err != nil {
			log.Error().Err(err).Msg("client listener failed")
		}
	}()
	log.Info().Str("addr", cfg.Addr).Msg("client wire protocol listening")

	if cfg.AdminAddr != "" {
		startAdminHTTP(cfg, engine, election, membership, log)
	}

	stopCheckpoints := make(chan struct{})
	go checkpointLoop(engine, logging.Component(log, "storage"), stopCheckpoints)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	close(stopCheckpoints)
	if election != nil {
		election.Stop()
	}
	if replSrv != nil {
		replSrv.Close()
	}
	clientSrv.Close()
	if err := engine.Checkpoint(); err != nil {
		log.Warn().Err(err).Msg("final checkpoint failed")
	}
	return 0
}

func setupCluster(cfg config.Config, engine *storage.Engine, membership *cluster.Membership, router *server.Router, log zerolog.Logger) (*cluster.Election, *replServer) {
	replLog := logging.Component(log, "replication")
	transport := newWireTransport(membership)

	election, err := cluster.NewElection(cfg.NodeID, cfg.DataDir, membership, engine, transport,
		time.Duration(cfg.HeartbeatMillis)*time.Millisecond,
		time.Duration(cfg.ElectionTimeoutMillis)*time.Millisecond,
		logging.Component(log, "election"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize election state")
	}

	follower := replication.NewFollower(engine, replLog)

	var senderMu sync.Mutex
	var active *replication.Sender
	election.OnBecomePrimary(func() {
		sender := replication.NewSender(election.Term(), transport, engine, replLog)
		peers := membership.All()
		ids := make([]string, len(peers))
		for i, p := range peers {
			ids[i] = p.ID
		}
		sender.Start(ids)
		senderMu.Lock()
		active = sender
		senderMu.Unlock()
		router.SetSender(sender)
		log.Info().Msg("became PRIMARY, replication sender started")
	})
	election.OnStepDown(func() {
		router.SetSender(nil)
		senderMu.Lock()
		sender := active
		active = nil
		senderMu.Unlock()
		if sender != nil {
			sender.Stop()
		}
		log.Info().Msg("stepped down to FOLLOWER")
	})

	replSrv := newReplServer(cfg.ReplAddr, election, follower, replLog)
	return election, replSrv
}

func startAdminHTTP(cfg config.Config, engine *storage.Engine, election *cluster.Election, membership *cluster.Membership, log zerolog.Logger) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	adminLog := logging.Component(log, "admin")
	r.Use(adminhttp.Logger(adminLog), adminhttp.Recovery(adminLog))
	adminhttp.NewHandler(cfg.NodeID, engine, election, membership).Register(r)

	go func() {
		log.Info().Str("addr", cfg.AdminAddr).Msg("admin HTTP listening")
		if err := r.Run(cfg.AdminAddr); err != nil {
			log.Error().Err(err).Msg("admin HTTP server failed")
		}
	}()
}

// checkpointLoop snapshots the engine on a fixed interval so the WAL never
// grows without bound between restarts, mirroring the teacher's background
// snapshot ticker.
func checkpointLoop(engine *storage.Engine, log zerolog.Logger, stop <-chan struct{}) {
	ticker := time.NewTicker(checkpointInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := engine.Checkpoint(); err != nil {
				log.Warn().Err(err).Msg("periodic checkpoint failed")
			}
		}
	}
}

func applyFlagOverrides(cfg *config.Config, nodeID, addr, replAddr, adminAddr, dataDir, peersFlag string, primary bool) {
	if nodeID != "" {
		cfg.NodeID = nodeID
	}
	if addr != "" {
		cfg.Addr = addr
	}
	if replAddr != "" {
		cfg.ReplAddr = replAddr
	}
	if adminAddr != "" {
		cfg.AdminAddr = adminAddr
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if primary {
		cfg.Primary = true
	}
	if cfg.Peers == nil {
		cfg.Peers = make(map[string]string)
	}
	if peersFlag != "" {
		for _, entry := range strings.Split(peersFlag, ",") {
			parts := strings.SplitN(entry, "=", 2)
			if len(parts) != 2 {
				continue
			}
			cfg.Peers[parts[0]] = parts[1]
		}
	}
	cfg.Peers[cfg.NodeID] = cfg.ReplAddr
}
