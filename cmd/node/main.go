// Command node is the composition root: it loads configuration, wires
// the five core subsystems (Peer Session Actor, Connectivity Manager,
// Subscription Manager, Mempool Peer Prioritizer, Data Streaming
// Engine) to a live libp2p host and external storage, and runs until
// an interrupt is received. Grounded on the teacher's root main.go
// (signal handling, a root context canceled on SIGINT/SIGTERM,
// worker goroutines, graceful shutdown with a bounded grace period)
// generalized from the teacher's single mempool-poller process to the
// full core.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/libp2p/go-libp2p-core/protocol"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/harmony-bft/node/internal/connectivity"
	"github.com/harmony-bft/node/internal/mempool"
	"github.com/harmony-bft/node/internal/metadata"
	nodeconfig "github.com/harmony-bft/node/internal/config"
	"github.com/harmony-bft/node/internal/opsserver"
	"github.com/harmony-bft/node/internal/peerid"
	"github.com/harmony-bft/node/internal/storage"
	"github.com/harmony-bft/node/internal/streaming"
	"github.com/harmony-bft/node/internal/subscription"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the node configuration file")
	flag.Parse()

	log := logrus.NewEntry(logrus.StandardLogger())
	log.Info("harmony-bft node starting up")

	v := viper.New()
	v.SetConfigFile(*configPath)
	if err := v.ReadInConfig(); err != nil {
		log.WithError(err).Warn("no config file found, proceeding with defaults")
	}

	core := nodeconfig.FromViper(log, v)
	node := nodeconfig.NodeFromViper(v)
	ownNetwork := nodeconfig.OwnNetwork(v)
	ownRole := nodeconfig.OwnRole(v)

	ctx, cancel := context.WithCancel(context.Background())

	host, err := newHost(node.ListenAddrs)
	if err != nil {
		log.WithError(err).Error("failed to construct libp2p host")
		os.Exit(1)
	}

	peers := metadata.NewPeersAndMetadata()
	trusted := metadata.NewTrustedPeerSet()

	spawner := newLibp2pSessionSpawner(ownNetwork, core.Session, log)
	dialer := newLibp2pDialer(host, node.ProtocolID)

	core.Connectivity.Network = ownNetwork
	core.Connectivity.OwnRole = ownRole
	connMgr := connectivity.New(core.Connectivity, log, dialer, spawner, peers, trusted)
	spawner.bindManager(connMgr)

	host.SetStreamHandler(protocol.ID(node.ProtocolID), spawner.handleInbound)

	applyConfigDiscovery(log, connMgr, node.BootstrapPeers)

	traffic := mempool.NewTrafficTracker(0.2)
	core.Mempool.IsVFN = ownNetwork == peerid.VFN
	prioritizer := mempool.New(core.Mempool, traffic)

	var versions storage.VersionProvider
	if node.RedisAddr != "" {
		store, err := storage.Dial(ctx, node.RedisNetwork, node.RedisAddr, node.RedisPassword, node.RedisDB, node.SyncedVersionKey)
		if err != nil {
			log.WithError(err).Warn("storage unavailable, falling back to a zero-version fake")
			versions = &storage.FakeStore{}
		} else {
			defer store.Close()
			versions = store
		}
	} else {
		versions = &storage.FakeStore{}
	}

	transport := &sessionTransport{spawner: spawner}
	selector := mempoolPeerSelector(prioritizer)
	subMgr := subscription.New(core.Subscription, log, peers, versions, transport, selector)

	registry := streaming.NewRegistry()
	publisher := streaming.NewPublisher(32)
	streamClient := newSessionStreamClient(spawner, peers)

	continuousEngine := streaming.NewContinuousEngine(0, 0, 0, false)
	continuousDriver := streaming.NewDriver(continuousEngine, streamClient, log, 4, 2*time.Second, publisher, "continuous_transactions")
	registry.Register("continuous_transactions", continuousEngine)

	ops := opsserver.New(log, peers, subMgr, registryProgressSource{registry: registry})

	var wg sync.WaitGroup
	spawn := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	spawn(func() { runConnectivity(ctx, log, connMgr) })
	spawn(func() { runOnChainDiscovery(ctx, log, host, node.Rendezvous, connMgr) })
	spawn(func() { runFileDiscovery(ctx, log, connMgr, node.DiscoveryFilePath, 30*time.Second) })
	spawn(func() { runRestDiscovery(ctx, log, connMgr, node.DiscoveryRestURL, 30*time.Second) })
	spawn(func() { runSubscriptionLoop(ctx, log, subMgr, 2*time.Second) })
	spawn(func() { runStreamDriver(ctx, continuousDriver, registry, "continuous_transactions") })
	spawn(func() { forwardNotifications(continuousDriver, ops) })
	spawn(func() {
		if err := ops.Start(node.OpsListenAddr); err != nil {
			log.WithError(err).Warn("ops server stopped")
		}
	})

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutdown signal received, stopping workers")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer shutdownCancel()
	_ = ops.Shutdown(shutdownCtx)

	wg.Wait()
	log.Info("harmony-bft node stopped")
}

func runConnectivity(ctx context.Context, log *logrus.Entry, m *connectivity.Manager) {
	defer m.Stop()
	if err := m.Run(ctx); err != nil && ctx.Err() == nil {
		log.WithError(err).Warn("connectivity manager exited")
	}
}

func runSubscriptionLoop(ctx context.Context, log *logrus.Entry, m *subscription.Manager, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.CheckAndManage(ctx); err != nil {
				log.WithError(err).Warn("subscription check_and_manage reported an error")
			}
		}
	}
}

func runStreamDriver(ctx context.Context, d *streaming.Driver, registry *streaming.Registry, name string) {
	defer registry.Unregister(name)
	d.Run(ctx)
}

// forwardNotifications relays a Driver's ordered notifications to the
// ops surface's websocket hub, draining Notifications() so Run never
// blocks on a full channel once its own context is canceled.
func forwardNotifications(d *streaming.Driver, ops *opsserver.Server) {
	for n := range d.Notifications() {
		ops.Broadcast(n)
	}
}
