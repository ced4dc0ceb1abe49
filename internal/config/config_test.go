package config

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/harmony-bft/node/internal/mempool"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestFromViperFillsDefaultsForMissingKeys(t *testing.T) {
	v := viper.New()
	core := FromViper(testLogger(), v)

	require.Equal(t, mempool.DefaultConfig().NumSenderBuckets, core.Mempool.NumSenderBuckets)
	require.Equal(t, mempool.Simple, core.Mempool.Mode)
}

func TestFromViperReadsOverrides(t *testing.T) {
	v := viper.New()
	v.Set("num_sender_buckets", 8)
	v.Set("default_failovers", 3)
	v.Set("enable_intelligent_peer_prioritization", true)
	v.Set("max_subscription_timeout_ms", 5000)
	v.Set("outbound_connection_limit", 16)

	core := FromViper(testLogger(), v)

	require.Equal(t, 8, core.Mempool.NumSenderBuckets)
	require.Equal(t, 3, core.Mempool.DefaultFailovers)
	require.Equal(t, mempool.Intelligent, core.Mempool.Mode)
	require.Equal(t, 5*time.Second, core.Subscription.MaxSubscriptionTimeout)
	require.NotNil(t, core.Connectivity.OutboundConnectionLimit)
	require.Equal(t, 16, *core.Connectivity.OutboundConnectionLimit)
}

func TestLoadBalancingThresholdsParsed(t *testing.T) {
	v := viper.New()
	v.Set("load_balancing_thresholds", []map[string]interface{}{
		{"avg_mempool_traffic_threshold_in_tps": 50.0, "max_number_of_upstream_peers": 4.0, "latency_slack_between_top_upstream_peers": 25.0},
	})

	core := FromViper(testLogger(), v)
	require.Len(t, core.Mempool.LoadBalancingBands, 1)
	require.Equal(t, 4, core.Mempool.LoadBalancingBands[0].MaxUpstreamPeers)
	require.Equal(t, 25*time.Millisecond, core.Mempool.LoadBalancingBands[0].LatencySlack)
}

func TestNodeFromViperFillsDefaults(t *testing.T) {
	v := viper.New()
	n := NodeFromViper(v)

	require.Equal(t, []string{"/ip4/0.0.0.0/tcp/0"}, n.ListenAddrs)
	require.Equal(t, "harmony-bft", n.Rendezvous)
	require.Equal(t, "/harmony-bft/session/1.0.0", n.ProtocolID)
	require.Equal(t, "tcp", n.RedisNetwork)
	require.Equal(t, "127.0.0.1:9101", n.OpsListenAddr)
}

func TestNodeFromViperReadsOverrides(t *testing.T) {
	v := viper.New()
	v.Set("listen_addrs", []string{"/ip4/0.0.0.0/tcp/4001"})
	v.Set("bootstrap_peers", []string{"/dns4/seed.example/tcp/4001/p2p/Qm..."})
	v.Set("rendezvous", "custom-mesh")
	v.Set("redis_addr", "redis:6379")

	n := NodeFromViper(v)
	require.Equal(t, []string{"/ip4/0.0.0.0/tcp/4001"}, n.ListenAddrs)
	require.Equal(t, "custom-mesh", n.Rendezvous)
	require.Equal(t, "redis:6379", n.RedisAddr)
}
