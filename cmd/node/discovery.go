package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/libp2p/go-libp2p-core/host"
	"github.com/libp2p/go-libp2p-core/peer"
	discovery "github.com/libp2p/go-libp2p-discovery"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/multiformats/go-multiaddr"
	"github.com/sirupsen/logrus"

	"github.com/harmony-bft/node/internal/connectivity"
	"github.com/harmony-bft/node/internal/metadata"
	"github.com/harmony-bft/node/internal/peerid"
)

type discoveryEntry = struct {
	Addrs map[string]struct{}
	Keys  map[string]struct{}
}

// runOnChainDiscovery advertises this node and finds peers via a
// rendezvous-tagged Kademlia DHT, feeding results into the
// Connectivity Manager as metadata.OnChainValidatorSet updates.
// Grounded on the teacher's app/networking/peer.go SetUpPeerDiscovery
// (dht.New, discovery.Advertise/FindPeers against a rendezvous
// string); here the discovered peer stream, instead of being dialed
// directly as the teacher did, is handed to the Connectivity Manager
// so dial selection/backoff/budget apply uniformly to every source.
//
// This is the closest honest reading of spec.md §4.2's
// OnChainValidatorSet source available to a node built without a
// real on-chain validator-set reader (an explicit non-goal): peers
// self-certifying via DHT rendezvous play the role the validator set
// would, at the highest discovery priority.
func runOnChainDiscovery(ctx context.Context, log *logrus.Entry, h host.Host, rendezvous string, mgr *connectivity.Manager) {
	kad, err := dht.New(ctx, h)
	if err != nil {
		log.WithError(err).Warn("onchain discovery: failed to construct DHT, source stays empty")
		return
	}
	if err := kad.Bootstrap(ctx); err != nil {
		log.WithError(err).Warn("onchain discovery: DHT bootstrap failed")
		return
	}

	routing := discovery.NewRoutingDiscovery(kad)
	discovery.Advertise(ctx, routing, rendezvous)

	peerCh, err := routing.FindPeers(ctx, rendezvous)
	if err != nil {
		log.WithError(err).Warn("onchain discovery: find peers failed")
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case found, ok := <-peerCh:
			if !ok {
				return
			}
			if found.ID == h.ID() || len(found.Addrs) == 0 {
				continue
			}
			mgr.UpdateDiscoveredPeers(metadata.OnChainValidatorSet, addrInfoUpdate(found))
		}
	}
}

// addrInfoUpdate turns one discovered libp2p peer.AddrInfo into the
// single-peer update map UpdateDiscoveredPeers expects. The libp2p
// peer ID itself stands in for the "public key" union -- discovery of
// a DHT-advertised identity is itself the credential this source
// contributes (spec.md §3: "a peer is eligible iff its union-of-keys
// is non-empty").
func addrInfoUpdate(info peer.AddrInfo) map[peerid.PeerID]discoveryEntry {
	addrs := make(map[string]struct{}, len(info.Addrs))
	for _, a := range info.Addrs {
		full, err := multiaddr.NewMultiaddr(a.String() + "/p2p/" + info.ID.String())
		if err != nil {
			continue
		}
		addrs[full.String()] = struct{}{}
	}
	id := peerIDFromLibp2p(info.ID)
	return map[peerid.PeerID]discoveryEntry{
		id: {Addrs: addrs, Keys: map[string]struct{}{info.ID.String(): {}}},
	}
}

// applyConfigDiscovery seeds the lowest-priority Config source once at
// startup from the static bootstrap_peers list, matching the teacher's
// BootstrapPeers()/ConnectToBootstraps. Unlike File/Rest, this source
// never changes at runtime: the operator edits config and restarts.
func applyConfigDiscovery(log *logrus.Entry, mgr *connectivity.Manager, bootstrapPeers []string) {
	update := make(map[peerid.PeerID]discoveryEntry)
	for _, raw := range bootstrapPeers {
		maddr, err := multiaddr.NewMultiaddr(raw)
		if err != nil {
			log.WithError(err).WithField("addr", raw).Warn("config discovery: skipping unparseable bootstrap address")
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(maddr)
		if err != nil {
			log.WithError(err).WithField("addr", raw).Warn("config discovery: skipping address with no embedded peer id")
			continue
		}
		id := peerIDFromLibp2p(info.ID)
		entry := update[id]
		if entry.Addrs == nil {
			entry.Addrs = make(map[string]struct{})
			entry.Keys = map[string]struct{}{info.ID.String(): {}}
		}
		entry.Addrs[maddr.String()] = struct{}{}
		update[id] = entry
	}
	if len(update) > 0 {
		mgr.UpdateDiscoveredPeers(metadata.Config, update)
	}
}

// fileDiscoveryRecord is the on-disk shape polled from DiscoveryFilePath:
// the file is a JSON array of these records, each with an "addrs" list of
// peer_id-bearing multiaddrs, the simplest static discovery feed an
// operator can hand-maintain.
type fileDiscoveryRecord struct {
	Addrs []string `json:"addrs"`
}

// runFileDiscovery polls path every interval and feeds parsed entries
// into the File source. A missing or malformed file is logged and
// skipped this round rather than treated as fatal -- an operator may
// be mid-edit.
func runFileDiscovery(ctx context.Context, log *logrus.Entry, mgr *connectivity.Manager, path string, interval time.Duration) {
	if path == "" {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		pollFileDiscovery(log, mgr, path)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func pollFileDiscovery(log *logrus.Entry, mgr *connectivity.Manager, path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.WithError(err).WithField("path", path).Warn("file discovery: read failed")
		}
		return
	}

	var records []fileDiscoveryRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		log.WithError(err).WithField("path", path).Warn("file discovery: malformed JSON")
		return
	}

	update := make(map[peerid.PeerID]discoveryEntry)
	for _, rec := range records {
		for _, a := range rec.Addrs {
			maddr, err := multiaddr.NewMultiaddr(a)
			if err != nil {
				continue
			}
			info, err := peer.AddrInfoFromP2pAddr(maddr)
			if err != nil {
				continue
			}
			id := peerIDFromLibp2p(info.ID)
			entry := update[id]
			if entry.Addrs == nil {
				entry.Addrs = make(map[string]struct{})
				entry.Keys = map[string]struct{}{info.ID.String(): {}}
			}
			entry.Addrs[maddr.String()] = struct{}{}
			update[id] = entry
		}
	}
	mgr.UpdateDiscoveredPeers(metadata.File, update)
}

// runRestDiscovery polls a REST endpoint returning the same
// []fileDiscoveryRecord shape, feeding the Rest source. Separated from
// runFileDiscovery despite the shared shape because the two sources
// have independent priority and independent failure domains (spec.md
// §6: four discovery sources, OnChain > File > Rest > Config).
func runRestDiscovery(ctx context.Context, log *logrus.Entry, mgr *connectivity.Manager, url string, interval time.Duration) {
	if url == "" {
		return
	}
	client := &http.Client{Timeout: 5 * time.Second}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		pollRestDiscovery(ctx, log, client, mgr, url)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func pollRestDiscovery(ctx context.Context, log *logrus.Entry, client *http.Client, mgr *connectivity.Manager, url string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return
	}
	resp, err := client.Do(req)
	if err != nil {
		log.WithError(err).WithField("url", url).Warn("rest discovery: request failed")
		return
	}
	defer resp.Body.Close()

	var records []fileDiscoveryRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		log.WithError(err).WithField("url", url).Warn("rest discovery: malformed response")
		return
	}

	update := make(map[peerid.PeerID]discoveryEntry)
	for _, rec := range records {
		for _, a := range rec.Addrs {
			maddr, err := multiaddr.NewMultiaddr(a)
			if err != nil {
				continue
			}
			info, err := peer.AddrInfoFromP2pAddr(maddr)
			if err != nil {
				continue
			}
			id := peerIDFromLibp2p(info.ID)
			entry := update[id]
			if entry.Addrs == nil {
				entry.Addrs = make(map[string]struct{})
				entry.Keys = map[string]struct{}{info.ID.String(): {}}
			}
			entry.Addrs[maddr.String()] = struct{}{}
			update[id] = entry
		}
	}
	mgr.UpdateDiscoveredPeers(metadata.Rest, update)
}
