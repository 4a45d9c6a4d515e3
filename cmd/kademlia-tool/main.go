// Command kademlia-tool is a manual-inspection CLI: it assembles a small
// in-process Kademlia network over transport.SimTransport and
// storage/memstore, seeds each node's routing table with a handful of
// peers, then runs an iterative lookup and prints what it found. The
// simulated peers never touch a real socket (see package transport); only
// the optional --metrics-addr HTTP server does.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/kadcore/dht"
	"github.com/opd-ai/kadcore/metrics"
	"github.com/opd-ai/kadcore/storage/memstore"
	"github.com/opd-ai/kadcore/transport"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "kademlia-tool",
		Short: "Exercise a routing table and iterative lookup over an in-process simulated network",
	}
	root.AddCommand(newSimulateCmd())
	return root
}

func newSimulateCmd() *cobra.Command {
	var (
		nodeCount    int
		alpha        int
		k            int
		seedPerNode  int
		metricsAddr  string
		lookupTarget string
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Spin up a simulated network and run a FIND_NODE lookup",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd.Context(), simulateOptions{
				nodeCount:    nodeCount,
				alpha:        alpha,
				k:            k,
				seedPerNode:  seedPerNode,
				metricsAddr:  metricsAddr,
				lookupTarget: lookupTarget,
			})
		},
	}

	cmd.Flags().IntVar(&nodeCount, "nodes", 20, "number of simulated peers")
	cmd.Flags().IntVar(&alpha, "alpha", dht.DefaultAlpha, "lookup concurrency")
	cmd.Flags().IntVar(&k, "k", dht.DefaultK, "bucket capacity")
	cmd.Flags().IntVar(&seedPerNode, "seed-per-node", 3, "bootstrap contacts seeded into each node")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address (e.g. :9090)")
	cmd.Flags().StringVar(&lookupTarget, "target", "", "hex-encoded lookup key; random if empty")

	return cmd
}

type simulateOptions struct {
	nodeCount    int
	alpha        int
	k            int
	seedPerNode  int
	metricsAddr  string
	lookupTarget string
}

// peer bundles a Router with the FIND_VALUE-backing store its own
// handler consults, since a simulated network has no separate storage
// service behind each node.
type peer struct {
	router *dht.Router
	mu     sync.Mutex
	values map[string][]byte
}

func runSimulate(ctx context.Context, opts simulateOptions) error {
	if opts.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		collector := metrics.NewCollector(reg)
		go serveMetrics(opts.metricsAddr, reg)
		return runNetwork(ctx, opts, collector)
	}
	return runNetwork(ctx, opts, nil)
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	logrus.WithField("addr", addr).Info("serving prometheus metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logrus.WithError(err).Warn("metrics server stopped")
	}
}

func runNetwork(ctx context.Context, opts simulateOptions, collector *metrics.Collector) error {
	network := transport.NewNetwork()
	peers := make([]*peer, opts.nodeCount)
	selves := make([]*dht.Contact, opts.nodeCount)

	for i := 0; i < opts.nodeCount; i++ {
		id := randomID()
		self := dht.NewContact(id, transport.SimAddr(fmt.Sprintf("node-%d", i)))
		selves[i] = self

		p := &peer{values: make(map[string][]byte)}
		peers[i] = p

		t := network.NewTransport(self, p.handle)
		table := dht.NewRoutingTable(id, opts.k, memstore.New())

		routerOpts := []dht.RouterOption{
			dht.WithAlpha(opts.alpha),
			dht.WithK(opts.k),
		}
		if collector != nil {
			routerOpts = append(routerOpts, dht.WithMetrics(collector))
		}
		p.router = dht.NewRouter(self, t, table, routerOpts...)
	}

	seedNetwork(ctx, peers, selves, opts.seedPerNode)

	targetKey, err := hex.DecodeString(opts.lookupTarget)
	if err != nil {
		return fmt.Errorf("invalid --target: %w", err)
	}
	if opts.lookupTarget == "" {
		id := randomID()
		targetKey = id[:]
	}

	result, err := peers[0].router.Lookup(ctx, dht.LookupNode, targetKey)
	if err != nil {
		return fmt.Errorf("lookup failed: %w", err)
	}

	fmt.Printf("lookup target: %s\n", hex.EncodeToString(targetKey))
	fmt.Printf("found %d contacts:\n", len(result.Contacts))
	for _, c := range result.Contacts {
		fmt.Printf("  %s  %s\n", c.NodeID.Hex(), c.Address)
	}
	return nil
}

// seedNetwork gives each peer the next seedPerNode peers (in index order,
// wrapping around) as bootstrap contacts, the way a real node would learn
// about peers from a join procedure this module does not implement.
func seedNetwork(ctx context.Context, peers []*peer, selves []*dht.Contact, seedPerNode int) {
	n := len(peers)
	for i, p := range peers {
		for s := 0; s < seedPerNode && s < n-1; s++ {
			j := (i + s + 1) % n
			if err := p.router.UpdateContact(ctx, selves[j]); err != nil {
				logrus.WithError(err).Debug("seed contact rejected")
			}
		}
	}
}

func (p *peer) handle(ctx context.Context, from *dht.Contact, msg *dht.Message) (*dht.Response, error) {
	if err := p.router.UpdateContact(ctx, from); err != nil {
		logrus.WithError(err).Debug("update_contact failed for inbound sender")
	}

	switch msg.Method {
	case dht.Ping:
		return &dht.Response{}, nil

	case dht.Store:
		p.mu.Lock()
		p.values[hex.EncodeToString(msg.Item.Key)] = msg.Item.Value
		p.mu.Unlock()
		return &dht.Response{}, nil

	case dht.FindValue:
		p.mu.Lock()
		value, ok := p.values[hex.EncodeToString(msg.Key)]
		p.mu.Unlock()
		if ok {
			return &dht.Response{Item: &dht.Item{
				Key:       msg.Key,
				Value:     value,
				Publisher: p.router.Self().NodeID,
				Timestamp: time.Now(),
			}}, nil
		}
		fallthrough

	case dht.FindNode:
		hashed := dht.CreateID(msg.Key)
		contacts, err := p.router.Table().GetNearestContacts(ctx, hashed, dht.DefaultK, &p.router.Self().NodeID)
		if err != nil {
			return nil, err
		}
		return &dht.Response{Nodes: contacts}, nil

	default:
		return nil, fmt.Errorf("kademlia-tool: unknown method %s", msg.Method)
	}
}

func randomID() dht.ID {
	var buf [dht.IDBytes]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(err)
	}
	return dht.ID(buf)
}
