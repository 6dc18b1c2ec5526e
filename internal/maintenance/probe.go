package maintenance

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/woozymasta/nodeatlas/internal/metrics"
	"github.com/woozymasta/nodeatlas/internal/models"
	"github.com/woozymasta/nodeatlas/internal/status"
	"github.com/woozymasta/nodeatlas/internal/storage"
)

// DialFunc opens a connection, net.Dialer.DialContext by default.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// ProbeOptions configure a reachability run.
type ProbeOptions struct {
	Dial    DialFunc
	Metrics *metrics.Metrics
	Port    int
	Timeout time.Duration
	Workers int
}

// ProbeResult counts the outcome of a run.
type ProbeResult struct {
	Reachable   int
	Unreachable int

	// Changed is the number of nodes whose pingable flag was flipped.
	Changed int
}

// Probe dials every node on a worker pool and stores the pingable flag.
func Probe(ctx context.Context, store *storage.Repository, nodes []models.Node, opts ProbeOptions) ProbeResult {
	if opts.Workers <= 0 {
		opts.Workers = 10
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	if opts.Dial == nil {
		d := &net.Dialer{Timeout: opts.Timeout}
		opts.Dial = d.DialContext
	}

	jobs := make(chan models.Node, len(nodes))
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		res ProbeResult
	)

	// Start workers
	for i := 0; i < opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for node := range jobs {
				ok, changed := probeNode(ctx, store, node, opts)
				mu.Lock()
				if ok {
					res.Reachable++
				} else {
					res.Unreachable++
				}
				if changed {
					res.Changed++
				}
				mu.Unlock()
			}
		}()
	}

	// Send jobs
	for _, n := range nodes {
		jobs <- n
	}
	close(jobs)

	wg.Wait()
	return res
}

func probeNode(ctx context.Context, store *storage.Repository, node models.Node, opts ProbeOptions) (reachable, changed bool) {
	logCtx := log.With().Str("addr", node.ID()).Int("port", opts.Port).Logger()

	dialCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	conn, err := opts.Dial(dialCtx, "tcp", net.JoinHostPort(node.ID(), strconv.Itoa(opts.Port)))
	cancel()
	if err == nil {
		_ = conn.Close()
		reachable = true
	} else {
		logCtx.Debug().Err(err).Msg("Node unreachable")
	}
	opts.Metrics.IncProbe(reachable)

	next := node.Status.With(status.FacetPingable, reachable)
	if next == node.Status {
		return reachable, false
	}

	if err := store.SetStatus(ctx, node.Addr, next); err != nil {
		logCtx.Error().Err(err).Msg("Failed to update node status")
		return reachable, false
	}
	logCtx.Trace().Bool("pingable", reachable).Msg("Node status updated")
	return reachable, true
}
