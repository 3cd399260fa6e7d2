package sendfile

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// chunkSize is the largest write that passes through the limiter in one
// token grab. Small enough to keep throttling smooth, large enough to keep
// syscall overhead down.
const chunkSize = 32 * 1024

// BandwidthManager caps direct-mode serving at a total byte rate shared
// fairly across client IPs. Every active IP gets an equal slice of the cap
// no matter how many parallel connections it opens; shares are rebalanced
// whenever an IP starts or finishes its last transfer.
type BandwidthManager struct {
	mu       sync.Mutex
	limitBps float64
	peers    map[string]*peerState
	logger   *slog.Logger
}

type peerState struct {
	limiter *rate.Limiter
	refs    int
}

// NewBandwidthManager creates a manager capped at bytesPerSec. A zero cap
// disables throttling entirely.
func NewBandwidthManager(bytesPerSec float64, logger *slog.Logger) *BandwidthManager {
	return &BandwidthManager{
		limitBps: bytesPerSec,
		peers:    make(map[string]*peerState),
		logger:   logger.With("component", "bandwidth"),
	}
}

// Writer wraps w with per-IP throttling for one transfer. The release func
// must be called when the transfer ends; with no cap configured it is a
// no-op and w is returned untouched.
func (bm *BandwidthManager) Writer(w http.ResponseWriter, r *http.Request) (http.ResponseWriter, func()) {
	if bm == nil || bm.limitBps == 0 {
		return w, func() {}
	}
	ip := clientIP(r)
	limiter := bm.acquire(ip)
	release := func() { bm.release(ip) }
	return &throttledWriter{
		ResponseWriter: w,
		ctx:            r.Context(),
		limiter:        limiter,
	}, release
}

func (bm *BandwidthManager) acquire(ip string) *rate.Limiter {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	st, ok := bm.peers[ip]
	if !ok {
		// Placeholder rate; rebalance sets the real share below.
		st = &peerState{limiter: rate.NewLimiter(1, chunkSize)}
		bm.peers[ip] = st
	}
	st.refs++
	bm.logger.Debug("transfer start", "ip", ip, "streams", st.refs)
	bm.rebalanceLocked()
	return st.limiter
}

func (bm *BandwidthManager) release(ip string) {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	st, ok := bm.peers[ip]
	if !ok {
		return
	}
	st.refs--
	bm.logger.Debug("transfer end", "ip", ip, "streams", st.refs)
	if st.refs <= 0 {
		delete(bm.peers, ip)
	}
	bm.rebalanceLocked()
}

// rebalanceLocked recomputes each IP's slice of the cap. Caller holds bm.mu.
func (bm *BandwidthManager) rebalanceLocked() {
	n := len(bm.peers)
	if n == 0 {
		return
	}
	share := rate.Limit(bm.limitBps / float64(n))
	for _, st := range bm.peers {
		st.limiter.SetLimit(share)
		st.limiter.SetBurst(chunkSize)
	}
}

// throttledWriter routes Write calls through a token-bucket limiter in
// chunkSize pieces, bailing out when the client disconnects.
type throttledWriter struct {
	http.ResponseWriter
	ctx     context.Context
	limiter *rate.Limiter
}

func (tw *throttledWriter) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		select {
		case <-tw.ctx.Done():
			return total, tw.ctx.Err()
		default:
		}

		n := len(p)
		if n > chunkSize {
			n = chunkSize
		}
		if err := tw.limiter.WaitN(tw.ctx, n); err != nil {
			return total, err
		}

		written, err := tw.ResponseWriter.Write(p[:n])
		total += written
		if err != nil {
			return total, err
		}
		p = p[n:]
	}
	return total, nil
}

// ReadFrom keeps io.Copy (used inside http.ServeContent) on the throttled
// Write path instead of the fast ReadFrom shortcut.
func (tw *throttledWriter) ReadFrom(src io.Reader) (int64, error) {
	buf := make([]byte, chunkSize)
	var total int64
	for {
		select {
		case <-tw.ctx.Done():
			return total, tw.ctx.Err()
		default:
		}

		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := tw.Write(buf[:nr])
			total += int64(nw)
			if werr != nil {
				return total, werr
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return total, nil
			}
			return total, rerr
		}
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (tw *throttledWriter) Unwrap() http.ResponseWriter {
	return tw.ResponseWriter
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
