// Command statusd is the T3 request loop: it reads one request at a time
// from stdin, dispatches it through the repository cache (M5), the diff
// engine (M4), and the tag resolver (M3), and writes one response to
// stdout per request (spec.md §2 "Data flow").
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/xid"
	"github.com/sourcegraph/log"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/sourcegraph/statusd/internal/diffengine"
	"github.com/sourcegraph/statusd/internal/gitrepo"
	"github.com/sourcegraph/statusd/internal/logutil"
	"github.com/sourcegraph/statusd/internal/protocol"
	"github.com/sourcegraph/statusd/internal/telemetry"
	"github.com/sourcegraph/statusd/internal/workpool"
)

func main() {
	opts := mustParseOptions()

	logutil.Init("statusd")
	logger := logutil.Scoped("statusd")

	instanceID := xid.New().String()
	logger.Info("starting statusd", log.String("instance", instanceID), log.Int("num_threads", opts.numThreads))

	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
		logger.Debug(fmt.Sprintf(format, args...))
	})); err != nil {
		logger.Warn("automaxprocs.Set failed", log.Error(err))
	}

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	reportCtx, stopReporting := context.WithCancel(context.Background())
	defer stopReporting()
	go telemetry.RunReporter(reportCtx, 30*time.Second, logger, metrics)

	pool := workpool.New(opts.numThreads)
	cache := gitrepo.NewCache()

	if opts.sigwinchPID > 0 {
		forwardSigwinch(opts.sigwinchPID, logger)
	}

	var shutdown sync.Once
	shutdownCh := make(chan struct{})
	if opts.lockFD >= 0 {
		watchLockFD(opts.lockFD, func() {
			shutdown.Do(func() { close(shutdownCh) })
		}, logger)
	}

	loop := &requestLoop{
		opts:    opts,
		pool:    pool,
		cache:   cache,
		metrics: metrics,
		logger:  logger,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		loop.run(os.Stdin, os.Stdout)
	}()

	select {
	case <-done:
	case <-shutdownCh:
		logger.Info("parent process gone, exiting")
		os.Exit(0)
	}
}

// requestLoop is T3: strictly serial dispatch, one request fully
// completed (including awaiting the tag future, invariant I4) before the
// next is accepted (spec.md §4.T1/T2/T3).
type requestLoop struct {
	opts    options
	pool    *workpool.Pool
	cache   *gitrepo.Cache
	metrics *telemetry.Metrics
	logger  log.Logger
}

func (l *requestLoop) run(in io.Reader, out io.Writer) {
	reader := protocol.NewReader(in)
	writer := protocol.NewWriter(out)

	for {
		req, err := reader.ReadRequest()
		if err == io.EOF {
			return
		}
		if err != nil {
			l.metrics.ParseErrors.Inc()
			l.logger.Warn("dropping malformed request", log.Error(err))
			continue
		}

		l.metrics.RequestsTotal.Inc()
		timer := telemetry.Start(l.metrics.RequestDuration)
		resp := l.handle(req)
		timer.Stop()

		if err := writer.WriteResponse(resp); err != nil {
			l.logger.Error("failed to write response", log.Error(err))
			return
		}
	}
}

// handle implements the per-request scope of spec.md §5: a tag-name
// future is always submitted and always drained before returning, no
// matter which exit path this function takes (invariant I4).
func (l *requestLoop) handle(req protocol.Request) (resp protocol.Response) {
	resp = protocol.Response{ID: req.ID}

	repo, err := l.cache.Get(req.Dir)
	if err != nil {
		l.metrics.NotARepo.Inc()
		// not-a-repo and io/library errors both yield is_repo=0 here;
		// spec.md §7 does not distinguish them in the response.
		l.logger.Debug("dir is not a repository", log.String("dir", req.Dir), log.Error(err))
		return resp
	}
	l.metrics.CachedRepos.Set(float64(l.cache.Len()))

	head, err := repo.HeadCommit()
	if err != nil {
		l.logger.Warn("failed to resolve HEAD", log.Error(err))
		return resp
	}

	// Start the tag-name future first so it overlaps the diff scan
	// (spec.md §4.M3), and defer draining it unconditionally so no
	// in-flight lookup ever crosses this request's boundary.
	type tagOutcome struct {
		name string
		err  error
	}
	tagCh := make(chan tagOutcome, 1)
	l.pool.Submit(func() {
		name, err := repo.Resolver().Resolve(repo.GitRepo(), repo.RefsGeneration(), head)
		tagCh <- tagOutcome{name, err}
	})
	defer func() {
		out := <-tagCh
		if out.err != nil {
			l.logger.Warn("tag resolution failed", log.Error(out.err))
			return
		}
		resp.Tag = out.name
	}()

	snap, err := repo.Snapshot(l.opts.numThreads)
	if err != nil {
		l.logger.Warn("failed to build index snapshot", log.Error(err))
		return resp
	}

	tree, err := repo.TreeAt(head)
	if err != nil {
		l.logger.Warn("failed to read HEAD tree", log.Error(err))
		return resp
	}

	if len(snap.Entries) > l.opts.dirtyMaxIndexSize {
		l.metrics.BudgetExceeded.Inc()
	}

	ignore := repo.IgnoreMatcher()
	diffOpts := diffengine.Options{Threads: l.opts.numThreads, DirtyMaxIndexSize: l.opts.dirtyMaxIndexSize}
	diff, err := diffengine.Compute(repo.Workdir(), tree, snap, ignore, l.pool, diffOpts)
	if err != nil {
		l.logger.Warn("diff engine failed", log.Error(err))
		return resp
	}
	l.metrics.ShardsDispatched.Add(float64(len(snap.Shards)))

	localBranch, _ := repo.LocalBranch()
	upstreamBranch, remoteURL, err := repo.Upstream(localBranch)
	if err != nil {
		l.logger.Warn("failed to resolve upstream", log.Error(err))
	}
	remoteName := repo.RemoteName(localBranch)
	upstreamHash := repo.UpstreamHash(localBranch, remoteName)
	ahead, behind, err := repo.AheadBehind(head, upstreamHash, 100000)
	if err != nil {
		l.logger.Warn("failed to compute ahead/behind", log.Error(err))
	}
	numStashes, err := repo.StashCount()
	if err != nil {
		l.logger.Warn("failed to read stash count", log.Error(err))
	}

	commitHex := ""
	if !head.IsZero() {
		commitHex = head.String()
	}

	resp.IsRepo = true
	resp.Workdir = repo.Workdir()
	resp.Commit = commitHex
	resp.LocalBranch = localBranch
	resp.UpstreamBranch = upstreamBranch
	resp.RemoteURL = remoteURL
	resp.RepoState = repo.RepoState()
	resp.HasStaged = int8(diff.Staged)
	resp.HasUnstaged = int8(diff.Unstaged)
	resp.HasUntracked = int8(diff.Untracked)
	resp.Ahead = ahead
	resp.Behind = behind
	resp.NumStashes = numStashes

	return resp
}

// forwardSigwinch relays SIGWINCH received by this process to pid
// (spec.md §6: "Purely cosmetic; no impact on core semantics").
func forwardSigwinch(pid int, logger log.Logger) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGWINCH)
	go func() {
		for range ch {
			if err := syscall.Kill(pid, syscall.SIGWINCH); err != nil {
				logger.Debug("failed to forward SIGWINCH", log.Error(err))
			}
		}
	}()
}

// watchLockFD blocks on reading fd until EOF (or error), then calls
// onEOF, matching gitstatusd's own parent-liveness mechanism (spec.md §6:
// "when readable-EOF, the process exits").
func watchLockFD(fd int, onEOF func(), logger log.Logger) {
	f := os.NewFile(uintptr(fd), "lock-fd")
	if f == nil {
		logger.Warn("invalid lock-fd, ignoring")
		return
	}
	go func() {
		buf := make([]byte, 1)
		for {
			_, err := f.Read(buf)
			if err == io.EOF {
				onEOF()
				return
			}
			if err != nil {
				onEOF()
				return
			}
		}
	}()
}
