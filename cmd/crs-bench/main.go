// Command crs-bench drives an Engine end to end against a real,
// mmap-backed host (internal/hostimpl) instead of the in-memory
// MockHost: a handful of goroutines stand in for mutator threads and
// post class-load/first-call records concurrently while a background
// ticker flushes and occasionally evicts, so the buffer pool's
// commit/uncommit watermark and the eviction protocol's rewrite path
// both see real traffic.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	crs "github.com/crsruntime/crs-core"
	"github.com/crsruntime/crs-core/internal/hostapi"
	"github.com/crsruntime/crs-core/internal/hostimpl"
	"github.com/crsruntime/crs-core/internal/logging"
)

func main() {
	var (
		areaStr    = flag.String("area", "4MiB", "size of the reserved buffer-pool region (e.g. 4MiB, 512KiB)")
		threads    = flag.Int("threads", 4, "number of concurrent posting goroutines")
		duration   = flag.Duration("duration", 10*time.Second, "how long to run before stopping")
		flushEvery = flag.Duration("flush-every", 200*time.Millisecond, "interval between flush passes")
		evictEvery = flag.Duration("evict-every", 750*time.Millisecond, "interval between simulated metaspace evictions")
		classes    = flag.Int("classes", 64, "number of distinct classes to simulate loading")
		verbose    = flag.Bool("v", false, "verbose (debug-level) logging")
		logFormat  = flag.String("log-format", "text", "log output format: text, logfmt, json")
	)
	flag.Parse()

	areaSize, err := humanize.ParseBytes(*areaStr)
	if err != nil {
		log.Fatalf("invalid -area %q: %v", *areaStr, err)
	}

	level := logging.LevelInfo
	if *verbose {
		level = logging.LevelDebug
	}
	logger := logging.NewLogger(&logging.Config{
		Level:  level,
		Format: logging.Format(*logFormat),
		Output: os.Stderr,
	})
	logging.SetDefault(logger)

	host := hostimpl.New(logger)
	engine := crs.New(host, crs.Options{Logger: logger})
	if err := engine.Init(int(areaSize)); err != nil {
		log.Fatalf("engine init: %v", err)
	}
	if err := engine.Engage(nil); err != nil {
		log.Fatalf("engine engage: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, cancelDuration := context.WithTimeout(ctx, *duration)
	defer cancelDuration()

	var posted atomic.Uint64
	var wg sync.WaitGroup
	for i := 0; i < *threads; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			runMutator(ctx, engine, idx, *classes, &posted)
		}(i)
	}

	flushTicker := time.NewTicker(*flushEvery)
	defer flushTicker.Stop()
	evictTicker := time.NewTicker(*evictEvery)
	defer evictTicker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-flushTicker.C:
			if err := engine.FlushBuffers(false); err != nil {
				logger.Warn("flush failed", "error", err)
			}
		case <-evictTicker.C:
			classID := uint64(rand.Intn(*classes))
			engine.NotifyMetaspaceEvictionClass(hostapi.ClassRef(classID+1), classID)
		}
	}

	wg.Wait()
	if err := engine.FlushBuffers(true); err != nil {
		logger.Warn("final flush failed", "error", err)
	}
	engine.Disable("bench run complete")

	snap := engine.Metrics().Snapshot()
	fmt.Printf("posted:            %d\n", posted.Load())
	fmt.Printf("class loads:       %d (%d blown)\n", snap.ClassLoads, snap.ClassLoadsBlown)
	fmt.Printf("first calls:       %d (%d blown)\n", snap.FirstCalls, snap.FirstCallsBlown)
	fmt.Printf("tombstones:        %d\n", snap.Tombstones)
	fmt.Printf("overflow events:   %d (%s reclaimed)\n", snap.OverflowEvents, humanize.Bytes(snap.OverflowBytesReclaimed))
	fmt.Printf("flush ops:         %d (p50=%s p99=%s)\n", snap.FlushOps, time.Duration(snap.LatencyP50Ns), time.Duration(snap.LatencyP99Ns))
	fmt.Printf("events delivered:  %d (%d errors)\n", snap.EventsDelivered, snap.EventDeliveryErrors)
	fmt.Printf("buffers committed: %d, bytes used: %s\n", snap.BuffersCommitted, humanize.Bytes(uint64(snap.BytesUsed)))
}

// runMutator simulates one mutator thread: it attaches to the engine,
// repeatedly posts class-load and first-call records for a rotating
// cast of synthetic classes, and releases its buffer on exit.
func runMutator(ctx context.Context, engine *crs.Engine, idx, numClasses int, posted *atomic.Uint64) {
	th := engine.AttachThread(fmt.Sprintf("mutator-%d[tid=%d]", idx, unix.Gettid()))
	defer engine.NotifyThreadExit(th)

	var lastSource string
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		classID := uint64(rand.Intn(numClasses))
		source := "file:/synthetic/" + strconv.Itoa(int(classID)%8) + ".jar"
		sameAsAnchor := source == lastSource
		lastSource = source

		if err := engine.NotifyClassLoad(th, uint64(idx), classID, [32]byte{}, false, source, sameAsAnchor); err == nil {
			posted.Add(1)
		}
		if err := engine.NotifyFirstCall(th, classID*1000+1, classID); err == nil {
			posted.Add(1)
		}

		time.Sleep(time.Microsecond * 50)
	}
}
