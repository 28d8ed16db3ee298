// Package profilers sets up profiling for the command line tools.
//
// If linked, it installs the profiler flags: -prof (HTTP pprof server), -cpu_profile and -mem_profile.
package profilers

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"runtime"
	"runtime/pprof"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagProfiler   = flag.Int("prof", -1, "If set, serves the pprof HTTP profiler at the given port and keeps the program alive at the end.")
	flagCPUProfile = flag.String("cpu_profile", "", "write cpu profile to `file`")
	flagMemProfile = flag.String("mem_profile", "", "write heap profile to `file` on exit")
	profilerAddr   string

	// globalCtx is set on the call to Setup.
	globalCtx context.Context
)

// Setup starts the HTTP (flag -prof) and CPU profilers (flag -cpu_profile), if they were configured.
// You should follow with a deferred call to OnQuit.
func Setup(ctx context.Context) {
	globalCtx = ctx
	if *flagProfiler >= 0 {
		setupHTTPProfiler()
	}
	if *flagCPUProfile != "" {
		if err := startCPUProfile(*flagCPUProfile); err != nil {
			klog.Fatalf("%+v", err)
		}
	}
}

// OnQuit should be called before the exit of the main() function, typically as a deferred call
// just after Setup. It stops the CPU profile, writes the heap profile and, if -prof is set, keeps
// the program alive until interrupted.
func OnQuit() {
	if *flagCPUProfile != "" {
		pprof.StopCPUProfile()
	}
	if *flagMemProfile != "" {
		if err := writeHeapProfile(*flagMemProfile); err != nil {
			klog.Errorf("%+v", err)
		}
	}
	if *flagProfiler >= 0 {
		httpProfilerOnQuit()
	}
}

func startCPUProfile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "could not create CPU profile")
	}
	if err = pprof.StartCPUProfile(f); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "could not start CPU profile")
	}
	return nil
}

// writeHeapProfile writes the heap profile to path, after a garbage collection.
func writeHeapProfile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "could not create heap profile")
	}
	runtime.GC()
	err = pprof.WriteHeapProfile(f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	return errors.Wrapf(err, "could not write heap profile to %q", path)
}

// setupHTTPProfiler serves the pprof handlers on the port given by -prof.
func setupHTTPProfiler() {
	profilerAddr = fmt.Sprintf("localhost:%d", *flagProfiler)
	klog.Infof("Starting profiler on %s/debug/pprof", profilerAddr)
	klog.Infof("- You can access it with: $ go tool pprof %s/debug/pprof/heap", profilerAddr)
	klog.Infof("- Program will be kept alive on end, you will have to interrupt it (Ctrl+C) to exit")
	go func() {
		klog.Fatal(http.ListenAndServe(profilerAddr, nil))
	}()
}

// httpProfilerOnQuit keeps the program alive, so the profile can be read, until it is interrupted.
func httpProfilerOnQuit() {
	// Don't freeze on panic.
	if err := recover(); err != nil {
		panic(err)
	}
	if globalCtx == nil || globalCtx.Err() != nil {
		// Already interrupted.
		return
	}

	// Garbage collect, to see if there is anything leaking.
	for range 10 {
		runtime.GC()
	}
	klog.Infof("- Program finished: kept alive with profiler opened at %s/debug/pprof", profilerAddr)
	klog.Infof("- Interrupt (Ctrl+C) to exit")
	<-globalCtx.Done()
	klog.Info("... exiting ...")
}
