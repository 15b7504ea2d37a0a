/*------------------------------------------------------------------
 *
 * Purpose:	Main program for "aentropyd", an audio-entropy-harvesting
 *		daemon: reads a stereo capture device, debiases or whitens
 *		the samples, and credits the result to the kernel's
 *		entropy pool.
 *
 *------------------------------------------------------------------*/
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"

	"github.com/wrenfeld/aentropyd/internal/audiosource"
	"github.com/wrenfeld/aentropyd/internal/buildinfo"
	"github.com/wrenfeld/aentropyd/internal/config"
	"github.com/wrenfeld/aentropyd/internal/harvester"
	"github.com/wrenfeld/aentropyd/internal/kernelpool"
	"github.com/wrenfeld/aentropyd/internal/pidfile"
)

/*-------------------------------------------------------------------
 *
 * Name:        main
 *
 * Purpose:     Entry point for the entropy-harvesting daemon.
 *
 * Inputs:	Command line arguments.  See usage message (pflag's
 *		auto-generated --help) for details.
 *
 *--------------------------------------------------------------------*/

func main() {
	var def = config.Default()

	pflag.StringP("device", "d", def.DevicePath, "Capture device identifier, or \"default\" for the host API's default input device.")
	pflag.IntP("sample-rate", "r", def.SampleRate, "Capture sample rate in Hz.")
	pflag.BoolP("do-not-fork", "n", def.DoNotFork, "Run in the foreground instead of daemonizing.")
	pflag.BoolP("skip-health-check", "s", def.SkipHealthCheck, "Disable the FIPS 140-2 statistical health check (broadband mode only).")
	pflag.StringP("output-file", "o", def.OutputFile, "Write harvested bytes to this file instead of crediting the kernel pool.")
	pflag.CountP("verbose", "v", "Increase logging verbosity. May be repeated.")

	pflag.Bool("spike-mode", def.SpikeMode, "Use spike/Geiger-counter interval whitening instead of broadband debiasing.")
	pflag.Float64("spike-threshold-percent", def.SpikeThresholdPercent, "Spike onset threshold, as a signed percentage of full scale.")
	pflag.Float64("spike-edge-min-delta-percent", def.SpikeEdgeMinDeltaPercent, "Minimum rising-edge delta, as a percentage of full scale, to qualify as an onset.")
	pflag.Int("spike-channel-mask", def.SpikeChannelMask, "Bitmask of channels to watch for spikes: 1=left, 2=right, 3=both.")
	pflag.Int("spike-minimum-interval-frames", def.SpikeMinimumIntervalFrames, "Minimum frames between accepted spikes, per channel.")
	pflag.Bool("spike-test-mode", def.SpikeTestMode, "Print each qualifying spike event to stdout instead of crediting the kernel.")
	pflag.String("spike-log", def.SpikeLogPath, "Path to the spike-mode statistical health log.")
	pflag.Float64("spike-log-interval-seconds", def.SpikeLogIntervalSeconds, "Interval, in seconds, between health-log summary lines. 0 disables.")

	pflag.String("pid-file", def.PIDFile, "Path to the PID file.")
	var configFile = pflag.StringP("config-file", "c", "", "Load configuration from this YAML file, overriding the defaults above; flags given explicitly still take precedence.")
	var listDevices = pflag.Bool("list-devices", false, "List sound devices known to udev and exit.")
	var showVersion = pflag.Bool("version", false, "Print version information and exit.")

	pflag.Parse()

	if *showVersion {
		fmt.Println(buildinfo.String())
		return
	}

	var log = charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportTimestamp: true,
		Prefix:          "aentropyd",
	})
	var verboseCount, _ = pflag.CommandLine.GetCount("verbose")
	log.SetLevel(verbosityToLevel(verboseCount))

	if *listDevices {
		var resolver = audiosource.NewDeviceResolver()
		var devices, err = resolver.List()
		if err != nil {
			log.Fatal("list devices", "err", err)
		}
		for _, d := range devices {
			fmt.Println(d.String())
		}
		return
	}

	var cfg = def
	if *configFile != "" {
		var fileCfg, err = config.LoadFile(*configFile)
		if err != nil {
			log.Fatal("load config file", "err", err)
		}
		cfg = fileCfg
	}

	pflag.Visit(func(f *pflag.Flag) {
		applyFlagOverride(&cfg, f)
	})
	log.SetLevel(verbosityToLevel(cfg.Verbose))

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", "err", err)
	}

	if !cfg.DoNotFork {
		daemonize(log)
	}

	lockMemoryBestEffort(log)
	requestRealtimeSchedulingBestEffort(log)

	if err := pidfile.Write(cfg.PIDFile); err != nil {
		log.Fatal("write pid file", "err", err)
	}
	defer pidfile.Remove(cfg.PIDFile)

	var resolver = audiosource.NewDeviceResolver()
	log.Info("capturing", "device", resolver.Resolve(cfg.DevicePath), "sample_rate", cfg.SampleRate, "spike_mode", cfg.SpikeMode)

	var source, srcErr = audiosource.Open(cfg.DevicePath, cfg.SampleRate, 2000)
	if srcErr != nil {
		log.Fatal("open capture device", "err", srcErr)
	}

	var sink kernelpool.Sink
	var sinkErr error
	if cfg.OutputFile != "" {
		sink = kernelpool.NewFileSink(cfg.OutputFile)
	} else {
		sink, sinkErr = kernelpool.OpenKernelSink("")
	}
	if sinkErr != nil {
		log.Fatal("open kernel entropy sink", "err", sinkErr)
	}

	var shuttingDown atomic.Bool
	installSignalHandlers(log, &shuttingDown)

	var h, hErr = harvester.New(cfg, log, source, sink, shuttingDown.Load)
	if hErr != nil {
		log.Fatal("initialize harvester", "err", hErr)
	}
	defer h.Close()

	var eventSink func(channel int, value uint64, nBits int)
	if cfg.SpikeTestMode {
		eventSink = func(channel int, value uint64, nBits int) {
			fmt.Printf("channel=%d bits=%d(0x%x) n_bits=%d\n", channel, value, value, nBits)
		}
	}

	if err := h.Run(context.Background(), eventSink); err != nil {
		pidfile.Remove(cfg.PIDFile)
		var fe *harvester.FatalError
		if asFatalError(err, &fe) {
			log.Error("fatal error, exiting", "kind", fe.Kind, "err", fe.Err)
			os.Exit(exitCodeFor(fe.Kind))
		}
		log.Error("exiting", "err", err)
		os.Exit(1)
	}

	log.Info("aentropyd stopping")
}

func asFatalError(err error, out **harvester.FatalError) bool {
	if fe, ok := err.(*harvester.FatalError); ok {
		*out = fe
		return true
	}
	return false
}

func exitCodeFor(kind harvester.ErrorKind) int {
	switch kind {
	case harvester.ConfigInvalid:
		return 2
	case harvester.ResourceExhausted:
		return 3
	default:
		return 1
	}
}

// verbosityToLevel maps a repeated --verbose count to a charmbracelet/log
// level, mirroring dolog()'s LOG_DEBUG/LOG_INFO/LOG_WARNING gating in
// audio-entropyd.c.
func verbosityToLevel(count int) charmlog.Level {
	switch {
	case count >= 2:
		return charmlog.DebugLevel
	case count == 1:
		return charmlog.InfoLevel
	default:
		return charmlog.WarnLevel
	}
}

// applyFlagOverride copies one explicitly-set pflag value into cfg, so
// flags given on the command line win over both Default() and any
// --config-file, matching the teacher's precedence (explicit flag beats
// config file beats built-in default).
func applyFlagOverride(cfg *config.Configuration, f *pflag.Flag) {
	switch f.Name {
	case "device":
		cfg.DevicePath = f.Value.String()
	case "sample-rate":
		fmt.Sscanf(f.Value.String(), "%d", &cfg.SampleRate)
	case "do-not-fork":
		cfg.DoNotFork = f.Value.String() == "true"
	case "skip-health-check":
		cfg.SkipHealthCheck = f.Value.String() == "true"
	case "output-file":
		cfg.OutputFile = f.Value.String()
	case "verbose":
		fmt.Sscanf(f.Value.String(), "%d", &cfg.Verbose)
	case "spike-mode":
		cfg.SpikeMode = f.Value.String() == "true"
	case "spike-threshold-percent":
		fmt.Sscanf(f.Value.String(), "%g", &cfg.SpikeThresholdPercent)
	case "spike-edge-min-delta-percent":
		fmt.Sscanf(f.Value.String(), "%g", &cfg.SpikeEdgeMinDeltaPercent)
	case "spike-channel-mask":
		fmt.Sscanf(f.Value.String(), "%d", &cfg.SpikeChannelMask)
	case "spike-minimum-interval-frames":
		fmt.Sscanf(f.Value.String(), "%d", &cfg.SpikeMinimumIntervalFrames)
	case "spike-test-mode":
		cfg.SpikeTestMode = f.Value.String() == "true"
	case "spike-log":
		cfg.SpikeLogPath = f.Value.String()
	case "spike-log-interval-seconds":
		fmt.Sscanf(f.Value.String(), "%g", &cfg.SpikeLogIntervalSeconds)
	case "pid-file":
		cfg.PIDFile = f.Value.String()
	}
}

// daemonize is the do-not-fork decision from become_daemon() in proc.c.
// Go offers no direct fork() equivalent in a multithreaded runtime, so
// this re-execs the binary with --do-not-fork forced on once detached
// from the controlling terminal via setsid, matching the original's
// fork-then-setsid shape without the unsafe fork-after-thread-start
// behavior a raw syscall.Fork would have.
func daemonize(log *charmlog.Logger) {
	var args = append([]string{"--do-not-fork"}, os.Args[1:]...)
	var attr = &syscall.ProcAttr{
		Env:   os.Environ(),
		Files: []uintptr{0, 1, 2},
		Sys:   &syscall.SysProcAttr{Setsid: true},
	}
	var pid, err = syscall.ForkExec(os.Args[0], append([]string{os.Args[0]}, args...), attr)
	if err != nil {
		log.Error("daemonize: fork/exec failed, continuing in foreground", "err", err)
		return
	}
	log.Info("daemonized", "pid", pid)
	os.Exit(0)
}

// lockMemoryBestEffort mirrors main()'s mlockall(MCL_CURRENT|MCL_FUTURE)
// call in audio-entropyd.c: failures are logged, never fatal, since the
// daemon still functions correctly (just swappable) without the lock.
func lockMemoryBestEffort(log *charmlog.Logger) {
	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		log.Warn("mlockall failed, continuing without memory lock", "err", err)
	}
}

// requestRealtimeSchedulingBestEffort mirrors main()'s
// sched_setscheduler(0, SCHED_FIFO, ...) call: best-effort, since it
// requires privileges this process may not have.
func requestRealtimeSchedulingBestEffort(log *charmlog.Logger) {
	var param = &unix.SchedParam{Priority: 1}
	if err := unix.SchedSetscheduler(0, unix.SCHED_FIFO, param); err != nil {
		log.Warn("SCHED_FIFO request failed, continuing at default priority", "err", err)
	}
}

// installSignalHandlers wires SIGHUP/SIGINT/SIGTERM to the shutdown flag
// the harvester polls at its natural suspension points, and SIGUSR1/
// SIGUSR2 to verbosity toggles, per logging_handler() in audio-entropyd.c.
func installSignalHandlers(log *charmlog.Logger, shuttingDown *atomic.Bool) {
	var sigs = make(chan os.Signal, 4)
	signal.Notify(sigs, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)

	go func() {
		for s := range sigs {
			switch s {
			case syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM:
				log.Info("received signal, requesting shutdown", "signal", s)
				shuttingDown.Store(true)
			case syscall.SIGUSR1:
				log.SetLevel(charmlog.DebugLevel)
				log.Warn("verbose logging enabled via SIGUSR1")
			case syscall.SIGUSR2:
				log.SetLevel(charmlog.WarnLevel)
			}
		}
	}()
}
