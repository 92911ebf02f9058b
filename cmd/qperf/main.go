// Command qperf drives and serves the client/server micro-benchmarks
// implemented by the internal packages: the control channel, parameter
// table, and per-transport measurement loops (spec.md Sections 2 and 6).
package main

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/xid"
	"github.com/spf13/cobra"

	"qperf/internal/clock"
	"qperf/internal/config"
	"qperf/internal/control"
	"qperf/internal/metrics"
	"qperf/internal/params"
	"qperf/internal/rdma"
	"qperf/internal/registry"
	"qperf/internal/sockdrv"
	"qperf/internal/stats"
	appversion "qperf/internal/version"
	"qperf/internal/wire"
)

// protocolVersion is the on-wire REQUEST version (spec.md Section 6): the
// major component MUST NOT advance except on breaking changes.
var protocolVersion = wire.Version{Major: 1, Minor: 0, Patch: 0}

// cliFlags holds every option the CLI accepts, named after the option
// letters in spec.md Section 6.
type cliFlags struct {
	configPath string
	verbosity  int

	localPort  uint32
	remotePort uint32
	msgSize    uint32
	mtu        uint32
	sockBuf    uint32
	identifier string
	rate       string
	duration   uint32
	poll       bool
	rdAtomic   uint32
	affinity   uint32
	accessRecv bool
	flip       bool
	noMsgs     uint64
	verify     bool

	listen bool
}

func main() {
	os.Exit(run())
}

func run() int {
	flags := &cliFlags{}
	rootCmd := newRootCmd(flags)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "qperf:", err)
		return 1
	}
	return 0
}

func newRootCmd(flags *cliFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "qperf [flags] [host] [test...]",
		Short:   "Network micro-benchmark: sockets and RDMA",
		Version: appversion.Version,
		Args:    cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return dispatch(cmd, flags, args)
		},
		SilenceUsage: true,
	}

	f := cmd.Flags()
	f.StringVar(&flags.configPath, "config", "", "path to ambient configuration file (YAML)")
	f.CountVarP(&flags.verbosity, "verbose", "v", "increase verbosity (-v, -vv, -vvv)")
	f.BoolVarP(&flags.listen, "listen", "l", false, "run as server, listening for client control connections")

	f.Uint32Var(&flags.localPort, "lp", 0, "local control-channel port (0 = default)")
	f.Uint32Var(&flags.remotePort, "rp", 0, "remote control-channel / data port (0 = default)")
	f.Uint32VarP(&flags.msgSize, "msg-size", "M", 1, "message size in bytes")
	f.Uint32VarP(&flags.mtu, "mtu", "m", 1024, "RDMA path MTU in bytes")
	f.Uint32VarP(&flags.sockBuf, "sock-buf", "B", 0, "socket buffer size (0 = OS default)")
	f.StringVarP(&flags.identifier, "id", "I", "", `RDMA device identifier ("device[:port]")`)
	f.StringVarP(&flags.rate, "rate", "r", "", "rate-table key (send pacing)")
	f.Uint32VarP(&flags.duration, "time", "t", 10, "test duration in seconds")
	f.BoolVarP(&flags.poll, "poll", "P", false, "poll completions instead of blocking on events (RDMA)")
	f.Uint32VarP(&flags.rdAtomic, "rd-atomic", "A", 1, "outstanding RDMA read/atomic operations")
	f.Uint32Var(&flags.affinity, "affinity", 0, "CPU affinity hint")
	f.BoolVar(&flags.accessRecv, "access-recv", false, "touch the receive buffer after each completion")
	f.BoolVar(&flags.flip, "flip", false, "flip client/server roles for this test")
	f.Uint64Var(&flags.noMsgs, "nm", 0, "stop after this many messages (0 = unbounded)")
	f.BoolVar(&flags.verify, "verify", false, "verify RDMA atomic results (fatal on mismatch)")

	return cmd
}

func dispatch(cmd *cobra.Command, flags *cliFlags, args []string) error {
	cfg, err := loadConfig(flags.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if flags.localPort != 0 {
		cfg.Control.Port = int(flags.localPort)
	}
	sockdrv.SetAFRDSProcPath(cfg.Sysfs.RDSProcPath)
	sockdrv.SetAFSDPProcPath(cfg.Sysfs.SDPProcPath)

	logger := newLogger(cfg.Log, flags.verbosity)
	runID := xid.New().String()

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	stopMetrics := maybeServeMetrics(cfg.Metrics, reg, logger)
	defer stopMetrics()

	if flags.listen {
		return runServer(flags, cfg, logger, collector, runID)
	}

	if len(args) < 2 {
		return fmt.Errorf("client mode requires a host and at least one test name (or pass -l to listen)")
	}
	host, tests := args[0], args[1:]
	for _, name := range tests {
		if err := runClientTest(cmd, flags, cfg, logger, collector, runID, host, name); err != nil {
			return fmt.Errorf("test %s: %w", name, err)
		}
	}
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}

func newLogger(cfg config.LogConfig, verbosity int) *slog.Logger {
	level := config.ParseLogLevel(cfg.Level)
	if verbosity >= 2 {
		level = slog.LevelDebug
	} else if verbosity == 1 && level > slog.LevelInfo {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// maybeServeMetrics starts the Prometheus HTTP endpoint if cfg.Addr is set,
// returning a cleanup func safe to defer unconditionally.
func maybeServeMetrics(cfg config.MetricsConfig, reg *prometheus.Registry, logger *slog.Logger) func() {
	if cfg.Addr == "" {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: cfg.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server stopped", slog.String("error", err.Error()))
		}
	}()
	logger.Info("metrics endpoint listening", slog.String("addr", cfg.Addr), slog.String("path", cfg.Path))
	return func() { _ = srv.Close() }
}

// buildParams folds the CLI flags into a fresh parameter table, matching
// params.Table's SetByUser/SetByUserStr lifecycle (spec.md Section 4.3): an
// entry's set bit must mean the user actually passed that flag, not that
// cobra populated it with its zero-value default, or Validate would fail
// almost every run on parameters the current test never touches.
func buildParams(cmd *cobra.Command, flags *cliFlags) *params.Table {
	t := params.NewTable()
	changed := cmd.Flags().Changed

	if changed("lp") {
		_ = t.SetByUser(params.LocalPort, flags.localPort)
	}
	if changed("rp") {
		_ = t.SetByUser(params.RemotePort, effectiveRemotePort(flags))
	}
	if changed("msg-size") {
		_ = t.SetByUser(params.MsgSize, flags.msgSize)
	}
	if changed("mtu") {
		_ = t.SetByUser(params.MTU, flags.mtu)
	}
	if changed("sock-buf") {
		_ = t.SetByUser(params.SockBufSize, flags.sockBuf)
	}
	if changed("time") {
		_ = t.SetByUser(params.Duration, flags.duration)
	}
	if changed("poll") {
		_ = t.SetByUser(params.PollMode, boolToU32(flags.poll))
	}
	if changed("rd-atomic") {
		_ = t.SetByUser(params.RdAtomic, flags.rdAtomic)
	}
	if changed("affinity") {
		_ = t.SetByUser(params.Affinity, flags.affinity)
	}
	if changed("access-recv") {
		_ = t.SetByUser(params.AccessRecv, boolToU32(flags.accessRecv))
	}
	if changed("flip") {
		_ = t.SetByUser(params.Flip, boolToU32(flags.flip))
	}
	if changed("nm") {
		_ = t.SetByUser(params.NoMsgs, uint32(flags.noMsgs))
	}
	if changed("id") {
		_ = t.SetByUserStr(params.Identifier, flags.identifier)
	}
	if changed("rate") {
		_ = t.SetByUserStr(params.Rate, flags.rate)
	}
	return t
}

func effectiveRemotePort(flags *cliFlags) uint32 {
	if flags.remotePort != 0 {
		return flags.remotePort
	}
	return control.DefaultPort
}

func boolToU32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// runClientTest drives one test end to end: control-channel handshake,
// transport setup, the measurement loop via internal/registry, the barrier,
// and the final statistics exchange (spec.md Section 4.2).
func runClientTest(cmd *cobra.Command, flags *cliFlags, cfg *config.Config, logger *slog.Logger, collector *metrics.Collector, runID, host, testName string) error {
	entry, err := registry.Lookup(testName)
	if err != nil {
		return err
	}

	table := buildParams(cmd, flags)
	controlAddr := net.JoinHostPort(host, strconv.Itoa(cfg.Control.Port))

	ch, err := control.Dial(controlAddr)
	if err != nil {
		return fmt.Errorf("dial control channel %s: %w", controlAddr, err)
	}
	defer ch.Close()

	req := wire.Request{Version: protocolVersion, TestIndex: entry.Index}
	table.ToRequestParams(&req)
	if err := ch.SendRequest(req); err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	collector.TestStarted(testName, runID)
	defer collector.TestFinished(testName, runID)

	sess := &registry.Session{
		Channel:    ch,
		Params:     table,
		Finished:   &clock.Finished{},
		Block:      &stats.Block{},
		MsgSize:    int(table.U32(params.MsgSize)),
		NoMsgsCap:  uint64(table.U32(params.NoMsgs)),
		AccessRecv: flags.accessRecv,
		Verify:     flags.verify,
	}

	if err := setupTransport(sess, table, host, testName, true); err != nil {
		return fmt.Errorf("setup transport: %w", err)
	}
	defer closeTransport(sess)

	return runMeasurement(sess, entry, true, collector, testName, runID)
}

// runServer loops accepting one client control connection at a time, serving
// whatever test the client requested (spec.md Section 4.9: "the server reads
// the test index from the request and invokes the corresponding server
// function").
func runServer(flags *cliFlags, cfg *config.Config, logger *slog.Logger, collector *metrics.Collector, runID string) error {
	addr := net.JoinHostPort("", strconv.Itoa(cfg.Control.Port))
	l, err := control.Listen(addr)
	if err != nil {
		return err
	}
	defer l.Close()
	logger.Info("qperf server listening", slog.String("addr", addr))

	for {
		ch, err := control.Accept(l)
		if err != nil {
			return fmt.Errorf("accept: %w", err)
		}
		if err := serveOne(flags, cfg, logger, collector, runID, ch); err != nil {
			logger.Error("test failed", slog.String("error", err.Error()))
		}
	}
}

func serveOne(flags *cliFlags, cfg *config.Config, logger *slog.Logger, collector *metrics.Collector, runID string, ch *control.Channel) error {
	defer ch.Close()

	req, err := ch.RecvRequest(protocolVersion)
	if err != nil {
		return fmt.Errorf("recv request: %w", err)
	}
	entry, err := registry.LookupIndex(req.TestIndex)
	if err != nil {
		return err
	}

	table := params.NewTable()
	table.FromRequestParams(req)

	collector.TestStarted(entry.Name, runID)
	defer collector.TestFinished(entry.Name, runID)

	sess := &registry.Session{
		Channel:    ch,
		Params:     table,
		Finished:   &clock.Finished{},
		Block:      &stats.Block{},
		MsgSize:    int(table.U32(params.MsgSize)),
		NoMsgsCap:  uint64(table.U32(params.NoMsgs)),
		AccessRecv: table.U32(params.AccessRecv) != 0,
		Verify:     flags.verify,
	}

	peerHost, _, err := net.SplitHostPort(ch.Conn().RemoteAddr().String())
	if err != nil {
		return fmt.Errorf("split peer address: %w", err)
	}

	if err := setupTransport(sess, table, peerHost, entry.Name, false); err != nil {
		return fmt.Errorf("setup transport: %w", err)
	}
	defer closeTransport(sess)

	logger.Info("serving test", slog.String("test", entry.Name))
	return runMeasurement(sess, entry, false, collector, entry.Name, runID)
}

// rdmaPrefixes are the test-name prefixes dispatched through internal/rdma
// rather than internal/sockdrv (spec.md Section 4.8).
var rdmaPrefixes = []string{"rc_", "uc_", "ud_"}

func isRDMATest(name string) bool {
	for _, p := range rdmaPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// socketProto extracts the leading protocol tag ("tcp", "sdp", "udp", "rds")
// from a registered test name such as "sdp_bw" (internal/registry/tests.go
// registers exactly these four socket prefixes).
func socketProto(name string) string {
	if i := strings.IndexByte(name, '_'); i >= 0 {
		return name[:i]
	}
	return name
}

// setupTransport establishes whatever net.Conn / net.PacketConn / rdma.Device
// the selected test needs, and drives the RDMA handshake (Open/Init/Prepare)
// when applicable (spec.md Sections 4.6, 4.7).
func setupTransport(sess *registry.Session, table *params.Table, peerHost, testName string, isClient bool) error {
	if isRDMATest(testName) {
		return setupRDMA(sess, table, socketProto(testName), testName, isClient)
	}
	return setupSocket(sess, table, peerHost, socketProto(testName), isClient)
}

// rdmaTransportOf maps a test name's leading token ("rc", "uc", "ud") to the
// verbs queue-pair transport type it selects (spec.md Section 4.7).
func rdmaTransportOf(token string) rdma.Transport {
	switch token {
	case "uc":
		return rdma.TransportUC
	case "ud":
		return rdma.TransportUD
	default:
		return rdma.TransportRC
	}
}

func setupRDMA(sess *registry.Session, table *params.Table, token, testName string, isClient bool) error {
	opts := rdma.Options{
		Transport:       rdmaTransportOf(token),
		Identifier:      table.Str(params.Identifier),
		MsgSize:         table.U32(params.MsgSize),
		MaxSendWR:       rdmatestQueueDepth,
		MaxRecvWR:       rdmatestQueueDepth,
		MTUBytes:        table.U32(params.MTU),
		PollMode:        table.U32(params.PollMode) != 0,
		RdAtomic:        table.U32(params.RdAtomic),
		AccessRecv:      table.U32(params.AccessRecv) != 0,
		InlineThreshold: table.U32(params.MsgSize),
	}
	// Atomic tests post RdAtomic concurrent fetch-add/compare-swap
	// operations, each needing its own 8-byte local/remote slot rather than
	// racing on a single shared one (internal/rdmatest.AtomicRate).
	if strings.HasSuffix(testName, "fetch_add_mr") || strings.HasSuffix(testName, "compare_swap_mr") {
		opts.AtomicSlots = table.U32(params.RdAtomic)
	}
	// The write-poll latency test needs its spin-target and write-source
	// regions disjoint (internal/rdmatest.RDMAWritePollLatency) or the
	// local spin loop observes its own write instead of the peer's.
	if strings.HasSuffix(testName, "rdma_write_lat") {
		opts.BufRegions = 2
	}
	table.MarkUsed(params.Identifier)
	table.MarkUsed(params.MsgSize)
	table.MarkUsed(params.MTU)
	table.MarkUsed(params.PollMode)
	table.MarkUsed(params.RdAtomic)
	table.MarkUsed(params.AccessRecv)

	dev, err := rdma.Open(opts)
	if err != nil {
		return err
	}
	if err := dev.Init(sess.Channel, isClient); err != nil {
		dev.Close()
		return err
	}
	if err := dev.Prepare(); err != nil {
		dev.Close()
		return err
	}
	sess.RDMA = dev
	return nil
}

// rdmatestQueueDepth bounds outstanding sends/receives per queue pair; this
// mirrors internal/rdmatest.NCQE so the queue pair never runs out of room
// for the measurement loops' pipelined posts.
const rdmatestQueueDepth = 1024

// transportReadyLabel names the one-byte setup message the server sends
// once its data-plane listener is bound, so the client does not race the
// accept/bind with its own dial (spec.md Section 4.2's "transport setup
// messages", the same shape as the RDMA connection-context exchange).
const transportReadyLabel = "transport-ready"

func setupSocket(sess *registry.Session, table *params.Table, peerHost, proto string, isClient bool) error {
	port := int(table.U32(params.RemotePort))
	table.MarkUsed(params.RemotePort)
	table.MarkUsed(params.LocalPort)

	var err error
	switch proto {
	case "tcp":
		// The control channel is itself a TCP connection; reuse it as the
		// data path (spec.md Section 4.2).
		sess.Conn = sess.Channel.Conn()

	case "sdp":
		err = setupSDP(sess, peerHost, port, isClient)

	case "udp":
		err = setupUDP(sess, peerHost, port, isClient)

	case "rds":
		err = setupRDS(sess, peerHost, port, isClient)

	default:
		return fmt.Errorf("sockdrv: unrecognized transport %q", proto)
	}
	if err != nil {
		return err
	}

	// spec.md Section 4.6: "socket-buffer size ... applied on both ends".
	// 0 means leave the OS default alone.
	bufSize := int(table.U32(params.SockBufSize))
	table.MarkUsed(params.SockBufSize)
	if sess.Conn != nil {
		return sockdrv.SetBufSize(sess.Conn, bufSize)
	}
	if sess.PacketConn != nil {
		return sockdrv.SetBufSize(sess.PacketConn, bufSize)
	}
	return nil
}

// resolveIP turns a CLI-supplied host (dotted IP or DNS name) into a net.IP,
// since the SDP/RDS raw-socket constructors need an address, not a name.
func resolveIP(host string) net.IP {
	if ip := net.ParseIP(host); ip != nil {
		return ip
	}
	if addr, err := net.ResolveIPAddr("ip", host); err == nil {
		return addr.IP
	}
	return nil
}

func setupSDP(sess *registry.Session, peerHost string, port int, isClient bool) error {
	if isClient {
		if err := sess.Channel.RecvMesg(make([]byte, 1), transportReadyLabel); err != nil {
			return err
		}
		conn, err := sockdrv.DialSDP(sockdrv.RawAddr{IP: resolveIP(peerHost), Port: port})
		if err != nil {
			return fmt.Errorf("dial sdp %s:%d: %w", peerHost, port, err)
		}
		sess.Conn = conn
		return nil
	}

	l, err := sockdrv.ListenSDP(sockdrv.RawAddr{IP: net.IPv4zero, Port: port})
	if err != nil {
		return fmt.Errorf("listen sdp :%d: %w", port, err)
	}
	if err := sess.Channel.SendMesg(make([]byte, 1), transportReadyLabel); err != nil {
		l.Close()
		return err
	}
	conn, err := l.Accept()
	l.Close()
	if err != nil {
		return fmt.Errorf("accept sdp: %w", err)
	}
	sess.Conn = conn
	return nil
}

func setupUDP(sess *registry.Session, peerHost string, port int, isClient bool) error {
	if isClient {
		if err := sess.Channel.RecvMesg(make([]byte, 1), transportReadyLabel); err != nil {
			return err
		}
		pc, err := net.ListenPacket("udp", ":0")
		if err != nil {
			return fmt.Errorf("listen udp client socket: %w", err)
		}
		addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(peerHost, strconv.Itoa(port)))
		if err != nil {
			pc.Close()
			return fmt.Errorf("resolve udp peer %s:%d: %w", peerHost, port, err)
		}
		sess.PacketConn = pc
		sess.PeerAddr = addr
		return nil
	}

	pc, err := net.ListenPacket("udp", net.JoinHostPort("", strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("listen udp :%d: %w", port, err)
	}
	if err := sess.Channel.SendMesg(make([]byte, 1), transportReadyLabel); err != nil {
		pc.Close()
		return err
	}
	sess.PacketConn = pc
	return nil
}

func setupRDS(sess *registry.Session, peerHost string, port int, isClient bool) error {
	if isClient {
		if err := sess.Channel.RecvMesg(make([]byte, 1), transportReadyLabel); err != nil {
			return err
		}
		pc, err := sockdrv.ListenRDS(sockdrv.RawAddr{IP: net.IPv4zero, Port: 0})
		if err != nil {
			return fmt.Errorf("listen rds client socket: %w", err)
		}
		sess.PacketConn = pc
		sess.PeerAddr = sockdrv.RawAddr{IP: resolveIP(peerHost), Port: port}
		return nil
	}

	pc, err := sockdrv.ListenRDS(sockdrv.RawAddr{IP: net.IPv4zero, Port: port})
	if err != nil {
		return fmt.Errorf("listen rds :%d: %w", port, err)
	}
	if err := sess.Channel.SendMesg(make([]byte, 1), transportReadyLabel); err != nil {
		pc.Close()
		return err
	}
	sess.PacketConn = pc
	return nil
}

func closeTransport(sess *registry.Session) {
	if sess.RDMA != nil {
		sess.RDMA.Close()
	}
	if sess.Conn != nil {
		sess.Conn.Close()
	}
	if sess.PacketConn != nil {
		sess.PacketConn.Close()
	}
}

func runMeasurement(sess *registry.Session, entry *registry.Entry, isClient bool, collector *metrics.Collector, testName, runID string) error {
	ok, err := sess.Channel.Synchronize()
	if err != nil {
		return fmt.Errorf("synchronize: %w", err)
	}

	var timer clock.Timer
	var alarm *clock.Alarm
	if ok {
		timer.Start()
		alarm = clock.ArmAlarm(time.Duration(sess.Params.U32(params.Duration))*time.Second, sess.Finished)
		sess.Params.MarkUsed(params.Duration)

		var runErr error
		if isClient {
			runErr = entry.ClientFn(sess)
		} else {
			runErr = entry.ServerFn(sess)
		}
		alarm.Stop()
		timer.Stop()
		if runErr != nil {
			return runErr
		}
	}

	local := sess.Block.ToWire([9]uint64{})
	peer, err := sess.Channel.ExchangeResults(local)
	if err != nil {
		return fmt.Errorf("exchange results: %w", err)
	}
	sess.Block.AdoptRemote(peer)

	for role := stats.RoleLocalSend; int(role) < 4; role++ {
		c := sess.Block.Counters(role)
		collector.ObserveCounters(testName, runID, int(role), c.Bytes, c.Msgs, c.Errs)
	}
	collector.ObserveCQDepth(testName, runID, local.CQDepthHWM)

	if isClient {
		printReport(testName, sess, timer.Elapsed())
	}
	if err := sess.Params.Validate(); err != nil {
		return fmt.Errorf("validate parameters: %w", err)
	}
	return nil
}

// printReport writes the human-readable summary spec.md Section 7 requires
// ("the client prints the selected metrics ... to stdout").
func printReport(testName string, sess *registry.Session, elapsed time.Duration) {
	secs := elapsed.Seconds()
	send := sess.Block.Counters(stats.RoleLocalSend)
	recv := sess.Block.Counters(stats.RoleLocalRecv)

	fmt.Printf("%-20s", testName)
	if secs > 0 && send.Bytes > 0 {
		bw := float64(send.Bytes) / secs
		fmt.Printf("  bw = %.2f MB/s", bw/(1024*1024))
	}
	if secs > 0 && send.Msgs > 0 {
		rate := float64(send.Msgs) / secs
		fmt.Printf("  msg_rate = %.0f/s", rate)
		if recv.Msgs > 0 {
			lat := secs / float64(send.Msgs) * 1e6
			fmt.Printf("  latency = %.2f us", lat)
		}
	}
	fmt.Println()
}
