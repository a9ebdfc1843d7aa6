// Command mboxsync-server accepts replication connections and answers
// APPLY/GET/SET requests against a mail store, the receiving side of the
// protocol described by SPEC_FULL.md.
package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/replicon/mboxsync/config"
	"github.com/replicon/mboxsync/dlist"
	"github.com/replicon/mboxsync/framework/hooks"
	"github.com/replicon/mboxsync/internal/metrics"
	"github.com/replicon/mboxsync/log"
	"github.com/replicon/mboxsync/protocol"
	"github.com/replicon/mboxsync/replica"
	"github.com/replicon/mboxsync/sieve"
	"github.com/replicon/mboxsync/store"
	"github.com/replicon/mboxsync/wire"
)

func main() {
	app := cli.NewApp()
	app.Name = "mboxsync-server"
	app.Usage = "accept mailbox replication connections"
	app.ExitErrHandler = func(c *cli.Context, err error) {
		cli.HandleExitCoder(err)
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			cli.OsExiter(1)
		}
	}
	app.Flags = []cli.Flag{
		&cli.PathFlag{
			Name:    "config",
			Usage:   "mboxsync-server configuration file",
			EnvVars: []string{"MBOXSYNC_CONFIG"},
			Value:   "/etc/mboxsync/server.conf",
		},
		&cli.StringFlag{
			Name:    "metrics-addr",
			Usage:   "address to serve /metrics on",
			EnvVars: []string{"MBOXSYNC_METRICS_ADDR"},
			Value:   ":9105",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	settings, err := config.Load(c.Path("config"))
	if err != nil {
		return fmt.Errorf("mboxsync-server: %w", err)
	}

	logger := log.Logger{Name: "mboxsync-server", Debug: settings.Debug}
	reportStaleSieveTempFiles(settings, logger)

	go serveMetrics(c.String("metrics-addr"), logger)

	ln, err := net.Listen("tcp", settings.ListenAddr)
	if err != nil {
		return fmt.Errorf("mboxsync-server: listen: %w", err)
	}
	logger.Msg("listening", "addr", settings.ListenAddr)

	hooks.AddHook(hooks.EventShutdown, func() { ln.Close() })
	hooks.AddHook(hooks.EventLogRotate, func() { logger.Msg("log rotate requested") })
	go watchSignals(logger)

	ms := store.NewMemStore()
	crc := replica.NewCRCNegotiator(settings.CRCMin, settings.CRCMax, settings.CRCStrict, ms.BestCRCVers)

	for {
		conn, err := ln.Accept()
		if err != nil {
			logger.Error("accept failed", err)
			return nil
		}
		go handleConn(conn, ms, crc, settings.SieveRoot, logger)
	}
}

// watchSignals translates SIGTERM/SIGINT into EventShutdown and SIGHUP into
// EventLogRotate, mirroring the original daemon's signal-driven control
// surface (SPEC_FULL.md §1, Ambient Stack).
func watchSignals(logger log.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	for sig := range sigCh {
		switch sig {
		case syscall.SIGHUP:
			hooks.RunHooks(hooks.EventLogRotate)
		default:
			logger.Msg("shutting down", "signal", sig.String())
			hooks.RunHooks(hooks.EventShutdown)
			os.Exit(0)
		}
	}
}

// handleConn reads the incoming verb word, lifts its dlist body through a
// real store.Stage-backed Stager so MESSAGE payloads actually land on
// disk, dispatches it, and answers OK or NO <TOKEN> (§4.H). This is the
// receiving half of the protocol: SendVerb/ReadReply on the client side,
// this loop on the server side.
func handleConn(conn net.Conn, ms store.MailStore, crc *replica.CRCNegotiator, sieveRoot string, logger log.Logger) {
	defer conn.Close()
	s := wire.NewStream(conn, conn)
	connLogger := logger
	connLogger.Name = "mboxsync-server/conn"

	stager := storeStager{ms: ms}
	sess := newSession(ms, crc, sieveRoot, connLogger)

	for {
		verb, err := s.Getword()
		if err != nil {
			connLogger.Error("connection closed", err)
			return
		}

		body, err := dlist.Parse(s, stager, sess.alg)
		if err != nil {
			connLogger.Error("malformed request body", err, "verb", verb)
			return
		}

		items, herr := sess.handle(verb, body)
		if herr == nil {
			for _, item := range items {
				if err := protocol.SendUntagged(s, item); err != nil {
					connLogger.Error("writing untagged reply", err)
					return
				}
			}
			if err := writeOK(s); err != nil {
				connLogger.Error("writing OK reply", err)
				return
			}
			continue
		}

		connLogger.Error("request failed", herr, "verb", verb)
		if err := writeNO(s, herr); err != nil {
			connLogger.Error("writing NO reply", err)
			return
		}
		if pe, ok := herr.(*protocol.Error); ok && !pe.Temporary() {
			return
		}
	}
}

func writeOK(s *wire.Stream) error {
	if err := s.Printf("OK done\r\n"); err != nil {
		return err
	}
	return s.Flush()
}

// writeNO renders err as a "NO <TOKEN> <message>" line, falling back to an
// untokened "NO <message>" for kinds §4.H never assigns a wire token
// (protocol.WireToken returns "" for those).
func writeNO(s *wire.Stream, err error) error {
	pe, ok := err.(*protocol.Error)
	if !ok {
		pe = protocol.New(protocol.IOError, err.Error(), nil)
	}
	if token := protocol.WireToken(pe.Kind); token != "" {
		if err := s.Printf("NO %s %s\r\n", token, pe.Message); err != nil {
			return err
		}
	} else if err := s.Printf("NO %s\r\n", pe.Message); err != nil {
		return err
	}
	return s.Flush()
}

func serveMetrics(addr string, logger log.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Msg("serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server exited", err)
	}
}

// reportStaleSieveTempFiles checks the configured sieve root
// at startup and publishes a reclaimable_bytes gauge for leftover
// sync_tmp-<pid> files a crashed upload never cleaned (SPEC_FULL.md §3.5).
func reportStaleSieveTempFiles(settings *config.Settings, logger log.Logger) {
	d := sieve.Dir{Path: settings.SieveRoot}
	stale, err := d.StaleTempFiles()
	if err != nil {
		logger.Error("checking for stale sieve temp files", err)
		return
	}
	var total int64
	for _, path := range stale {
		if info, err := os.Stat(path); err == nil {
			total += info.Size()
		}
	}
	metrics.ReclaimableBytes.Set(float64(total))
	if len(stale) > 0 {
		logger.Msg("found stale sieve temp files", "count", len(stale), "bytes", total)
	}
}
