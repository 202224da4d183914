// Command node runs a single bulk-round participant as an HTTP service: it
// loads a roster and this member's own keys, serves the wire transport and
// status endpoints described in package service, and starts one round on
// request.
//
// # Roster file
//
// A JSON array of entries produced by cmd/keygen, one per member:
//
//	[
//	  {"id": "...", "key": "...", "dh": "...", "address": "http://10.0.0.2:8090", "leader": true},
//	  {"id": "...", "key": "...", "dh": "...", "address": "http://10.0.0.3:8090"}
//	]
//
// # Shuffle backend
//
// This binary wires shuffle.NewHub, the deterministic stand-in described in
// package shuffle: it is not an anonymity-preserving shuffle, and it
// coordinates only within a single process. It exists so this binary is
// runnable end to end without a real verifiable shuffle implementation;
// running several `node` processes against each other over the wire
// transport exercises the bulk-round protocol and the HTTP surface
// faithfully, but not the shuffle's anonymity property.
//
// # Usage
//
//	go run ./cmd/node --addr=:8090 --roster=roster.json --self=<id> \
//	  --signing-key=<hex> --dh-key=<hex> --data="hello, group"
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nblp/dcnet/bulk"
	"github.com/nblp/dcnet/cmd/common"
	"github.com/nblp/dcnet/group"
	"github.com/nblp/dcnet/service"
	"github.com/nblp/dcnet/shuffle"
)

func main() {
	var (
		addr          = flag.String("addr", ":8090", "HTTP listen address")
		rosterPath    = flag.String("roster", "", "Path to the roster JSON file")
		selfHex       = flag.String("self", "", "This member's id (hex), must appear in the roster")
		signingKeyHex = flag.String("signing-key", "", "Ed25519 signing key (hex)")
		dhKeyHex      = flag.String("dh-key", "", "X25519 long-term DH key (hex)")
		data          = flag.String("data", "", "Cleartext this member contributes to the round it starts")
		appBroadcast  = flag.Bool("app-broadcast", false, "Run in leader-aggregated mode instead of full broadcast")
		autoStart     = flag.Bool("auto-start", false, "Start the round immediately instead of waiting for SIGUSR1")
	)
	flag.Parse()

	logger := slog.Default()

	if *rosterPath == "" || *selfHex == "" || *signingKeyHex == "" || *dhKeyHex == "" {
		fmt.Println("Error: --roster, --self, --signing-key, and --dh-key are required")
		os.Exit(1)
	}

	self, err := group.IDFromHex(*selfHex)
	if err != nil {
		fmt.Printf("invalid --self: %v\n", err)
		os.Exit(1)
	}

	entries, err := common.LoadRoster(*rosterPath)
	if err != nil {
		fmt.Printf("loading roster: %v\n", err)
		os.Exit(1)
	}
	members, leader, err := common.ToMembers(entries)
	if err != nil {
		fmt.Printf("parsing roster: %v\n", err)
		os.Exit(1)
	}
	grp, err := group.New(members, leader, group.CompleteGroup)
	if err != nil {
		fmt.Printf("building group: %v\n", err)
		os.Exit(1)
	}

	signingKey, err := common.LoadOrGenerateSigningKey(*signingKeyHex)
	if err != nil {
		fmt.Printf("signing key: %v\n", err)
		os.Exit(1)
	}
	_, dhPriv, err := common.LoadOrGenerateDHKey(*dhKeyHex)
	if err != nil {
		fmt.Printf("dh key: %v\n", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	metrics := service.NewMetrics(registry)
	node := service.NewNode(self, metrics, logger)

	for _, e := range entries {
		node.Network().SetPeerAddr(e.ID, e.Address)
	}

	router := node.Router(promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	httpServer := &http.Server{
		Addr:         *addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		logger.Info("node listening", slog.String("addr", *addr), slog.String("self", self.String()))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	startRound := func() {
		roundID := group.NewID()
		hub := shuffle.NewHub(grp.Size())
		cfg := bulk.Config{AppBroadcast: *appBroadcast}
		creds := bulk.Credentials{ID: self, Priv: signingKey, DHPriv: dhPriv}
		getData := func(maxBytes int) ([]byte, bool) { return []byte(*data), false }

		round, err := bulk.New(roundID, creds, grp, cfg, node.NetworkFor(roundID), getData,
			hub.NewFactory(), hub.NewFactory(), logger)
		if err != nil {
			logger.Error("constructing round failed", slog.Any("error", err))
			return
		}
		node.Track(roundID, round)
		if err := round.Start(ctx); err != nil {
			logger.Error("starting round failed", slog.Any("error", err))
		} else {
			logger.Info("round started", slog.String("round_id", roundID.String()))
		}
	}

	if *autoStart {
		time.Sleep(200 * time.Millisecond)
		startRound()
	}

	startSig := make(chan os.Signal, 1)
	signal.Notify(startSig, syscall.SIGUSR1)
	go func() {
		for range startSig {
			startRound()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	cancel()
	node.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.Any("error", err))
	}
}
