// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command qnsd is the qualified-networks core daemon. It loads an
// asset-default carrier config bundle, wires up the process-wide registry
// against the in-memory feed doubles in internal/feeds/fake (no real
// platform feed implementations exist for this codebase — see
// internal/feeds's package doc), and serves Prometheus metrics over HTTP.
//
// A real device build would replace the fake feeds with Android service
// bindings implementing the feeds.* interfaces; everything downstream of
// RegisterSlot is unchanged either way.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"grimm.is/qns/internal/feeds"
	"grimm.is/qns/internal/feeds/fake"
	"grimm.is/qns/internal/logging"
	"grimm.is/qns/internal/metrics"
	"grimm.is/qns/internal/registry"
	"grimm.is/qns/internal/types"
)

func main() {
	configPath := flag.String("config", "configs/asset-default.hcl", "path to the asset-default carrier config bundle")
	listen := flag.String("listen", ":9100", "address to serve /metrics on")
	statePath := flag.String("state-dir", "", "directory for persisted state (country code); empty disables persistence")
	flag.Parse()

	logger := logging.New(logging.DefaultConfig())
	logging.SetDefault(logger)
	log := logger.WithComponent("qnsd")

	assetDefault, err := os.ReadFile(*configPath)
	if err != nil {
		log.Error("failed to read carrier config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telephony := fake.NewTelephony()
	connectivity := fake.NewConnectivity()
	wifi := fake.NewWifi()

	countryCodePath := ""
	if *statePath != "" {
		countryCodePath = *statePath + "/country_code.yaml"
	}

	q, err := registry.NewQnsComponents(ctx, registry.Config{
		Logger:          logger,
		Telephony:       telephony,
		Connectivity:    connectivity,
		Wifi:            wifi,
		CountryCodePath: countryCodePath,
	})
	if err != nil {
		log.Error("failed to construct registry", "error", err)
		os.Exit(1)
	}

	if err := q.RegisterSlot(ctx, feeds.SlotID(0), registry.SlotFeeds{
		CarrierConfig:   fake.NewCarrierConfig(),
		Provisioning:    fake.NewProvisioning(),
		Ims:             fake.NewIms(),
		AltEvents:       fake.NewAltEvents(),
		CrossSimEnabled: false,
		IsDefaultData:   true,
		AssetDefault:    assetDefault,
	}); err != nil {
		log.Error("failed to register slot 0", "error", err)
		os.Exit(1)
	}

	q.Evaluator(feeds.SlotID(0)).Subscribe(types.CapabilityIMS, func(info types.QualifiedNetworksInfo) {
		log.Info("qualified networks changed", "slot", 0, "capability", "IMS", "access_networks", info.AccessNetworks, "notify_iwlan_disabled", info.NotifyIwlanDisabled)
	})

	srv := &http.Server{Addr: *listen, Handler: metrics.Handler()}
	go func() {
		log.Info("serving metrics", "addr", *listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server stopped", "error", err)
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc

	log.Info("shutting down")
	cancel()
	srv.Close()
	q.Close()
}
