// Command pkd-management runs the ingestion, classification, validation,
// storage, and progress-streaming pipeline: it accepts uploaded
// certificate bundles and drives them through the Upload Orchestrator.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/iland112/icao-local-pkd/cms"
	"github.com/iland112/icao-local-pkd/ldapstore"
	"github.com/iland112/icao-local-pkd/log"
	"github.com/iland112/icao-local-pkd/metrics"
	"github.com/iland112/icao-local-pkd/progress"
	"github.com/iland112/icao-local-pkd/sa"
	"github.com/iland112/icao-local-pkd/upload"
)

func main() {
	configPath := flag.String("config", "pkd-management.json", "path to the JSON config file")
	backfill := flag.Bool("backfill-metadata", false, "re-extract derived certificate columns from stored DER, then exit")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	failOnError(err, "loading config")
	failOnError(cfg.Validate(), "validating config")

	logger, err := log.Dial(cfg.SyslogNetwork, cfg.SyslogAddr, "pkd-management")
	failOnError(err, "connecting logger")

	stats := metrics.NewPromScope(prometheus.DefaultRegisterer, "pkd_management")

	dbMap, err := sa.NewDbMap(cfg.DB.dsn(), logger)
	failOnError(err, "opening database")

	if *backfill {
		failOnError(runBackfillMetadata(context.Background(), sa.NewCertificateStore(dbMap), logger), "backfilling metadata")
		return
	}

	ldapCfg := ldapstore.Config{
		ReadHosts:       cfg.LDAP.ReadHosts,
		WriteHost:       cfg.LDAP.WriteHost,
		WritePort:       cfg.LDAP.WritePort,
		BindDN:          cfg.LDAP.BindDN,
		BindPassword:    string(cfg.LDAP.BindPassword),
		BaseDN:          cfg.LDAP.BaseDN,
		DataContainer:   cfg.LDAP.DataContainer,
		NCDataContainer: cfg.LDAP.NCDataContainer,
		PoolMin:         cfg.LDAP.PoolMin,
		PoolMax:         cfg.LDAP.PoolMax,
		PoolTimeout:     cfg.LDAP.poolTimeout(),
		NetworkTimeout:  cfg.LDAP.networkTimeout(),
	}
	ldapStore := ldapstore.NewStore(ldapCfg)

	var anchor *cms.TrustAnchor
	if cfg.TrustAnchorPath != "" {
		pemBytes, err := os.ReadFile(cfg.TrustAnchorPath)
		failOnError(err, "reading trust anchor")
		anchor, err = cms.LoadTrustAnchor(pemBytes)
		failOnError(err, "parsing trust anchor")
	}

	if cfg.StageDir == "" {
		cfg.StageDir = os.TempDir()
	}
	if err := os.MkdirAll(cfg.StageDir, 0o700); err != nil {
		failOnError(err, "creating stage directory")
	}

	progressMgr := progress.NewManager()

	orch := upload.NewOrchestrator(
		sa.NewUploadStore(dbMap),
		sa.NewCertificateStore(dbMap),
		sa.NewCrlStore(dbMap),
		sa.NewMasterListStore(dbMap),
		sa.NewDeviationListStore(dbMap),
		sa.NewValidationResultStore(dbMap),
		ldapStore,
		progressMgr,
		logger,
		anchor,
		cfg.StageDir,
		cfg.Workers,
	)
	orch.Stats = stats.NewScope("upload")

	logger.Infof("pkd-management: started, stage_dir=%s workers=%d", cfg.StageDir, cfg.Workers)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("pkd-management: shutdown signal received")
		cancel()
		orch.Shutdown()
	}()

	<-ctx.Done()
	logger.Info("pkd-management: stopped")
}

func failOnError(err error, msg string) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
		os.Exit(1)
	}
}
