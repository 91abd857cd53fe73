// Command pkd-relay runs the two control loops that keep the relational
// store and the LDAP directory convergent: the Reconciler and the
// Revalidator. Both run on independent cron schedules and also
// accept an on-demand trigger via SIGUSR1 (reconcile) and SIGUSR2
// (revalidate) for operators who don't want to wait for the next tick.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/iland112/icao-local-pkd/ldapstore"
	"github.com/iland112/icao-local-pkd/log"
	"github.com/iland112/icao-local-pkd/metrics"
	"github.com/iland112/icao-local-pkd/reconcile"
	"github.com/iland112/icao-local-pkd/revalidate"
	"github.com/iland112/icao-local-pkd/sa"
)

func main() {
	configPath := flag.String("config", "pkd-relay.json", "path to the JSON config file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	failOnError(err, "loading config")
	failOnError(cfg.Validate(), "validating config")

	logger, err := log.Dial(cfg.SyslogNetwork, cfg.SyslogAddr, "pkd-relay")
	failOnError(err, "connecting logger")

	stats := metrics.NewPromScope(prometheus.DefaultRegisterer, "pkd_relay")

	dbMap, err := sa.NewDbMap(cfg.DB.dsn(), logger)
	failOnError(err, "opening database")

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

	certs := sa.NewCertificateStore(dbMap)
	crls := sa.NewCrlStore(dbMap)
	masters := sa.NewMasterListStore(dbMap)
	results := sa.NewValidationResultStore(dbMap)
	summaries := sa.NewReconciliationStore(dbMap)

	reconciler := reconcile.New(certs, crls, masters, ldapStore, summaries, logger, stats.NewScope("reconcile"))
	if cfg.ReconcileConcurrency > 0 {
		reconciler.Concurrency = cfg.ReconcileConcurrency
	}
	revalidator := revalidate.New(certs, results, crls, logger, stats.NewScope("revalidate"))

	ctx, cancel := context.WithCancel(context.Background())

	reconcileSpec := cfg.ReconcileCronSpec
	if reconcileSpec == "" {
		reconcileSpec = "*/15 * * * *"
	}
	revalidateSpec := cfg.RevalidateCronSpec
	if revalidateSpec == "" {
		revalidateSpec = "0 * * * *"
	}

	c := cron.New()
	_, err = c.AddFunc(reconcileSpec, func() {
		if _, err := reconciler.Run(ctx, "periodic", false); err != nil {
			logger.Errf("pkd-relay: reconcile tick failed: %v", err)
		}
	})
	failOnError(err, "scheduling reconciler")

	_, err = c.AddFunc(revalidateSpec, func() {
		if _, err := revalidator.Run(ctx); err != nil {
			logger.Errf("pkd-relay: revalidate tick failed: %v", err)
		}
	})
	failOnError(err, "scheduling revalidator")

	c.Start()
	logger.Infof("pkd-relay: started, reconcile=%q revalidate=%q", reconcileSpec, revalidateSpec)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
	go func() {
		for sig := range sigCh {
			switch sig {
			case syscall.SIGUSR1:
				logger.Info("pkd-relay: on-demand reconcile triggered")
				if _, err := reconciler.Run(ctx, "manual", false); err != nil {
					logger.Errf("pkd-relay: on-demand reconcile failed: %v", err)
				}
			case syscall.SIGUSR2:
				logger.Info("pkd-relay: on-demand revalidate triggered")
				if _, err := revalidator.Run(ctx); err != nil {
					logger.Errf("pkd-relay: on-demand revalidate failed: %v", err)
				}
			default:
				logger.Info("pkd-relay: shutdown signal received")
				c.Stop()
				cancel()
				return
			}
		}
	}()

	<-ctx.Done()
	logger.Info("pkd-relay: stopped")
}

func failOnError(err error, msg string) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
		os.Exit(1)
	}
}
