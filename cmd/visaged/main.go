// Command visaged is the Visage face-recognition daemon. It loads
// configuration and the compiled-in quirk database, spawns the engine
// actor, opens the template store, and serves the D-Bus IPC surface
// until it receives SIGINT or SIGTERM.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/sovren-software/visage/internal/config"
	"github.com/sovren-software/visage/internal/engine"
	"github.com/sovren-software/visage/internal/ipc"
	"github.com/sovren-software/visage/internal/quirks"
	"github.com/sovren-software/visage/internal/store"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("load configuration")
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	entry := log.WithField("component", "visaged")

	quirkDB, err := quirks.Load()
	if err != nil {
		entry.WithError(err).Fatal("load quirk database")
	}
	entry.WithField("quirks", quirkDB.Len()).Info("quirk database loaded")

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		entry.WithError(err).Fatal("open template store")
	}
	defer st.Close()

	eng, err := engine.Spawn(cfg, quirkDB, entry.WithField("component", "engine"))
	if err != nil {
		entry.WithError(err).Fatal("spawn engine actor")
	}
	defer eng.Shutdown()

	svc := ipc.New(eng, st, cfg, entry.WithField("component", "ipc"))
	conn, err := ipc.Serve(svc)
	if err != nil {
		entry.WithError(err).Fatal("serve IPC")
	}
	defer conn.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	entry.WithField("signal", sig.String()).Info("shutting down")
}
