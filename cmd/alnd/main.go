// Command alnd is the orchestrator's composition root, mirroring the
// teacher's cmd/streammon/main.go: load configuration, open storage,
// wire every service, restore persisted state, and serve until signaled.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"alnorchestrator/internal/aggregator"
	"alnorchestrator/internal/broadcast"
	"alnorchestrator/internal/catalog"
	"alnorchestrator/internal/clock"
	"alnorchestrator/internal/config"
	"alnorchestrator/internal/console"
	"alnorchestrator/internal/cue"
	"alnorchestrator/internal/devices"
	"alnorchestrator/internal/eventbus"
	"alnorchestrator/internal/httpapi"
	"alnorchestrator/internal/models"
	"alnorchestrator/internal/offline"
	"alnorchestrator/internal/session"
	"alnorchestrator/internal/store"
	"alnorchestrator/internal/transaction"
	"alnorchestrator/internal/video"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("alnd: loading config: %v", err)
	}

	st, err := store.Open(store.BackendType(cfg.Storage), cfg.DataDir)
	if err != nil {
		log.Fatalf("alnd: opening store: %v", err)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cfg.Persist(ctx, st); err != nil {
		log.Printf("alnd: persisting config: %v", err)
	}

	cat := catalog.New(loadTokens(ctx, st))

	bus := eventbus.New()
	clk := clock.New(bus)
	txSvc := transaction.New(cat, bus)
	sessSvc := session.New(st, bus, clk, txSvc, session.WithOvertimeWarning(time.Duration(cfg.SessionTimeoutMinutes)*time.Minute))
	vidSvc := video.New(bus)
	offSvc := offline.New(st, bus, sessSvc, offline.WithMaxQueueSize(cfg.MaxOfflineQueueSize))
	devReg := devices.New(bus, devices.WithHeartbeatTimeout(cfg.HeartbeatTimeout))
	bcast := broadcast.New(bus, vidSvc)
	agg := aggregator.New(bus, sessSvc, txSvc, vidSvc, devReg, offSvc, bcast, aggregator.WithMaxRecentTransactions(cfg.RecentTransactionCount))

	var executor cue.CommandExecutor = &videoExecutor{video: vidSvc}
	if !cfg.VideoPlaybackEnabled {
		executor = noopExecutor{}
	}
	cueEngine := cue.New(bus, clk, vidSvc, executor)
	if defs, err := loadCueDefinitions(os.Getenv("CUE_DEFINITIONS_PATH")); err != nil {
		log.Printf("alnd: loading cue definitions: %v", err)
	} else if len(defs) > 0 {
		if err := cueEngine.LoadCues(defs); err != nil {
			log.Printf("alnd: cue definitions rejected: %v", err)
		}
	}
	cueEngine.Activate()

	if err := sessSvc.Restore(ctx); err != nil {
		log.Printf("alnd: restoring session: %v", err)
	}
	if err := offSvc.Restore(ctx); err != nil {
		log.Printf("alnd: restoring offline queue: %v", err)
	}
	if sess := sessSvc.Current(); sess != nil {
		devReg.Restore(sess.ConnectedDevices)
	}

	devReg.Start(ctx)
	defer devReg.Stop()

	httpSrv := httpapi.New(sessSvc, agg, offSvc, vidSvc, cat, devReg, bcast, cfg)
	consoleHandler := console.New(cfg, sessSvc, offSvc, vidSvc, cat, devReg, bcast, agg)

	mux := http.NewServeMux()
	mux.Handle("/console", consoleHandler)
	mux.Handle("/", httpSrv.Router())

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("alnd: listening on %s (https=%v)", cfg.ListenAddr, cfg.HTTPSEnabled)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("alnd: http server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("alnd: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("alnd: http shutdown: %v", err)
	}
	bcast.Close()
	agg.Close()
}

func loadTokens(ctx context.Context, st store.Store) []models.Token {
	var tokens []models.Token
	found, err := store.LoadJSON(ctx, st, store.KeyTokensAll, &tokens)
	if err != nil {
		log.Printf("alnd: loading token catalog: %v", err)
		return nil
	}
	if !found {
		log.Printf("alnd: no token catalog persisted under %q yet; starting with an empty catalog", store.KeyTokensAll)
		return nil
	}
	return tokens
}

func loadCueDefinitions(path string) ([]models.CueDefinition, error) {
	if path == "" {
		return nil, nil
	}
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var defs []models.CueDefinition
	if err := yaml.Unmarshal(blob, &defs); err != nil {
		return nil, err
	}
	for i := range defs {
		if err := defs[i].Validate(); err != nil {
			return nil, err
		}
	}
	return defs, nil
}

type noopExecutor struct{}

func (noopExecutor) Execute(ctx context.Context, cmd cue.Command) error {
	log.Printf("alnd: video playback disabled, dropping cue command %q", cmd.Action)
	return nil
}
