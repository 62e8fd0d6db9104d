package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"

	chatx "github.com/planforge/planforge/agent/agents/chat"
	comparex "github.com/planforge/planforge/agent/agents/compare"
	researchx "github.com/planforge/planforge/agent/agents/research"
	contractx "github.com/planforge/planforge/agent/contract"
	llmx "github.com/planforge/planforge/agent/llm"
	sectionx "github.com/planforge/planforge/agent/section"
	storex "github.com/planforge/planforge/agent/store"
	configx "github.com/planforge/planforge/pkg/config"
	financex "github.com/planforge/planforge/pkg/finance"
	httpserverx "github.com/planforge/planforge/pkg/httpserver"
	_ "github.com/planforge/planforge/pkg/logger/autoload"
	mem0x "github.com/planforge/planforge/pkg/mem0"
	webhookx "github.com/planforge/planforge/pkg/webhook"
)

type AppConfig struct {
	WebhookURL string `envconfig:"WEBHOOK_URL"`
}

func main() {
	ctx := context.Background()
	appCfg := configx.MustNew[AppConfig]("")

	storeCfg := configx.MustNew[storex.Config]("PG")
	db, err := storex.NewDB(*storeCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("open postgres")
	}
	defer db.Close()

	store, err := storex.New(db)
	if err != nil {
		log.Fatal().Err(err).Msg("build store")
	}
	if err := store.CreateSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("create schema")
	}

	memoryCfg := configx.MustNew[mem0x.Config]("MEM0")
	memory, err := mem0x.NewStore(*memoryCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("build memory store")
	}

	financeCfg := configx.MustNew[financex.Config]("FINANCE")
	prices, err := financex.NewClient(*financeCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("build finance client")
	}

	var notifier contractx.Notifier
	if strings.TrimSpace(appCfg.WebhookURL) != "" {
		notifier = webhookx.MustNew(*configx.MustNew[webhookx.Config]("WEBHOOK"))
	}

	llmCfg := configx.MustNew[llmx.Config]("RESEARCH")
	registry, err := sectionx.NewRegistry(ctx, *llmCfg, prices)
	if err != nil {
		log.Fatal().Err(err).Msg("build section registry")
	}

	researchCfg := configx.MustNew[researchx.Config]("RESEARCH")
	research, err := researchx.New(registry, store, memory, notifier, *researchCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("build research orchestrator")
	}

	toolkit, err := chatx.NewToolkit(ctx, *llmCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("build chat toolkit")
	}
	chat, err := chatx.New(
		store,
		store,
		memory,
		toolkit.Classifier(),
		toolkit.Answerer(),
		toolkit.SectionEditor(),
		research,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("build chat orchestrator")
	}

	compareCfg := configx.MustNew[comparex.Config]("COMPARE")
	compare, err := comparex.New(store, store, research, toolkit.CompanyExtractor(), *compareCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("build compare orchestrator")
	}

	serverCfg := configx.MustNew[httpserverx.Config]("HTTP")
	router := httpserverx.NewRouter(store, store, research, chat, compare, serverCfg.AllowedOrigins)
	server := httpserverx.NewServer(*serverCfg, router)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		if err := server.Shutdown(context.Background()); err != nil {
			log.Error().Err(err).Msg("graceful shutdown failed")
		}
	}
}
