package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/agent"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/config"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/diary"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/logger"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/providers"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/recommend"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/region"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/retrieval"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/session"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/vectorstore"
)

// app is the wired object graph shared by chat, diary and gateway.
type app struct {
	cfg      *config.Config
	sessions *session.Store
	diaries  *diary.Store
	index    *vectorstore.SQLiteIndex
	provider providers.LLMProvider
	composer *diary.Composer
	router   *agent.Router
}

func openStores(cfg *config.Config) (*session.Store, *diary.Store, error) {
	sessions, err := session.NewStore(cfg.SessionsPath())
	if err != nil {
		return nil, nil, err
	}
	diaries, err := diary.NewStore(cfg.DiaryPath())
	if err != nil {
		return nil, nil, err
	}
	return sessions, diaries, nil
}

func openIndex(ctx context.Context, cfg *config.Config) (*vectorstore.SQLiteIndex, error) {
	embedder, err := vectorstore.NewEmbedder(ctx, cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	index, err := vectorstore.OpenSQLiteIndex(cfg.IndexPath(), embedder)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	return index, nil
}

// loadGazetteer treats a missing file as an empty gazetteer, which leaves
// region filters off rather than refusing to start.
func loadGazetteer(path string) (region.Gazetteer, error) {
	if path == "" {
		return region.Gazetteer{}, nil
	}
	g, err := region.LoadGazetteer(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.WarnCF("app", "Region list not found, region filters disabled", map[string]interface{}{"path": path})
		return region.Gazetteer{}, nil
	}
	return g, err
}

func loadRecommender(cfg *config.Config) (*recommend.Recommender, error) {
	rules, err := recommend.LoadRules(cfg.ResolvePath(cfg.Data.RulesPath))
	if err != nil {
		return nil, err
	}
	catalog, err := recommend.LoadCatalog(cfg.ResolvePath(cfg.Data.ActivitiesPath))
	if err != nil {
		return nil, err
	}
	return recommend.NewRecommender(rules, catalog), nil
}

func llmOptions(cfg *config.Config) map[string]interface{} {
	opts := map[string]interface{}{}
	if cfg.Agent.MaxTokens > 0 {
		opts["max_tokens"] = cfg.Agent.MaxTokens
	}
	if cfg.Agent.Temperature > 0 {
		opts["temperature"] = cfg.Agent.Temperature
	}
	return opts
}

func newProvider(cfg *config.Config) (providers.LLMProvider, error) {
	if err := providers.ValidateProviderConfig(cfg); err != nil {
		return nil, fmt.Errorf("provider configuration: %w", err)
	}
	return providers.CreateProvider(cfg)
}

// openApp wires every component. The caller must Close it.
func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	provider, err := newProvider(cfg)
	if err != nil {
		return nil, err
	}
	sessions, diaries, err := openStores(cfg)
	if err != nil {
		return nil, err
	}
	facilities, err := loadGazetteer(cfg.ResolvePath(cfg.Data.FacilityRegions))
	if err != nil {
		return nil, err
	}
	ordinance, err := loadGazetteer(cfg.ResolvePath(cfg.Data.OrdinanceRegions))
	if err != nil {
		return nil, err
	}
	recommender, err := loadRecommender(cfg)
	if err != nil {
		return nil, err
	}
	index, err := openIndex(ctx, cfg)
	if err != nil {
		return nil, err
	}

	model := cfg.Agent.Model
	options := llmOptions(cfg)
	composer := diary.NewComposer(sessions, diaries, provider, model, options)
	router := agent.NewRouter(agent.Dependencies{
		Provider:    provider,
		Sessions:    sessions,
		Diary:       composer,
		Retriever:   retrieval.New(index, facilities, ordinance, retrieval.OptionsFromConfig(cfg.Retrieval)),
		Recommender: recommender,
	}, agent.Options{
		Model:             model,
		LLMOptions:        options,
		MaxToolIterations: cfg.Agent.MaxToolIterations,
		HistoryWindow:     cfg.Agent.HistoryWindow,
		ActivityOfferTurn: cfg.Agent.ActivityOfferTurn,
	})

	logger.InfoCF("app", "Companion ready", map[string]interface{}{
		"provider":        providers.ActiveProviderName(cfg),
		"model":           model,
		"embedding_model": index.ModelID(),
		"data_home":       cfg.HomePath(),
	})

	return &app{
		cfg:      cfg,
		sessions: sessions,
		diaries:  diaries,
		index:    index,
		provider: provider,
		composer: composer,
		router:   router,
	}, nil
}

func (a *app) Close() error {
	logger.Sync()
	if a.index != nil {
		return a.index.Close()
	}
	return nil
}
