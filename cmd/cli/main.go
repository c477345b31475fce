// mysteryforge CLI - one-shot case generation without a server
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/caseworks/mysteryforge/internal/config"
	"github.com/caseworks/mysteryforge/internal/infrastructure/logger"
	"github.com/caseworks/mysteryforge/internal/model"
	"github.com/caseworks/mysteryforge/internal/modelclient"
	"github.com/caseworks/mysteryforge/internal/observer"
	"github.com/caseworks/mysteryforge/internal/pipeline"
)

const usage = `mysteryforge CLI - generate one case without a running server

USAGE:
    mysteryforge-cli -date=<YYYY-MM-DD> [options]

OPTIONS:
    -date <date>         Case date, YYYY-MM-DD (required)
    -difficulty <level>  easy|medium|hard (optional)
    -crimeType <type>    free-text crime type hint (optional)
    -output <file>       write the finished case JSON here instead of stdout
    -timeout <duration>  overall run timeout (default: 5m)

ENVIRONMENT VARIABLES:
    MYSTERYFORGE_MODEL_API_KEY, MYSTERYFORGE_MODEL_BASE_URL, MYSTERYFORGE_MODEL_NAME
    (same variables cmd/server reads; see internal/config)
`

func main() {
	dateFlag := flag.String("date", "", "case date, YYYY-MM-DD")
	difficultyFlag := flag.String("difficulty", "", "easy|medium|hard")
	crimeTypeFlag := flag.String("crimeType", "", "crime type hint")
	outputFlag := flag.String("output", "", "output file (default: stdout)")
	timeoutFlag := flag.Duration("timeout", 5*time.Minute, "overall run timeout")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if *dateFlag == "" {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.Logging)

	modelClient, err := modelclient.NewHTTPProvider(cfg.Model.APIKey, cfg.Model.BaseURL, cfg.Model.Model)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize model client: %v\n", err)
		os.Exit(1)
	}
	aliasFactory := func(alias model.ModelAlias) (modelclient.Client, error) {
		return modelclient.NewProviderForAlias(cfg.Model.APIKey, cfg.Model.BaseURL, alias)
	}

	observerManager := observer.NewManager(appLogger)
	if err := observerManager.Register(observer.NewLoggerObserver(appLogger)); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register logger observer: %v\n", err)
		os.Exit(1)
	}

	orchestrator := pipeline.New(
		pipeline.DefaultStages(),
		modelClient,
		aliasFactory,
		newMemoryDraftStore(),
		newMemoryCaseStore(),
		observerManager,
		appLogger,
	)

	ctx, cancel := context.WithTimeout(context.Background(), *timeoutFlag)
	defer cancel()

	draftID := model.NewDraftID()
	input := model.RunInput{
		CaseDate:   *dateFlag,
		Difficulty: model.Difficulty(*difficultyFlag),
		CrimeType:  *crimeTypeFlag,
	}

	state, err := orchestrator.Start(ctx, draftID, input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "run failed: %v\n", err)
		os.Exit(1)
	}

	c := &model.Case{
		CaseDate:            state.Input.CaseDate,
		Title:               state.Title,
		Template:            *state.Template,
		Events:              state.Events,
		Characters:          state.Characters,
		Locations:           state.Locations,
		Facts:               state.Facts,
		IntroductionFactIDs: state.IntroductionFactIDs,
		Introduction:        state.Introduction,
		Casebook:            state.Casebook,
		Prose:               state.Prose,
		Questions:           state.Questions,
		OptimalPath:         state.OptimalPath,
	}

	payload, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal case: %v\n", err)
		os.Exit(1)
	}

	if *outputFlag == "" {
		fmt.Println(string(payload))
		return
	}
	if err := os.WriteFile(*outputFlag, payload, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write output file: %v\n", err)
		os.Exit(1)
	}
}

// memoryDraftStore is the stub adapter this CLI runs against instead
// of Redis: a run started with `Start` never needs to resume, so a
// plain in-process map is enough to satisfy pipeline.DraftStore's
// checkpointing calls.
type memoryDraftStore struct {
	mu    sync.Mutex
	state map[string]*model.GenerationState
}

func newMemoryDraftStore() *memoryDraftStore {
	return &memoryDraftStore{state: make(map[string]*model.GenerationState)}
}

func (s *memoryDraftStore) Save(_ context.Context, state *model.GenerationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[state.DraftID] = state
	return nil
}

func (s *memoryDraftStore) Load(_ context.Context, draftID string) (*model.GenerationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.state[draftID]
	if !ok {
		return nil, &pipeline.ErrDraftNotFound{DraftID: draftID}
	}
	return st, nil
}

func (s *memoryDraftStore) Delete(_ context.Context, draftID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.state, draftID)
	return nil
}

// memoryCaseStore is the stub adapter standing in for Postgres: the
// CLI's one finished case is printed or written to a file, not
// queried back, so an in-process map satisfies pipeline.CaseStore
// without a database.
type memoryCaseStore struct {
	mu    sync.Mutex
	cases map[string]*model.Case
}

func newMemoryCaseStore() *memoryCaseStore {
	return &memoryCaseStore{cases: make(map[string]*model.Case)}
}

func (s *memoryCaseStore) Save(_ context.Context, draftID string, c *model.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cases[draftID] = c
	return nil
}
