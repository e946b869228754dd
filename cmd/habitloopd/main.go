// habitloopd is the unified background service: it owns the database, runs
// every learning subsystem's maintenance sweeps, and serves the HTTP API. It
// also exposes one-shot operator subcommands (migrate, ingest, inspect) that
// share the same wiring as the daemon.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/habitloop/engine/internal/api"
	"github.com/habitloop/engine/internal/clock"
	"github.com/habitloop/engine/internal/collaborators"
	"github.com/habitloop/engine/internal/contextkey"
	"github.com/habitloop/engine/internal/core"
	"github.com/habitloop/engine/internal/evaluator"
	"github.com/habitloop/engine/internal/ingestion"
	"github.com/habitloop/engine/internal/learning"
	"github.com/habitloop/engine/internal/logging"
	"github.com/habitloop/engine/internal/matching"
	"github.com/habitloop/engine/internal/notifications"
	"github.com/habitloop/engine/internal/policy"
	"github.com/habitloop/engine/internal/reminders"
	"github.com/habitloop/engine/internal/routines"
	"github.com/habitloop/engine/internal/scheduler"
	"github.com/habitloop/engine/internal/storage"
)

var dataDir string

func main() {
	rootCmd := &cobra.Command{
		Use:   "habitloopd",
		Short: "habitloop engine daemon and operator CLI",
	}

	home, _ := os.UserHomeDir()
	defaultDataDir := filepath.Join(home, ".habitloop")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", defaultDataDir, "Data directory")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(inspectCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// engine bundles every store and subsystem the daemon and the operator
// subcommands wire together identically; only serve additionally starts the
// HTTP listener and the maintenance scheduler.
type engine struct {
	db                *storage.DB
	clk               clock.Clock
	events            *storage.EventStore
	transitions       *storage.TransitionStore
	remindersStore    *storage.ReminderStore
	routineStore      *storage.RoutineStore
	routineReminders  *storage.RoutineReminderStore
	history           *storage.HistoryStore
	preferences       *storage.PreferencesStore
	cooldowns         *storage.CooldownStore
	configStore       *storage.ConfigStore
	policies          *policy.Provider
	transitionLearner *learning.TransitionLearner
	coordinator       *ingestion.Coordinator
	routineLearner    *routines.Learner
	pipeline          *evaluator.ExecutionPipeline
	notifService      *notifications.Service
	wsHub             *notifications.WSHub
}

// buildEngine opens the database, migrates it, and wires every learning
// subsystem. It does not start the HTTP server or the maintenance scheduler;
// callers that need those (serve) add them on top.
func buildEngine(dataDir string) (*engine, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "habitloop.db")
	db, err := storage.Open(storage.Config{Path: dbPath})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	logging.Info("database ready at %s", dbPath)

	events := storage.NewEventStore(db)
	transitions := storage.NewTransitionStore(db)
	remindersStore := storage.NewReminderStore(db)
	routineStore := storage.NewRoutineStore(db)
	routineReminders := storage.NewRoutineReminderStore(db)
	history := storage.NewHistoryStore(db)
	preferences := storage.NewPreferencesStore(db)
	cooldowns := storage.NewCooldownStore(db)
	configStore := storage.NewConfigStore(db)

	clk := clock.System{}
	keyBuilder := contextkey.NewKeyBuilder()
	classifier := contextkey.NewClassifier()
	similarity := learning.NewSignalSimilarity()
	signalSelector := learning.NewSignalSelector(learning.DefaultNormalizationConfig())
	inferencer := learning.NewPatternInferencer(learning.DefaultPatternInferencerConfig())
	transitionLearner := learning.NewTransitionLearner(events, transitions, keyBuilder, clk, learning.DefaultTransitionLearnerConfig())

	policies := policy.NewProvider(configStore, clk, 30*time.Second)
	currentPolicy, err := policies.Policy()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load policy: %w", err)
	}
	currentMatching, err := policies.MatchingPolicy()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load matching policy: %w", err)
	}

	matchingCriteria := matching.Criteria{
		MatchByActionType:         currentMatching.MatchByActionType,
		MatchByDayType:            currentMatching.MatchByDayType,
		MatchByPeoplePresent:      currentMatching.MatchByPeoplePresent,
		MatchByStateSignals:       currentMatching.MatchByStateSignals,
		MatchByTimeBucket:         currentMatching.MatchByTimeBucket,
		MatchByLocation:           currentMatching.MatchByLocation,
		TimeOffsetMinutes:         currentPolicy.ReminderMatchTimeOffsetMinutes,
		SignalSelectionEnabled:    currentPolicy.SignalSelectionEnabled,
		SignalSimilarityThreshold: currentPolicy.SignalSimilarityThreshold,
	}
	matchingEngine := matching.NewEngine(events, remindersStore, similarity)

	schedulerPolicy := reminders.DefaultPolicyConfig()
	schedulerPolicy.MinimumOccurrences = currentPolicy.MinimumOccurrences
	schedulerPolicy.MinimumConfidence = currentPolicy.MinimumConfidence
	schedulerPolicy.DefaultReminderConfidence = currentPolicy.DefaultReminderConfidence
	schedulerPolicy.ConfidenceStepValue = currentPolicy.ConfidenceStepValue
	schedulerPolicy.TimeOffsetMinutes = currentPolicy.ReminderMatchTimeOffsetMinutes
	reminderScheduler := reminders.NewScheduler(transitions, remindersStore, routineStore, keyBuilder, inferencer, clk, schedulerPolicy)

	routineCfg := routines.DefaultConfig()
	routineCfg.ObservationWindowMinutes = currentPolicy.RoutineObservationWindowMinutes
	routineCfg.DefaultReminderConfidence = currentPolicy.DefaultReminderConfidence
	routineCfg.ConfidenceStepValue = currentPolicy.ConfidenceStepValue
	routineCfg.SignalSelectionEnabled = currentPolicy.SignalSelectionEnabled
	routineCfg.SignalSimilarityThreshold = currentPolicy.SignalSimilarityThreshold
	routineCfg.SignalProfileUpdateAlpha = currentPolicy.SignalProfileUpdateAlpha
	routineLearner := routines.NewLearner(routineStore, routineReminders, classifier, keyBuilder, similarity, clk, routineCfg)

	coordinatorCfg := ingestion.DefaultConfig()
	coordinatorCfg.MatchingCriteria = matchingCriteria
	coordinatorCfg.DefaultReminderConfidence = currentPolicy.DefaultReminderConfidence
	coordinatorCfg.SignalSelectionTopK = currentPolicy.SignalSelectionLimit
	coordinator := ingestion.NewCoordinator(events, remindersStore, history, transitionLearner, matchingEngine, reminderScheduler, routineLearner, signalSelector, inferencer, clk, coordinatorCfg)

	interruption := evaluator.NewInterruptionCostCatalogue(configStore)
	if err := interruption.Seed(); err != nil {
		logging.Warn("interruption catalogue seed issue: %v", err)
	}

	phraser := collaborators.NewPhraseClient(collaborators.DefaultPhraseConfig())
	eval := evaluator.NewEvaluator(preferences, cooldowns, remindersStore, events, transitions, interruption, phraser, clk, currentPolicy.MaxInterruptionCost)
	parser := evaluator.NewOccurrencePatternParser()

	notifService := notifications.NewService(db)
	wsHub := notifications.NewWSHub()
	notifService.Subscribe(wsHub)
	notifierAdapter := notifications.NewNotifierAdapter(notifService)

	memoryClient := collaborators.NewMemoryClient(collaborators.DefaultMemoryConfig())
	pipeline := evaluator.NewExecutionPipeline(eval, remindersStore, history, parser, notifierAdapter, memoryClient, clk, evaluator.DefaultPipelineConfig())

	return &engine{
		db: db, clk: clk,
		events: events, transitions: transitions, remindersStore: remindersStore,
		routineStore: routineStore, routineReminders: routineReminders, history: history,
		preferences: preferences, cooldowns: cooldowns, configStore: configStore,
		policies: policies, transitionLearner: transitionLearner,
		coordinator: coordinator, routineLearner: routineLearner,
		pipeline: pipeline, notifService: notifService, wsHub: wsHub,
	}, nil
}

func serveCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the API server and background maintenance scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(dataDir, port)
		},
	}
	cmd.Flags().IntVar(&port, "port", 8080, "HTTP server port")
	return cmd
}

func runServe(dataDir string, port int) error {
	logging.Info("starting habitloop engine")

	e, err := buildEngine(dataDir)
	if err != nil {
		return err
	}
	defer e.db.Close()

	sched, err := scheduler.NewScheduler(scheduler.DefaultConfig())
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	maintenanceCfg := scheduler.DefaultMaintenanceConfig()
	if err := scheduler.RegisterMaintenanceTasks(sched, e.transitions, e.remindersStore, e.routineStore, e.transitionLearner, e.clk, maintenanceCfg); err != nil {
		return fmt.Errorf("register maintenance tasks: %w", err)
	}
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	logging.Info("maintenance scheduler started")

	server := api.New(api.Config{
		Port:             port,
		Coordinator:      e.coordinator,
		Pipeline:         e.pipeline,
		Events:           e.events,
		Reminders:        e.remindersStore,
		Routines:         e.routineStore,
		RoutineReminders: e.routineReminders,
		Preferences:      e.preferences,
		Cooldowns:        e.cooldowns,
		ConfigStore:      e.configStore,
		RoutineLearner:   e.routineLearner,
		Notifications:    e.notifService,
		WSHub:            e.wsHub,
		Policies:         e.policies,
		Clock:            e.clk,
	})

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		logging.Info("shutting down")
		_ = sched.Stop()
		_ = server.Stop(context.Background())
	}()

	logging.Info("serving on port %d", port)
	return server.Start()
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(dataDir)
		},
	}
}

func runMigrate(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	dbPath := filepath.Join(dataDir, "habitloop.db")
	db, err := storage.Open(storage.Config{Path: dbPath})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	logging.Info("database migrated at %s", dbPath)
	return nil
}

// ingestEventFile is the on-disk shape an `ingest` invocation reads, mirroring
// the POST /api/v1/events wire contract so the same JSON works either way.
type ingestEventFile struct {
	PersonID          string            `json:"personId"`
	ActionType        string            `json:"actionType"`
	TimestampUtc      time.Time         `json:"timestampUtc"`
	Context           core.ActionContext `json:"context"`
	EventType         string            `json:"eventType,omitempty"`
	ProbabilityValue  *float64          `json:"probabilityValue,omitempty"`
	ProbabilityAction string            `json:"probabilityAction,omitempty"`
	CustomData        map[string]string `json:"customData,omitempty"`
}

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <event.json>",
		Short: "Fire a single ingestion event from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(dataDir, args[0])
		},
	}
}

func runIngest(dataDir, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read event file: %w", err)
	}
	var in ingestEventFile
	if err := json.Unmarshal(raw, &in); err != nil {
		return fmt.Errorf("parse event file: %w", err)
	}

	e, err := buildEngine(dataDir)
	if err != nil {
		return err
	}
	defer e.db.Close()

	eventType := core.EventTypeAction
	if in.EventType == string(core.EventTypeStateChange) {
		eventType = core.EventTypeStateChange
	}
	var probAction core.ProbabilityAction
	switch in.ProbabilityAction {
	case string(core.ProbabilityIncrease):
		probAction = core.ProbabilityIncrease
	case string(core.ProbabilityDecrease):
		probAction = core.ProbabilityDecrease
	}

	event, scheduled, err := e.coordinator.IngestEvent(ingestion.EventRequest{
		PersonID:          core.PersonID(in.PersonID),
		ActionType:        in.ActionType,
		TimestampUtc:      in.TimestampUtc,
		Context:           in.Context,
		EventType:         eventType,
		ProbabilityValue:  in.ProbabilityValue,
		ProbabilityAction: probAction,
		CustomData:        in.CustomData,
	})
	if err != nil {
		return fmt.Errorf("ingest event: %w", err)
	}

	out := map[string]any{
		"eventId":               string(event.ID),
		"scheduledCandidateIds": scheduled,
	}
	if event.RelatedReminderID != nil {
		out["relatedReminderId"] = string(*event.RelatedReminderID)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <personId>",
		Short: "Dump a person's learned transitions, reminders, and routines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(dataDir, args[0])
		},
	}
}

func runInspect(dataDir, personID string) error {
	e, err := buildEngine(dataDir)
	if err != nil {
		return err
	}
	defer e.db.Close()

	person := core.PersonID(personID)

	transitions, err := e.transitions.ByPerson(person)
	if err != nil {
		return fmt.Errorf("load transitions: %w", err)
	}
	scheduledReminders, err := e.remindersStore.ScheduledByPerson(person)
	if err != nil {
		return fmt.Errorf("load reminders: %w", err)
	}
	personRoutines, err := e.routineStore.ByPerson(person)
	if err != nil {
		return fmt.Errorf("load routines: %w", err)
	}

	out := map[string]any{
		"personId":    personID,
		"transitions": transitions,
		"reminders":   scheduledReminders,
		"routines":    personRoutines,
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
