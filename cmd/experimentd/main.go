// Command experimentd submits a saved workflow against a patient cohort
// using the Engine selected by -engine (the in-process engine by default, or
// Temporal), exercising the Experiment Scheduler (I) and Caches/Loaders (J)
// FS-JSON store end to end.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"goa.design/clue/log"
	tclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"golang.org/x/time/rate"

	"github.com/clinicflow/workflow-engine/internal/catalog"
	"github.com/clinicflow/workflow-engine/internal/config"
	"github.com/clinicflow/workflow-engine/internal/exec"
	"github.com/clinicflow/workflow-engine/internal/llm"
	"github.com/clinicflow/workflow-engine/internal/record"
	"github.com/clinicflow/workflow-engine/internal/scheduler"
	"github.com/clinicflow/workflow-engine/internal/scheduler/engine/inmem"
	temporalengine "github.com/clinicflow/workflow-engine/internal/scheduler/engine/temporal"
	"github.com/clinicflow/workflow-engine/internal/store"
	"github.com/clinicflow/workflow-engine/internal/telemetry"
	"github.com/clinicflow/workflow-engine/internal/toolerrors"
	"github.com/clinicflow/workflow-engine/internal/workflow"
)

func main() {
	var (
		configPathF   = flag.String("config", "", "path to a YAML config file (optional)")
		nameF         = flag.String("name", "", "experiment name")
		workflowPathF = flag.String("workflow", "", "path to a workflow JSON file")
		datasetPathF  = flag.String("dataset", "", "path to a dataset fixture (JSON array of record.Patient)")
		storeRootF    = flag.String("store-root", "", "root directory for conversations/ and experiments/ (overrides config)")
		requireToolF  = flag.String("require-tool", "", "if set, reject the workflow unless it has exactly -require-count steps invoking this tool")
		requireCountF = flag.Int("require-count", 0, "paired with -require-tool")
		waitF         = flag.Bool("wait", true, "block until the run reaches a terminal status")
		engineF       = flag.String("engine", "inmem", "scheduler engine backend: inmem or temporal")
		dbgF          = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
	}

	if *nameF == "" || *workflowPathF == "" || *datasetPathF == "" {
		log.Fatal(ctx, errMissingFlags)
	}

	cfg, err := config.Load(*configPathF)
	if err != nil {
		log.Fatal(ctx, err)
	}
	storeRoot := cfg.Store.Root
	if *storeRootF != "" {
		storeRoot = *storeRootF
	}

	data, err := os.ReadFile(*workflowPathF)
	if err != nil {
		log.Fatal(ctx, err)
	}
	w, err := workflow.Parse(data)
	if err != nil {
		log.Fatal(ctx, err)
	}

	patientData, err := os.ReadFile(*datasetPathF)
	if err != nil {
		log.Fatal(ctx, err)
	}
	var patients []record.Patient
	if err := json.Unmarshal(patientData, &patients); err != nil {
		log.Fatal(ctx, err)
	}
	recStore := record.NewInMemoryStore(patients)

	fsStore, err := store.NewFSStore(storeRoot)
	if err != nil {
		log.Fatal(ctx, err)
	}

	client, err := llm.NewFromConfig(cfg)
	if err != nil {
		log.Fatal(ctx, err)
	}
	log.Print(ctx, log.KV{K: "configured_provider", V: string(cfg.Provider)})
	cat, err := catalog.NewBuiltin(client)
	if err != nil {
		log.Fatal(ctx, err)
	}
	executor := exec.New(cat, recStore, client, telemetry.NoopTracer{})

	var shape scheduler.ShapeValidator
	if *requireToolF != "" {
		shape = scheduler.RequireToolStepCount(*requireToolF, *requireCountF)
	}

	var engine scheduler.Engine
	switch *engineF {
	case "", "inmem":
		if cfg.Scheduler.RateLimitPerSecond > 0 {
			engine = inmem.NewRateLimited(rate.NewLimiter(rate.Limit(cfg.Scheduler.RateLimitPerSecond), 1))
		} else {
			engine = inmem.New()
		}
	case "temporal":
		opts, err := temporalengine.NewClientOptions(cfg.Scheduler.TemporalHostPort, cfg.Scheduler.TemporalNamespace)
		if err != nil {
			log.Fatal(ctx, err)
		}
		tc, err := tclient.Dial(opts)
		if err != nil {
			log.Fatal(ctx, err)
		}
		defer tc.Close()

		// This process hosts both the Temporal client and the worker that
		// runs ExperimentWorkflow/ProcessPatientActivity, so -engine temporal
		// works standalone against a reachable Temporal server without a
		// separately deployed worker.
		tw := worker.New(tc, cfg.Scheduler.TemporalTaskQueue, worker.Options{})
		temporalengine.RegisterWith(tw, processPatient(w, executor, recStore))
		if err := tw.Start(); err != nil {
			log.Fatal(ctx, err)
		}
		defer tw.Stop()

		engine = temporalengine.New(tc, cfg.Scheduler.TemporalTaskQueue)
	default:
		log.Fatal(ctx, fmt.Errorf("experimentd: unknown -engine %q", *engineF))
	}

	sched := &scheduler.Scheduler{
		Engine:   engine,
		Record:   recStore,
		Executor: executor,
		Persist:  fsStore,
		Shape:    shape,
		Metrics:  telemetry.NewOtelMetrics("clinicflow/experimentd"),
		Tracer:   telemetry.NewOtelTracer("clinicflow/experimentd"),
	}

	mrns := recStore.MRNs()
	if *waitF {
		if err := sched.Run(ctx, *nameF, w, mrns); err != nil {
			log.Print(ctx, log.KV{K: "run_error", V: err.Error()})
		}
	} else if err := sched.Submit(ctx, *nameF, filepath.Base(*workflowPathF), w, mrns); err != nil {
		log.Fatal(ctx, err)
	}

	status, err := fsStore.LoadStatus(*nameF)
	if err != nil {
		log.Fatal(ctx, err)
	}
	out, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		log.Fatal(ctx, err)
	}
	os.Stdout.Write(out)
	os.Stdout.Write([]byte("\n"))
}

// processPatient builds the per-patient unit of work a Temporal worker runs
// as ProcessPatientActivity, mirroring internal/scheduler.Scheduler.Run's own
// per-patient execution so both engines invoke the executor identically.
func processPatient(w workflow.Workflow, executor *exec.Executor, recStore *record.InMemoryStore) scheduler.PatientProcessor {
	return func(ctx context.Context, mrn string) (scheduler.PatientOutcome, error) {
		enc, ok := recStore.FirstEncounter(mrn)
		if !ok {
			return scheduler.PatientOutcome{MRN: mrn}, toolerrors.Errorf("no encounters found")
		}
		res, err := executor.Run(ctx, w, map[string]any{"mrn": mrn, "csn": enc.CSN})
		if err != nil {
			return scheduler.PatientOutcome{MRN: mrn}, err
		}
		return scheduler.PatientOutcome{MRN: mrn, Result: res}, nil
	}
}

type flagError string

func (e flagError) Error() string { return string(e) }

var errMissingFlags = flagError("experimentd: -name, -workflow, and -dataset are required")
