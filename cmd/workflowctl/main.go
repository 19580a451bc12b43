// Command workflowctl validates and runs a saved workflow file against a
// dataset fixture, exercising the Workflow Executor (E), Tool Catalog (C),
// and Record Store (A) without the orchestrator. The LLM client comes from
// the configured provider, which is the offline echo provider by default.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"

	"goa.design/clue/log"

	"github.com/clinicflow/workflow-engine/internal/catalog"
	"github.com/clinicflow/workflow-engine/internal/config"
	"github.com/clinicflow/workflow-engine/internal/exec"
	"github.com/clinicflow/workflow-engine/internal/llm"
	"github.com/clinicflow/workflow-engine/internal/record"
	"github.com/clinicflow/workflow-engine/internal/telemetry"
	"github.com/clinicflow/workflow-engine/internal/workflow"
)

func main() {
	var (
		configPathF   = flag.String("config", "", "path to a YAML config file (optional)")
		workflowPathF = flag.String("workflow", "", "path to a workflow JSON file")
		datasetPathF  = flag.String("dataset", "", "path to a dataset fixture (JSON array of record.Patient)")
		mrnF          = flag.String("mrn", "", "patient mrn to run the workflow against")
		csnF          = flag.String("csn", "", "encounter csn to run the workflow against (defaults to the first encounter)")
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

	if *workflowPathF == "" || *datasetPathF == "" || *mrnF == "" {
		log.Fatal(ctx, errMissingFlags)
	}

	cfg, err := config.Load(*configPathF)
	if err != nil {
		log.Fatal(ctx, err)
	}
	log.Print(ctx, log.KV{K: "configured_provider", V: string(cfg.Provider)})

	w, err := loadWorkflow(*workflowPathF)
	if err != nil {
		log.Fatal(ctx, err)
	}
	if dupes := workflow.DuplicateIDs(w); len(dupes) > 0 {
		log.Print(ctx, log.KV{K: "duplicate_step_ids", V: dupes})
		os.Exit(1)
	}

	store, err := loadDataset(*datasetPathF)
	if err != nil {
		log.Fatal(ctx, err)
	}

	csn := *csnF
	if csn == "" {
		enc, ok := store.FirstEncounter(*mrnF)
		if !ok {
			log.Fatal(ctx, errNoEncounters)
		}
		csn = enc.CSN
	}

	client, err := llm.NewFromConfig(cfg)
	if err != nil {
		log.Fatal(ctx, err)
	}
	cat, err := catalog.NewBuiltin(client)
	if err != nil {
		log.Fatal(ctx, err)
	}
	executor := exec.New(cat, store, client, telemetry.NoopTracer{})

	result, err := executor.Run(ctx, w, map[string]any{"mrn": *mrnF, "csn": csn})
	if err != nil {
		log.Fatal(ctx, err)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		log.Fatal(ctx, err)
	}
	os.Stdout.Write(out)
	os.Stdout.Write([]byte("\n"))

	costUSD, inTok, outTok := executor.Cost()
	log.Print(ctx, log.KV{K: "cost_usd", V: costUSD}, log.KV{K: "input_tokens", V: inTok}, log.KV{K: "output_tokens", V: outTok})
}

func loadWorkflow(path string) (workflow.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return workflow.Workflow{}, err
	}
	return workflow.Parse(data)
}

func loadDataset(path string) (*record.InMemoryStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var patients []record.Patient
	if err := json.Unmarshal(data, &patients); err != nil {
		return nil, err
	}
	return record.NewInMemoryStore(patients), nil
}

var (
	errMissingFlags = flagError("workflowctl: -workflow, -dataset, and -mrn are required")
	errNoEncounters = flagError("workflowctl: patient has no encounters")
)

type flagError string

func (e flagError) Error() string { return string(e) }
