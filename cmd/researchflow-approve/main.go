// Command researchflow-approve is an interactive terminal client for the
// approval gate API (§11): it lists pending approvals against the same
// SQLite store the engine writes to, and lets a reviewer approve,
// reject, or modify one at a time. Deciding an approval drives the
// workflow forward immediately through an in-process Engine, the same
// way an approval submitted through any other surface would.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"golang.org/x/term"

	"researchflow/pkg/agentadapter"
	"researchflow/pkg/approval"
	"researchflow/pkg/config"
	"researchflow/pkg/engine"
	"researchflow/pkg/persistence"
	"researchflow/pkg/wfstate"
)

func main() {
	var configPath string
	var requestID string
	var approvalType string
	flag.StringVar(&configPath, "config", "", "Path to config.yaml (defaults built in if empty)")
	flag.StringVar(&requestID, "request", "", "Only show approvals for this request_id")
	flag.StringVar(&approvalType, "type", "", "Only show approvals of this type (requirements, phenotype_sql, extraction, qa)")
	flag.Parse()

	if err := config.LoadConfig(configPath); err != nil {
		log.Fatalf("load config: %v", err)
	}
	cfg := config.GetConfig()

	if err := persistence.Initialize(cfg.Database.Path, "researchflow-approve"); err != nil {
		log.Fatalf("initialize persistence: %v", err)
	}
	defer func() {
		if err := persistence.Close(); err != nil {
			log.Printf("close persistence: %v", err)
		}
	}()
	store := persistence.NewStore(persistence.GetDB())

	// A no-op Executor is enough here: this process only resumes
	// workflows past the gate it just decided, it never needs to call an
	// agent itself (the gate handler does not invoke Execute).
	adapter := agentadapter.New(noopExecutor{}, agentadapter.DefaultConfig)
	eng := engine.New(store, adapter, "researchflow-approve", cfg.Engine, cfg.MaxIterations)
	svc := approval.New(store, eng)

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintln(os.Stderr, "researchflow-approve requires an interactive terminal")
		os.Exit(1)
	}

	ctx := context.Background()
	filter := approval.Filter{RequestID: requestID, ApprovalType: wfstate.ApprovalType(approvalType)}
	reader := bufio.NewReader(os.Stdin)

	for {
		pending, err := svc.ListPending(ctx, filter)
		if err != nil {
			log.Fatalf("list pending approvals: %v", err)
		}
		if len(pending) == 0 {
			fmt.Println("No pending approvals.")
			return
		}

		for _, a := range pending {
			if err := reviewOne(ctx, svc, reader, a); err != nil {
				fmt.Fprintf(os.Stderr, "review %s: %v\n", a.ApprovalID, err)
			}
		}

		fmt.Print("\nReview another batch? (y/n): ")
		answer, _ := reader.ReadString('\n')
		if strings.ToLower(strings.TrimSpace(answer)) != "y" {
			return
		}
	}
}

func reviewOne(ctx context.Context, svc *approval.Service, reader *bufio.Reader, a *wfstate.Approval) error {
	fmt.Printf("\n--- %s (%s) ---\n", a.ApprovalID, a.ApprovalType)
	fmt.Printf("request:    %s\n", a.RequestID)
	fmt.Printf("submitted:  %s\n", a.SubmittedAt.Format("2006-01-02 15:04:05"))
	if a.SLADeadline != nil {
		fmt.Printf("sla:        %s\n", a.SLADeadline.Format("2006-01-02 15:04:05"))
	}
	fmt.Println("payload:")
	fmt.Println(prettyJSON(a.Payload))

	for {
		fmt.Print("Decision? (approve/reject/modify/skip): ")
		input, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read decision: %w", err)
		}
		switch strings.ToLower(strings.TrimSpace(input)) {
		case "approve", "a":
			reviewer, notes := promptReviewerAndNotes(reader)
			return svc.Decide(ctx, a.ApprovalID, approval.DecisionApprove, reviewer, notes, nil)
		case "reject", "r":
			reviewer, notes := promptReviewerAndNotes(reader)
			return svc.Decide(ctx, a.ApprovalID, approval.DecisionReject, reviewer, notes, nil)
		case "modify", "m":
			reviewer, notes := promptReviewerAndNotes(reader)
			fmt.Printf("Modifiable fields: %s\n", strings.Join(wfstate.ModifiableFields[a.ApprovalType], ", "))
			fmt.Print("Enter modified payload as JSON: ")
			payloadLine, err := reader.ReadString('\n')
			if err != nil {
				return fmt.Errorf("read modified payload: %w", err)
			}
			return svc.Decide(ctx, a.ApprovalID, approval.DecisionModify, reviewer, notes, []byte(strings.TrimSpace(payloadLine)))
		case "skip", "s":
			return nil
		default:
			fmt.Println("Please enter approve, reject, modify, or skip")
		}
	}
}

func promptReviewerAndNotes(reader *bufio.Reader) (reviewer, notes string) {
	fmt.Print("Reviewer email: ")
	reviewerLine, _ := reader.ReadString('\n')
	fmt.Print("Notes: ")
	notesLine, _ := reader.ReadString('\n')
	return strings.TrimSpace(reviewerLine), strings.TrimSpace(notesLine)
}

func prettyJSON(raw []byte) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(out)
}

// noopExecutor never runs: gate handlers never call Adapter.Invoke, so
// this engine instance only needs an Executor to satisfy the adapter's
// constructor.
type noopExecutor struct{}

func (noopExecutor) Execute(_ context.Context, task agentadapter.Task, _ map[string]any) (map[string]any, error) {
	return nil, fmt.Errorf("researchflow-approve cannot execute agent task %s", task)
}
