package requests

import (
	"context"
	"testing"

	"github.com/vaulted-markets/orchestrator/internal/domain/request"
	"github.com/vaulted-markets/orchestrator/internal/ledger"
	"github.com/vaulted-markets/orchestrator/internal/storage/memory"
	"github.com/vaulted-markets/orchestrator/pkg/testutil"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	node := testutil.NewRPCNode(t)
	node.SetSignature("sig-mint")
	client := node.Client(t)

	program := ledger.NewKeySigner([]byte("program")).PublicKey()
	builder := ledger.NewBuilder(client, ledger.BuilderConfig{Program: program}, nil)
	return New(memory.New(), builder, client, nil)
}

func TestSubmitMintQueuesPendingRequest(t *testing.T) {
	svc := newTestService(t)

	req, err := svc.SubmitMint(context.Background(), "vendor-1", "asset-1", "bafy-doc")
	if err != nil {
		t.Fatalf("submit mint: %v", err)
	}
	if req.Status != request.StatusPending {
		t.Fatalf("status = %s, want pending", req.Status)
	}
	if req.ID == "" {
		t.Fatal("request missing id")
	}

	if _, err := svc.SubmitMint(context.Background(), "", "asset-1", ""); err == nil {
		t.Fatal("expected empty vendor to be rejected")
	}
}

func TestApproveMintExecutesOnLedger(t *testing.T) {
	svc := newTestService(t)
	vendor := ledger.NewKeySigner([]byte("vendor")).PublicKey().String()
	asset := ledger.NewKeySigner([]byte("asset")).PublicKey().String()

	queued, err := svc.SubmitMint(context.Background(), vendor, asset, "bafy-doc")
	if err != nil {
		t.Fatalf("submit mint: %v", err)
	}

	admin := ledger.NewKeySigner([]byte("admin"))
	executed, err := svc.ApproveMint(context.Background(), admin, queued.ID)
	if err != nil {
		t.Fatalf("approve mint: %v", err)
	}
	if executed.Status != request.StatusExecuted {
		t.Fatalf("status = %s, want executed", executed.Status)
	}
	if executed.ExecutedTx != "sig-mint" {
		t.Fatalf("executed tx = %q, want sig-mint", executed.ExecutedTx)
	}

	// A second approval must not double-mint.
	if _, err := svc.ApproveMint(context.Background(), admin, queued.ID); err == nil {
		t.Fatal("expected re-approval of an executed request to fail")
	}
}

func TestApproveMintRequiresSigner(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.ApproveMint(context.Background(), nil, "any"); err != ledger.ErrNotConnected {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}

func TestRejectedMintStaysOffLedger(t *testing.T) {
	svc := newTestService(t)
	queued, err := svc.SubmitMint(context.Background(), "vendor-1", "asset-1", "")
	if err != nil {
		t.Fatalf("submit mint: %v", err)
	}

	rejected, err := svc.RejectMint(context.Background(), queued.ID)
	if err != nil {
		t.Fatalf("reject mint: %v", err)
	}
	if rejected.Status != request.StatusRejected {
		t.Fatalf("status = %s, want rejected", rejected.Status)
	}

	admin := ledger.NewKeySigner([]byte("admin"))
	if _, err := svc.ApproveMint(context.Background(), admin, queued.ID); err == nil {
		t.Fatal("expected approval of a rejected request to fail")
	}
}

func TestDelistApprovalFlow(t *testing.T) {
	svc := newTestService(t)

	if _, err := svc.SubmitDelist(context.Background(), "vendor-1", "asset-1", 0, ""); err == nil {
		t.Fatal("expected zero seed to be rejected")
	}

	queued, err := svc.SubmitDelist(context.Background(), "vendor-1", "asset-1", 42, "damaged in transit")
	if err != nil {
		t.Fatalf("submit delist: %v", err)
	}

	approved, err := svc.ApproveDelist(context.Background(), queued.ID)
	if err != nil {
		t.Fatalf("approve delist: %v", err)
	}
	if approved.Status != request.StatusApproved {
		t.Fatalf("status = %s, want approved", approved.Status)
	}

	pending, err := svc.ListDelist(context.Background(), request.StatusPending)
	if err != nil {
		t.Fatalf("list delist: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending requests = %d, want 0", len(pending))
	}
}
