package adapters_test

import (
	"context"
	"testing"

	"github.com/goliatone/go-command"
	job "github.com/goliatone/go-job"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-booksync/adapters/gocommand"
	"github.com/goliatone/go-booksync/adapters/gojob"
	"github.com/goliatone/go-booksync/adapters/gologger"
	bookcommand "github.com/goliatone/go-booksync/command"
	"github.com/goliatone/go-booksync/core"
)

func TestRuntimeCompatibility_GoJobGoCommandGoLogger(t *testing.T) {
	ctx := context.Background()

	logger := &compatLogger{}
	provider := &compatProvider{logger: logger}

	_, _, jobProvider, jobLogger := gologger.ResolveEngineForJob(provider, nil)
	if jobProvider == nil || jobLogger == nil {
		t.Fatalf("expected go-job logger bridges")
	}

	enqueueProbe := &compatEnqueuer{}
	enqueueAdapter := gojob.NewEnqueuerAdapter(enqueueProbe)
	if err := enqueueAdapter.Enqueue(ctx, &core.JobExecutionMessage{
		JobID:          gojob.JobIDAutoSync,
		Parameters:     map[string]any{"owner_id": "owner_1", "entity_type": "expense"},
		IdempotencyKey: "idem_1",
		DedupPolicy:    "ignore",
	}); err != nil {
		t.Fatalf("enqueue via gojob adapter: %v", err)
	}
	if enqueueProbe.last == nil || enqueueProbe.last.JobID != gojob.JobIDAutoSync {
		t.Fatalf("expected go-job message mapping through enqueuer adapter")
	}

	queueRegistry := jobqueuecommand.NewRegistry()
	commandAdapter := gocommand.NewRegistryAdapter(command.NewRegistry())
	if err := gocommand.ValidateEngineMessage(compatMessage{}); err != nil {
		t.Fatalf("validate engine message: %v", err)
	}
	if err := commandAdapter.AddQueueResolver("queue", queueRegistry); err != nil {
		t.Fatalf("add queue resolver: %v", err)
	}
	if err := commandAdapter.RegisterCommand(command.CommandFunc[compatMessage](func(context.Context, compatMessage) error {
		return nil
	})); err != nil {
		t.Fatalf("register command: %v", err)
	}
	if err := commandAdapter.Initialize(); err != nil {
		t.Fatalf("initialize command registry: %v", err)
	}
	if _, ok := queueRegistry.Get("booksync.compat.command"); !ok {
		t.Fatalf("expected command resolver hook to mirror command into go-job queue registry")
	}
}

func TestRuntimeCompatibility_CommandDispatchThroughWrappers(t *testing.T) {
	svc := &compatSyncService{}
	adapter := gocommand.NewRegistryAdapter(command.NewRegistry())

	disconnectSub, err := gocommand.RegisterAndSubscribe(adapter, bookcommand.NewDisconnectCommand(svc))
	if err != nil {
		t.Fatalf("register disconnect wrapper: %v", err)
	}
	defer disconnectSub.Unsubscribe()

	syncSub, err := gocommand.RegisterAndSubscribe(adapter, bookcommand.NewSyncExpenseCommand(svc))
	if err != nil {
		t.Fatalf("register sync expense wrapper: %v", err)
	}
	defer syncSub.Unsubscribe()

	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize adapter: %v", err)
	}

	if err := gocommand.Dispatch(context.Background(), bookcommand.DisconnectMessage{OwnerID: "owner_1"}); err != nil {
		t.Fatalf("dispatch disconnect: %v", err)
	}
	if svc.disconnectCalls != 1 || svc.lastOwnerID != "owner_1" {
		t.Fatalf("expected disconnect wrapper invocation through dispatch")
	}

	if err := gocommand.Dispatch(context.Background(), bookcommand.SyncExpenseMessage{OwnerID: "owner_1", ExpenseID: "exp_9"}); err != nil {
		t.Fatalf("dispatch sync expense: %v", err)
	}
	if svc.syncExpenseCalls != 1 || svc.lastExpenseID != "exp_9" {
		t.Fatalf("expected sync expense wrapper invocation through dispatch")
	}
}

type compatMessage struct{}

func (compatMessage) Type() string { return "booksync.compat.command" }

type compatEnqueuer struct {
	last *job.ExecutionMessage
}

func (e *compatEnqueuer) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	e.last = msg
	return nil
}

type compatProvider struct {
	logger glog.Logger
}

func (p *compatProvider) GetLogger(string) glog.Logger {
	if p == nil || p.logger == nil {
		return glog.Nop()
	}
	return p.logger
}

type compatLogger struct{}

func (compatLogger) Trace(string, ...any)                    {}
func (compatLogger) Debug(string, ...any)                    {}
func (compatLogger) Info(string, ...any)                     {}
func (compatLogger) Warn(string, ...any)                     {}
func (compatLogger) Error(string, ...any)                    {}
func (compatLogger) Fatal(string, ...any)                    {}
func (compatLogger) WithContext(context.Context) glog.Logger { return compatLogger{} }

type compatSyncService struct {
	disconnectCalls  int
	lastOwnerID      string
	syncExpenseCalls int
	lastExpenseID    string
}

func (s *compatSyncService) Connect(context.Context, core.ConnectRequest) (core.BeginAuthResponse, error) {
	return core.BeginAuthResponse{}, nil
}

func (s *compatSyncService) CompleteCallback(context.Context, core.CompleteCallbackRequest) (core.Connection, error) {
	return core.Connection{}, nil
}

func (s *compatSyncService) Disconnect(_ context.Context, ownerID string) error {
	s.disconnectCalls++
	s.lastOwnerID = ownerID
	return nil
}

func (s *compatSyncService) DeleteConnection(context.Context, string) error {
	return nil
}

func (s *compatSyncService) SyncExpense(_ context.Context, _ string, expenseID string) (core.SyncOutcome, error) {
	s.syncExpenseCalls++
	s.lastExpenseID = expenseID
	return core.SyncOutcome{Status: core.SyncRecordStatusSynced}, nil
}

func (s *compatSyncService) SyncInvoice(context.Context, string, string) (core.SyncOutcome, error) {
	return core.SyncOutcome{}, nil
}
