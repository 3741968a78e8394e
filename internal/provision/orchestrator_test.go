package provision

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/driftwoodlabs/pds/internal/account/repository"
	"github.com/driftwoodlabs/pds/internal/account/service"
	"github.com/driftwoodlabs/pds/internal/common/logger"
	"github.com/driftwoodlabs/pds/internal/identity"
	"github.com/driftwoodlabs/pds/internal/keystore"
	"github.com/driftwoodlabs/pds/internal/plc"
	"github.com/driftwoodlabs/pds/internal/repo"
	"github.com/driftwoodlabs/pds/internal/sequencer"
)

type mockRepoStore struct {
	createErr error
	created   map[string]repo.Commit
	destroyed []string
}

func newMockRepoStore() *mockRepoStore {
	return &mockRepoStore{created: make(map[string]repo.Commit)}
}

func (m *mockRepoStore) Create(ctx context.Context, did, signingKeyID string) (repo.Commit, error) {
	if m.createErr != nil {
		return repo.Commit{}, m.createErr
	}
	if _, ok := m.created[did]; ok {
		return repo.Commit{}, repo.ErrRepoExists
	}
	commit := repo.Commit{CID: "bafycommit-" + did, Rev: "3jurev-" + did}
	m.created[did] = commit
	return commit, nil
}

func (m *mockRepoStore) Transact(ctx context.Context, did string, fn func(ctx context.Context) error) (repo.Commit, error) {
	return m.created[did], nil
}

func (m *mockRepoStore) Destroy(ctx context.Context, did string) error {
	delete(m.created, did)
	m.destroyed = append(m.destroyed, did)
	return nil
}

type mockManager struct {
	createErr error
	accounts  map[string]service.CreateParams
	repoRoots map[string][2]string
	deleted   []string
}

func newMockManager() *mockManager {
	return &mockManager{
		accounts:  make(map[string]service.CreateParams),
		repoRoots: make(map[string][2]string),
	}
}

func (m *mockManager) CreateAccountAndSession(ctx context.Context, params service.CreateParams) (service.Session, error) {
	if m.createErr != nil {
		return service.Session{}, m.createErr
	}
	m.accounts[params.DID] = params
	return service.Session{AccessToken: "access-" + params.DID, RefreshToken: "refresh-" + params.DID}, nil
}

func (m *mockManager) UpdateRepoRoot(ctx context.Context, did, cid, rev string) error {
	m.repoRoots[did] = [2]string{cid, rev}
	return nil
}

func (m *mockManager) DeleteAccount(ctx context.Context, did string) error {
	delete(m.accounts, did)
	m.deleted = append(m.deleted, did)
	return nil
}

type mockSubmitter struct {
	err   error
	calls int
}

func (m *mockSubmitter) Submit(ctx context.Context, did string, op *identity.Operation, signer identity.Signer) error {
	m.calls++
	return m.err
}

type mockResolver struct {
	err error
}

func (m *mockResolver) Resolve(ctx context.Context, did string, forceRefresh bool) (*identity.Document, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &identity.Document{ID: did, AlsoKnownAs: []string{"at://alice.example"}}, nil
}

type mockSequencer struct {
	errOn  string
	events []string
}

func (m *mockSequencer) sequence(eventType string) error {
	if m.errOn == eventType {
		return fmt.Errorf("sequencer unavailable")
	}
	m.events = append(m.events, eventType)
	return nil
}

func (m *mockSequencer) SequenceIdentityEvent(ctx context.Context, evt sequencer.IdentityEvent) error {
	return m.sequence(sequencer.EventIdentity)
}

func (m *mockSequencer) SequenceAccountEvent(ctx context.Context, evt sequencer.AccountEvent) error {
	return m.sequence(sequencer.EventAccount)
}

func (m *mockSequencer) SequenceCommitEvent(ctx context.Context, evt sequencer.CommitEvent) error {
	return m.sequence(sequencer.EventCommit)
}

func (m *mockSequencer) SequenceSyncEvent(ctx context.Context, evt sequencer.SyncEvent) error {
	return m.sequence(sequencer.EventSync)
}

type orchestratorFixture struct {
	orch      *Orchestrator
	keys      *keystore.MemoryStore
	repos     *mockRepoStore
	manager   *mockManager
	invites   *mockInvites
	submitter *mockSubmitter
	resolver  *mockResolver
	seq       *mockSequencer
	operator  *identity.Keypair
}

func setupOrchestrator(t *testing.T) *orchestratorFixture {
	t.Helper()

	operator, err := identity.GenerateKeypair()
	if err != nil {
		t.Fatalf("failed to generate operator key: %v", err)
	}

	log, err := logger.New("", "test", "error")
	if err != nil {
		t.Fatalf("failed to build logger: %v", err)
	}

	f := &orchestratorFixture{
		keys:      keystore.NewMemoryStore(),
		repos:     newMockRepoStore(),
		manager:   newMockManager(),
		invites:   &mockInvites{},
		submitter: &mockSubmitter{},
		resolver:  &mockResolver{},
		seq:       &mockSequencer{},
		operator:  operator,
	}

	f.orch = NewOrchestrator(OrchestratorDeps{
		Keys:      f.keys,
		Repos:     f.repos,
		Accounts:  f.manager,
		Invites:   f.invites,
		Ledger:    f.submitter,
		Resolver:  f.resolver,
		Sequencer: f.seq,
		Operator:  operator,
		Log:       log,
	})

	return f
}

func freshLocalPlan(t *testing.T, f *orchestratorFixture) Plan {
	t.Helper()

	signing, err := identity.GenerateKeypair()
	if err != nil {
		t.Fatalf("failed to generate signing key: %v", err)
	}
	did, op, err := identity.BuildOperation("alice.example", signing.DIDKey(), nil, testPublicURL, f.operator)
	if err != nil {
		t.Fatalf("failed to build operation: %v", err)
	}

	return Plan{
		Kind:       PlanLocal,
		DID:        did,
		Handle:     "alice.example",
		Email:      "alice@example.com",
		Password:   "hunter2hunter2",
		SigningKey: signing,
		Operation:  op,
	}
}

func TestProvision_Success(t *testing.T) {
	f := setupOrchestrator(t)
	plan := freshLocalPlan(t, f)

	result, err := f.orch.Provision(context.Background(), plan)
	if err != nil {
		t.Fatalf("provisioning failed: %v", err)
	}

	if result.DID != plan.DID || result.Handle != plan.Handle {
		t.Error("result does not echo the plan identity")
	}
	if result.Session.AccessToken == "" || result.Session.RefreshToken == "" {
		t.Error("expected both session tokens")
	}
	if result.Document == nil || result.Document.ID != plan.DID {
		t.Error("expected the resolved did document")
	}
	if result.Deactivated {
		t.Error("fresh provisioning must not be deactivated")
	}

	if f.submitter.calls != 1 {
		t.Errorf("expected one ledger submission, got %d", f.submitter.calls)
	}

	account, ok := f.manager.accounts[plan.DID]
	if !ok {
		t.Fatal("account was not persisted")
	}
	commit := f.repos.created[plan.DID]
	if account.RepoCID != commit.CID || account.RepoRev != commit.Rev {
		t.Error("account repo pointer does not match the created commit")
	}

	root, ok := f.manager.repoRoots[plan.DID]
	if !ok || root[0] != commit.CID || root[1] != commit.Rev {
		t.Error("durable repo root was not updated to the created commit")
	}

	// The reservation must be consumed so the key never leaks back out.
	kp, err := f.keys.GetReserved(context.Background(), plan.SigningKey.DIDKey())
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if kp != nil {
		t.Error("signing key reservation was not released")
	}
}

func TestProvision_EventOrder(t *testing.T) {
	f := setupOrchestrator(t)
	plan := freshLocalPlan(t, f)

	if _, err := f.orch.Provision(context.Background(), plan); err != nil {
		t.Fatalf("provisioning failed: %v", err)
	}

	want := []string{
		sequencer.EventIdentity,
		sequencer.EventAccount,
		sequencer.EventCommit,
		sequencer.EventSync,
	}
	if len(f.seq.events) != len(want) {
		t.Fatalf("expected %d events, got %d (%v)", len(want), len(f.seq.events), f.seq.events)
	}
	for i, evt := range want {
		if f.seq.events[i] != evt {
			t.Errorf("event %d: expected %s, got %s", i, evt, f.seq.events[i])
		}
	}
}

func TestProvision_LedgerFailureRollsBack(t *testing.T) {
	f := setupOrchestrator(t)
	f.submitter.err = plc.ErrSubmissionFailed
	plan := freshLocalPlan(t, f)

	_, err := f.orch.Provision(context.Background(), plan)
	if !errors.Is(err, plc.ErrSubmissionFailed) {
		t.Fatalf("expected the submission error to surface, got %v", err)
	}

	if _, ok := f.repos.created[plan.DID]; ok {
		t.Error("repository survived a failed provisioning attempt")
	}
	if len(f.repos.destroyed) != 1 || f.repos.destroyed[0] != plan.DID {
		t.Errorf("expected one destroy for %s, got %v", plan.DID, f.repos.destroyed)
	}
	if _, ok := f.manager.accounts[plan.DID]; ok {
		t.Error("account record exists after a failed attempt")
	}
	if len(f.seq.events) != 0 {
		t.Errorf("no events should be sequenced, got %v", f.seq.events)
	}
}

func TestProvision_DeactivatedSkipsLedgerAndEvents(t *testing.T) {
	f := setupOrchestrator(t)

	plan := Plan{
		Kind:        PlanLocal,
		DID:         "did:plc:existingidentity0000mmmm",
		Handle:      "alice.example",
		Email:       "alice@example.com",
		Password:    "hunter2hunter2",
		Deactivated: true,
	}

	result, err := f.orch.Provision(context.Background(), plan)
	if err != nil {
		t.Fatalf("provisioning failed: %v", err)
	}

	if !result.Deactivated {
		t.Error("expected a deactivated result")
	}
	if f.submitter.calls != 0 {
		t.Errorf("expected no ledger submissions, got %d", f.submitter.calls)
	}
	if len(f.seq.events) != 0 {
		t.Errorf("deactivated accounts must not be sequenced, got %v", f.seq.events)
	}

	account, ok := f.manager.accounts[plan.DID]
	if !ok {
		t.Fatal("account was not persisted")
	}
	if !account.Deactivated {
		t.Error("account was not persisted as deactivated")
	}
}

func TestProvision_AccountConflictRollsBack(t *testing.T) {
	f := setupOrchestrator(t)
	f.manager.createErr = repository.ErrEmailTaken
	plan := freshLocalPlan(t, f)

	_, err := f.orch.Provision(context.Background(), plan)
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}

	if _, ok := f.repos.created[plan.DID]; ok {
		t.Error("repository survived a failed provisioning attempt")
	}
}

func TestProvision_SequencerFailureRollsBackAccount(t *testing.T) {
	f := setupOrchestrator(t)
	f.seq.errOn = sequencer.EventCommit
	plan := freshLocalPlan(t, f)

	_, err := f.orch.Provision(context.Background(), plan)
	if err == nil {
		t.Fatal("expected an error")
	}

	if _, ok := f.repos.created[plan.DID]; ok {
		t.Error("repository survived a failed provisioning attempt")
	}
	if _, ok := f.manager.accounts[plan.DID]; ok {
		t.Error("account record survived a failed provisioning attempt")
	}
	if len(f.manager.deleted) != 1 || f.manager.deleted[0] != plan.DID {
		t.Errorf("expected one account delete for %s, got %v", plan.DID, f.manager.deleted)
	}
}

func TestProvision_RepoCreateFailurePropagatesWithoutRollback(t *testing.T) {
	f := setupOrchestrator(t)
	f.repos.createErr = fmt.Errorf("disk full")
	plan := freshLocalPlan(t, f)

	_, err := f.orch.Provision(context.Background(), plan)
	if err == nil {
		t.Fatal("expected an error")
	}

	if f.submitter.calls != 0 {
		t.Errorf("expected no ledger submissions, got %d", f.submitter.calls)
	}
	if len(f.repos.destroyed) != 0 {
		t.Errorf("nothing should be destroyed when creation itself failed, got %v", f.repos.destroyed)
	}
}

func TestProvision_MarksInviteUsed(t *testing.T) {
	f := setupOrchestrator(t)
	plan := freshLocalPlan(t, f)
	plan.InviteCode = "friends-2026"

	if _, err := f.orch.Provision(context.Background(), plan); err != nil {
		t.Fatalf("provisioning failed: %v", err)
	}

	if len(f.invites.used) != 1 || f.invites.used[0] != "friends-2026" {
		t.Errorf("expected the invite code to be marked used, got %v", f.invites.used)
	}
}

func TestProvision_ConcurrentClaimOnSameDID(t *testing.T) {
	f := setupOrchestrator(t)
	plan := freshLocalPlan(t, f)

	other, err := identity.GenerateKeypair()
	if err != nil {
		t.Fatalf("failed to generate keypair: %v", err)
	}
	if err := f.keys.Escrow(context.Background(), plan.DID, other); err != nil {
		t.Fatalf("failed to seed conflicting reservation: %v", err)
	}

	_, err = f.orch.Provision(context.Background(), plan)
	if !errors.Is(err, ErrProvisionInFlight) {
		t.Errorf("expected ErrProvisionInFlight, got %v", err)
	}
	if len(f.repos.destroyed) != 0 {
		t.Error("nothing should be rolled back before the repository exists")
	}
}
