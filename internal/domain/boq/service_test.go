package boq_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quartermaster/internal/core/apperror"
	appctx "quartermaster/internal/core/context"
	"quartermaster/internal/core/id"
	"quartermaster/internal/core/numerator"
	"quartermaster/internal/core/security"
	"quartermaster/internal/core/types"
	"quartermaster/internal/domain/boq"
	"quartermaster/internal/domain/ledger"
	"quartermaster/internal/domain/notify"
	"quartermaster/internal/infrastructure/storage/memory"
)

func q(units int64) types.Quantity { return types.NewQuantity(units) }

type fixture struct {
	svc       *boq.Service
	ledger    *ledger.Service
	recorder  *notify.Recorder
	warehouse id.ID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	txm := memory.NewTxManager(store)
	ledgerSvc := ledger.NewService(memory.NewLedgerRepo(store), txm, ledger.DefaultThresholds(), nil, nil)
	recorder := &notify.Recorder{}
	policy, err := security.NewCELPolicy("")
	require.NoError(t, err)

	return &fixture{
		svc:       boq.NewService(memory.NewBOQRepo(store), ledgerSvc, policy, numerator.NewMemoryGenerator(), txm, recorder),
		ledger:    ledgerSvc,
		recorder:  recorder,
		warehouse: id.New(),
	}
}

func (f *fixture) stock(t *testing.T, item id.ID, general, reserve int64) {
	t.Helper()
	_, err := f.ledger.Receive(context.Background(), ledger.Key{WarehouseID: f.warehouse, ItemID: item}, q(general), q(reserve), ledger.Source{})
	require.NoError(t, err)
}

func (f *fixture) entry(t *testing.T, item id.ID) *ledger.Entry {
	t.Helper()
	e, err := f.ledger.Get(context.Background(), ledger.Key{WarehouseID: f.warehouse, ItemID: item})
	require.NoError(t, err)
	return e
}

// approved creates, submits and approves a BOQ with the given lines.
func (f *fixture) approved(t *testing.T, lines ...boq.LineInput) *boq.BOQ {
	t.Helper()
	ctx := context.Background()
	b, err := f.svc.Create(ctx, boq.CreateRequest{ProjectName: "Bridge", WarehouseID: f.warehouse, Lines: lines})
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, b.ID)
	require.NoError(t, err)
	b, err = f.svc.Approve(ctx, b.ID)
	require.NoError(t, err)
	return b
}

func line(item id.ID, requested int64) boq.LineInput {
	return boq.LineInput{ItemID: item, RequestedQuantity: q(requested), UnitPrice: types.MustMoney("2.50")}
}

func TestIssue_SplitsRemainder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	itemA, itemB := id.New(), id.New()
	f.stock(t, itemA, 60, 0)
	f.stock(t, itemB, 50, 0)

	b := f.approved(t, line(itemA, 100), line(itemB, 50))

	res, err := f.svc.Issue(ctx, b.ID, []boq.LineRequest{
		{ItemID: itemA, Quantity: q(60)},
		{ItemID: itemB, Quantity: q(50)},
	}, "awaiting resupply")
	require.NoError(t, err)

	parent := res.BOQ
	assert.Equal(t, boq.StatusPartiallyIssued, parent.Status)
	assert.Equal(t, q(40), parent.Line(itemA).Remaining())
	assert.Equal(t, q(0), parent.Line(itemB).Remaining())

	children, err := f.svc.ListRemaining(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)

	child := children[0]
	assert.Equal(t, boq.StatusPending, child.Status)
	assert.True(t, child.IsRemainingBOQ)
	require.NotNil(t, child.OriginalBOQID)
	assert.Equal(t, b.ID, *child.OriginalBOQID)
	assert.Equal(t, "awaiting resupply", child.PartialIssueReason)
	require.Len(t, child.Lines, 1)
	assert.Equal(t, itemA, child.Lines[0].ItemID)
	assert.Equal(t, q(40), child.Lines[0].RequestedQuantity)
	assert.NotEqual(t, parent.Number, child.Number)
	require.NotNil(t, parent.RemainingBOQID)
	assert.Equal(t, child.ID, *parent.RemainingBOQID)

	assert.Equal(t, q(0), f.entry(t, itemA).GeneralQuantity)
	assert.Equal(t, q(0), f.entry(t, itemB).GeneralQuantity)
	assert.Len(t, f.recorder.OfType(notify.EventBOQPartiallyIssued), 1)

	// The parent's remainder now belongs to the child.
	_, err = f.svc.Issue(ctx, b.ID, []boq.LineRequest{{ItemID: itemA, Quantity: q(1)}}, "")
	assert.True(t, apperror.IsInvalidStateTransition(err))
}

func TestIssue_RemainingBOQChains(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := id.New()
	f.stock(t, item, 30, 0)

	b := f.approved(t, line(item, 100))
	res, err := f.svc.Issue(ctx, b.ID, []boq.LineRequest{{ItemID: item, Quantity: q(30)}}, "first wave")
	require.NoError(t, err)
	child := res.Remaining
	require.NotNil(t, child)

	f.stock(t, item, 70, 0)
	_, err = f.svc.Approve(ctx, child.ID)
	require.NoError(t, err)

	res, err = f.svc.Issue(ctx, child.ID, []boq.LineRequest{{ItemID: item, Quantity: q(70)}}, "")
	require.NoError(t, err)
	assert.Equal(t, boq.StatusFullyIssued, res.BOQ.Status)
	assert.Nil(t, res.Remaining)

	require.Len(t, res.Completed, 1)
	assert.Equal(t, b.ID, res.Completed[0].ID)
	parent, err := f.svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, boq.StatusFullyIssued, parent.Status)
	assert.Len(t, f.recorder.OfType(notify.EventBOQFullyIssued), 2)
}

func TestIssue_CompletionClimbsWholeChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := id.New()
	f.stock(t, item, 10, 0)

	root := f.approved(t, line(item, 30))
	res, err := f.svc.Issue(ctx, root.ID, []boq.LineRequest{{ItemID: item, Quantity: q(10)}}, "wave 1")
	require.NoError(t, err)
	middle := res.Remaining

	f.stock(t, item, 10, 0)
	_, err = f.svc.Approve(ctx, middle.ID)
	require.NoError(t, err)
	res, err = f.svc.Issue(ctx, middle.ID, []boq.LineRequest{{ItemID: item, Quantity: q(10)}}, "wave 2")
	require.NoError(t, err)
	last := res.Remaining
	assert.Empty(t, res.Completed, "middle is only partially issued")

	f.stock(t, item, 10, 0)
	_, err = f.svc.Approve(ctx, last.ID)
	require.NoError(t, err)
	res, err = f.svc.Issue(ctx, last.ID, []boq.LineRequest{{ItemID: item, Quantity: q(10)}}, "")
	require.NoError(t, err)
	require.Len(t, res.Completed, 2)
	assert.Equal(t, middle.ID, res.Completed[0].ID)
	assert.Equal(t, root.ID, res.Completed[1].ID)

	for _, boqID := range []id.ID{root.ID, middle.ID, last.ID} {
		got, err := f.svc.Get(ctx, boqID)
		require.NoError(t, err)
		assert.Equal(t, boq.StatusFullyIssued, got.Status)
	}
}

func TestIssue_InsufficientStockFailsWholeCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	itemA, itemB := id.New(), id.New()
	f.stock(t, itemA, 60, 0)
	f.stock(t, itemB, 10, 0)

	b := f.approved(t, line(itemA, 100), line(itemB, 50))

	_, err := f.svc.Issue(ctx, b.ID, []boq.LineRequest{
		{ItemID: itemA, Quantity: q(60)},
		{ItemID: itemB, Quantity: q(11)},
	}, "")
	assert.True(t, apperror.IsInsufficientAvailability(err))

	assert.Equal(t, q(60), f.entry(t, itemA).GeneralQuantity)
	assert.Equal(t, q(10), f.entry(t, itemB).GeneralQuantity)

	got, err := f.svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, boq.StatusApproved, got.Status)
	assert.Equal(t, q(0), got.Line(itemA).IssuedQuantity)

	children, err := f.svc.ListRemaining(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, children)
}

func TestIssue_UnknownItemCountsAsNoStock(t *testing.T) {
	f := newFixture(t)
	item := id.New()
	b := f.approved(t, line(item, 5))

	_, err := f.svc.Issue(context.Background(), b.ID, []boq.LineRequest{{ItemID: item, Quantity: q(1)}}, "")
	assert.True(t, apperror.IsInsufficientAvailability(err))
}

func TestIssue_RequestValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := id.New()
	f.stock(t, item, 100, 0)
	b := f.approved(t, line(item, 10))

	cases := map[string][]boq.LineRequest{
		"empty":     nil,
		"all zero":  {{ItemID: item, Quantity: 0}},
		"over line": {{ItemID: item, Quantity: q(11)}},
		"unknown":   {{ItemID: id.New(), Quantity: q(1)}},
		"duplicate": {{ItemID: item, Quantity: q(1)}, {ItemID: item, Quantity: q(1)}},
		"negative":  {{ItemID: item, Quantity: q(-1)}},
	}
	for name, reqs := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Issue(ctx, b.ID, reqs, "")
			assert.True(t, apperror.IsValidation(err))
		})
	}
}

func TestIssue_ReserveRequiresCommanderApproval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := id.New()
	f.stock(t, item, 20, 50)

	in := line(item, 40)
	in.CommanderReserveQuantity = q(15)
	b := f.approved(t, in)

	_, err := f.svc.Issue(ctx, b.ID, []boq.LineRequest{{ItemID: item, Quantity: q(20)}}, "")
	assert.True(t, apperror.IsInvalidStateTransition(err))

	_, err = f.svc.ApproveCommanderReserve(ctx, b.ID)
	assert.True(t, apperror.IsUnauthorized(err))

	commander := appctx.WithUser(ctx, &appctx.UserContext{UserID: "cmd", Roles: []string{security.RoleCommander}})
	_, err = f.svc.ApproveCommanderReserve(commander, b.ID)
	require.NoError(t, err)

	// 20 general + 15 reserve allowance.
	_, err = f.svc.Issue(ctx, b.ID, []boq.LineRequest{{ItemID: item, Quantity: q(36)}}, "")
	assert.True(t, apperror.IsInsufficientAvailability(err))

	res, err := f.svc.Issue(ctx, b.ID, []boq.LineRequest{{ItemID: item, Quantity: q(35)}}, "reserve exhausted")
	require.NoError(t, err)

	l := res.BOQ.Line(item)
	assert.Equal(t, q(35), l.IssuedQuantity)
	assert.Equal(t, q(15), l.ReserveIssuedQuantity)

	e := f.entry(t, item)
	assert.Equal(t, q(0), e.GeneralQuantity)
	assert.Equal(t, q(35), e.ReserveQuantity)

	require.NotNil(t, res.Remaining)
	require.Len(t, res.Remaining.Lines, 1)
	assert.Equal(t, q(5), res.Remaining.Lines[0].RequestedQuantity)
	assert.False(t, res.Remaining.Lines[0].RequiresReserve())
	assert.False(t, res.Remaining.ReserveApproved)
}

func TestWorkflowTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := id.New()

	b, err := f.svc.Create(ctx, boq.CreateRequest{ProjectName: "Depot", WarehouseID: f.warehouse})
	require.NoError(t, err)
	assert.Equal(t, boq.StatusDraft, b.Status)

	_, err = f.svc.Submit(ctx, b.ID)
	assert.True(t, apperror.IsValidation(err))

	_, err = f.svc.Approve(ctx, b.ID)
	assert.True(t, apperror.IsInvalidStateTransition(err))

	b, err = f.svc.AddLine(ctx, b.ID, line(item, 5))
	require.NoError(t, err)
	_, err = f.svc.AddLine(ctx, b.ID, line(item, 3))
	assert.True(t, apperror.IsValidation(err))

	b, err = f.svc.UpdateLine(ctx, b.ID, b.Lines[0].LineID, line(item, 8))
	require.NoError(t, err)
	assert.Equal(t, q(8), b.Lines[0].RequestedQuantity)
	assert.True(t, types.MustMoney("20").Equal(b.TotalAmount()))

	b, err = f.svc.Submit(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, boq.StatusPending, b.Status)
	assert.Len(t, f.recorder.OfType(notify.EventBOQSubmitted), 1)

	_, err = f.svc.AddLine(ctx, b.ID, line(id.New(), 1))
	assert.True(t, apperror.IsInvalidStateTransition(err))

	b, err = f.svc.Reject(ctx, b.ID, "duplicate request")
	require.NoError(t, err)
	assert.Equal(t, boq.StatusCancelled, b.Status)
	assert.Equal(t, "duplicate request", b.CancellationReason)

	_, err = f.svc.Cancel(ctx, b.ID, "again")
	assert.True(t, apperror.IsInvalidStateTransition(err))
}

func TestCancelDoesNotTouchLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := id.New()
	f.stock(t, item, 10, 0)
	b := f.approved(t, line(item, 5))

	b, err := f.svc.Cancel(ctx, b.ID, "project shelved")
	require.NoError(t, err)
	assert.Equal(t, boq.StatusCancelled, b.Status)
	assert.Equal(t, q(10), f.entry(t, item).GeneralQuantity)
	assert.Len(t, f.recorder.OfType(notify.EventBOQCancelled), 1)
}

func TestCancel_PartiallyIssuedCancelsOpenRemainder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := id.New()
	f.stock(t, item, 60, 0)

	b := f.approved(t, line(item, 100))
	res, err := f.svc.Issue(ctx, b.ID, []boq.LineRequest{{ItemID: item, Quantity: q(60)}}, "short")
	require.NoError(t, err)
	child := res.Remaining
	require.NotNil(t, child)
	f.recorder.Reset()

	got, err := f.svc.Cancel(ctx, b.ID, "project shelved")
	require.NoError(t, err)
	assert.Equal(t, boq.StatusCancelled, got.Status)
	assert.Equal(t, q(60), got.Line(item).IssuedQuantity, "issued quantities stay issued")

	child, err = f.svc.Get(ctx, child.ID)
	require.NoError(t, err)
	assert.Equal(t, boq.StatusCancelled, child.Status)
	assert.Equal(t, "project shelved", child.CancellationReason)

	e := f.entry(t, item)
	assert.Equal(t, q(0), e.GeneralQuantity)
	assert.Equal(t, q(0), e.TotalQuantity)
	assert.Len(t, f.recorder.OfType(notify.EventBOQCancelled), 2)
}

func TestCancel_FullyIssuedIsRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := id.New()
	f.stock(t, item, 5, 0)

	b := f.approved(t, line(item, 5))
	_, err := f.svc.Issue(ctx, b.ID, []boq.LineRequest{{ItemID: item, Quantity: q(5)}}, "")
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, b.ID, "too late")
	assert.True(t, apperror.IsInvalidStateTransition(err))
}

func TestEvaluate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	itemA, itemB := id.New(), id.New()
	f.stock(t, itemA, 60, 0)
	b := f.approved(t, line(itemA, 100), line(itemB, 20))

	evals, err := f.svc.Evaluate(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, evals, 2)

	assert.Equal(t, q(60), evals[0].Available)
	assert.Equal(t, q(40), evals[0].Shortfall)
	assert.Equal(t, q(60), evals[0].SuggestedIssue)
	assert.Equal(t, q(0), evals[1].Available)
	assert.Equal(t, q(20), evals[1].Shortfall)

	got, err := f.svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, q(60), got.Line(itemA).AvailableStockSnapshot)
	assert.Equal(t, q(40), got.Line(itemA).Shortfall())
}
