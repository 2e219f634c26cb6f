package accounting_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/policy-accounting/accounting"
	"github.com/warp/policy-accounting/accounting/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// flakyStore injects write failures inside transactions.
type flakyStore struct {
	*store.TxMemory
	failAddInvoices bool
	failSavePolicy  bool
}

func (f *flakyStore) WithTx(ctx context.Context, fn func(accounting.Store) error) error {
	return f.TxMemory.WithTx(ctx, func(s accounting.Store) error {
		return fn(&failingWrites{Store: s, flaky: f})
	})
}

type failingWrites struct {
	accounting.Store
	flaky *flakyStore
}

var errDiskFull = errors.New("disk full")

func (w *failingWrites) AddInvoices(ctx context.Context, invoices []accounting.Invoice) error {
	if w.flaky.failAddInvoices {
		return errDiskFull
	}
	return w.Store.AddInvoices(ctx, invoices)
}

func (w *failingWrites) SavePolicy(ctx context.Context, p accounting.Policy) error {
	if w.flaky.failSavePolicy {
		return errDiskFull
	}
	return w.Store.SavePolicy(ctx, p)
}

var march1 = time.Date(2015, time.March, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, opts ...accounting.Option) (*accounting.Engine, *store.TxMemory) {
	t.Helper()
	mem := store.NewTxMemory()
	opts = append([]accounting.Option{accounting.WithClock(accounting.FixedClock{At: march1})}, opts...)
	return accounting.NewEngine(mem, opts...), mem
}

func quarterly() accounting.NewPolicyRequest {
	return accounting.NewPolicyRequest{
		Number:          "Policy Two",
		EffectiveDate:   d(2015, time.February, 1),
		AnnualPremium:   dec("1600"),
		BillingSchedule: accounting.ScheduleQuarterly,
		Agent:           "Joe Lee",
		NamedInsured:    "Anna White",
	}
}

func pay(t *testing.T, pa *accounting.PolicyAccounting, amount string, on accounting.Date) *accounting.Payment {
	t.Helper()
	p, err := pa.RecordPayment(context.Background(), accounting.PaymentRequest{Amount: dec(amount), Date: on})
	require.NoError(t, err)
	return p
}

func balance(t *testing.T, pa *accounting.PolicyAccounting, on accounting.Date) string {
	t.Helper()
	b, err := pa.Balance(context.Background(), on)
	require.NoError(t, err)
	return b.StringFixed(2)
}

// =============================================================================
// CONSTRUCTION
// =============================================================================

func TestOpen_GeneratesInvoicesOnce(t *testing.T) {
	// GIVEN: A stored policy with no invoices
	// WHEN: Opening it twice
	// THEN: Invoices are generated on the first open only

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, mem.SavePolicy(ctx, accounting.Policy{
		ID:              "p1",
		Number:          "Policy One",
		EffectiveDate:   d(2015, time.January, 1),
		AnnualPremium:   dec("365"),
		BillingSchedule: accounting.ScheduleAnnual,
		Status:          accounting.StatusActive,
	}))

	pa, err := engine.Open(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, accounting.PolicyID("p1"), pa.ID())

	_, err = engine.Open(ctx, "p1")
	require.NoError(t, err)

	history, err := pa.InvoiceHistory(ctx)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestOpen_MissingPolicy(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.Open(context.Background(), "nope")
	assert.ErrorIs(t, err, accounting.ErrPolicyNotFound)
	assert.True(t, accounting.IsNotFound(err))

	var refErr *accounting.ReferenceError
	require.ErrorAs(t, err, &refErr)
	assert.Equal(t, "policy", refErr.Kind)
}

func TestWithIDs_DeterministicIDs(t *testing.T) {
	paymentN := 0
	engine, _ := newTestEngine(t, accounting.WithIDs(sequentialIDs(), func() accounting.PaymentID {
		paymentN++
		return accounting.PaymentID(fmt.Sprintf("pay-%d", paymentN))
	}))
	ctx := context.Background()

	pa, err := engine.CreatePolicy(ctx, quarterly())
	require.NoError(t, err)

	invoices, err := pa.Invoices(ctx)
	require.NoError(t, err)
	require.Len(t, invoices, 4)
	for i, inv := range invoices {
		assert.Equal(t, accounting.InvoiceID(fmt.Sprintf("inv-%d", i+1)), inv.ID)
	}

	p := pay(t, pa, "400", d(2015, time.February, 1))
	assert.Equal(t, accounting.PaymentID("pay-1"), p.ID)
}

func TestOpen_UnknownScheduleWritesNothing(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, mem.SavePolicy(ctx, accounting.Policy{
		ID:              "bad",
		Number:          "Bad",
		EffectiveDate:   d(2015, time.January, 1),
		AnnualPremium:   dec("100"),
		BillingSchedule: "Weekly",
		Status:          accounting.StatusActive,
	}))

	_, err := engine.Open(ctx, "bad")
	assert.ErrorIs(t, err, accounting.ErrConfiguration)

	invoices, err := mem.ListInvoices(ctx, accounting.InvoiceQuery{PolicyID: "bad", IncludeDeleted: true})
	require.NoError(t, err)
	assert.Empty(t, invoices)
}

// =============================================================================
// POLICY CREATION
// =============================================================================

func TestCreatePolicy_ReusesContacts(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	first, err := engine.CreatePolicy(ctx, quarterly())
	require.NoError(t, err)

	req := quarterly()
	req.Number = "Policy Four"
	req.NamedInsured = "Ryan Bucket"
	second, err := engine.CreatePolicy(ctx, req)
	require.NoError(t, err)

	require.NotNil(t, first.Policy().Agent)
	require.NotNil(t, second.Policy().Agent)
	assert.Equal(t, *first.Policy().Agent, *second.Policy().Agent)
	assert.NotEqual(t, *first.Policy().NamedInsured, *second.Policy().NamedInsured)

	// Same name in a different role is a different contact.
	agentAsInsured, err := engine.ResolveContact(ctx, "Joe Lee", accounting.RoleNamedInsured)
	require.NoError(t, err)
	assert.NotEqual(t, *first.Policy().Agent, agentAsInsured.ID)

	policies, err := engine.ListPolicies(ctx, accounting.PolicyFilter{})
	require.NoError(t, err)
	assert.Len(t, policies, 2)
}

func TestCreatePolicy_Validation(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	req := quarterly()
	req.Number = " "
	_, err := engine.CreatePolicy(ctx, req)
	assert.ErrorIs(t, err, accounting.ErrConfiguration)

	req = quarterly()
	req.AnnualPremium = dec("-1")
	_, err = engine.CreatePolicy(ctx, req)
	assert.ErrorIs(t, err, accounting.ErrInvalidAmount)

	req = quarterly()
	req.BillingSchedule = "Semi-Annual"
	_, err = engine.CreatePolicy(ctx, req)
	assert.ErrorIs(t, err, accounting.ErrConfiguration)

	policies, err := engine.ListPolicies(ctx, accounting.PolicyFilter{})
	require.NoError(t, err)
	assert.Empty(t, policies)
}

// =============================================================================
// LEDGER AND PAYMENTS
// =============================================================================

func TestBalance_QuarterlyFirstInstallmentPaid(t *testing.T) {
	// GIVEN: Quarterly policy, premium 1600, effective 2015-02-01
	// WHEN: 400 is paid on 2015-02-01
	// THEN: Balance is 0 that same day and 400 once the May invoice bills

	engine, _ := newTestEngine(t)
	pa, err := engine.CreatePolicy(context.Background(), quarterly())
	require.NoError(t, err)

	assert.Equal(t, "0.00", balance(t, pa, d(2015, time.January, 31)))
	assert.Equal(t, "400.00", balance(t, pa, d(2015, time.February, 1)))

	pay(t, pa, "400", d(2015, time.February, 1))

	assert.Equal(t, "0.00", balance(t, pa, d(2015, time.February, 1)))
	assert.Equal(t, "0.00", balance(t, pa, d(2015, time.March, 1)))
	assert.Equal(t, "400.00", balance(t, pa, d(2015, time.May, 1)))
	assert.Equal(t, "1200.00", balance(t, pa, d(2016, time.January, 1)))

	// Zero date means the clock's today (2015-03-01).
	assert.Equal(t, "0.00", balance(t, pa, accounting.Date{}))
}

func TestBalance_Monotonic(t *testing.T) {
	// GIVEN: A monthly policy
	// WHEN: Sampling the balance over the term, then after each payment
	// THEN: Later dates never lower it and payments never raise it

	engine, _ := newTestEngine(t)
	req := quarterly()
	req.BillingSchedule = accounting.ScheduleMonthly
	req.AnnualPremium = dec("1000")
	pa, err := engine.CreatePolicy(context.Background(), req)
	require.NoError(t, err)

	prev := dec(balance(t, pa, d(2015, time.January, 1)))
	for day := d(2015, time.January, 1); day.BeforeOrEqual(d(2016, time.February, 1)); day = day.AddDays(7) {
		next := dec(balance(t, pa, day))
		assert.True(t, next.GreaterThanOrEqual(prev), "balance fell on %s: %s -> %s", day, prev, next)
		prev = next
	}

	asOf := d(2015, time.June, 1)
	prev = dec(balance(t, pa, asOf))
	for _, amount := range []string{"50", "83.33", "0.01", "200"} {
		pay(t, pa, amount, d(2015, time.March, 1))
		next := dec(balance(t, pa, asOf))
		assert.True(t, next.LessThanOrEqual(prev), "payment %s raised balance %s -> %s", amount, prev, next)
		prev = next
	}
}

func TestBalance_Overpayment(t *testing.T) {
	engine, _ := newTestEngine(t)
	pa, err := engine.CreatePolicy(context.Background(), quarterly())
	require.NoError(t, err)

	pay(t, pa, "500", d(2015, time.February, 1))
	assert.Equal(t, "-100.00", balance(t, pa, d(2015, time.March, 1)))
}

func TestRecordPayment_PayerDefaults(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	engine, _ := newTestEngine(t, accounting.WithLogger(zap.New(core)))
	ctx := context.Background()

	t.Run("named insured first", func(t *testing.T) {
		pa, err := engine.CreatePolicy(ctx, quarterly())
		require.NoError(t, err)
		p := pay(t, pa, "10", accounting.Date{})
		require.NotNil(t, p.ContactID)
		assert.Equal(t, *pa.Policy().NamedInsured, *p.ContactID)
		assert.Equal(t, d(2015, time.March, 1), p.TransactionDate)
	})

	t.Run("agent when no named insured", func(t *testing.T) {
		req := quarterly()
		req.Number = "Agent Only"
		req.NamedInsured = ""
		pa, err := engine.CreatePolicy(ctx, req)
		require.NoError(t, err)
		p := pay(t, pa, "10", accounting.Date{})
		require.NotNil(t, p.ContactID)
		assert.Equal(t, *pa.Policy().Agent, *p.ContactID)
	})

	t.Run("no contact logs a warning", func(t *testing.T) {
		req := quarterly()
		req.Number = "Nobody"
		req.NamedInsured = ""
		req.Agent = ""
		pa, err := engine.CreatePolicy(ctx, req)
		require.NoError(t, err)
		p := pay(t, pa, "10", accounting.Date{})
		assert.Nil(t, p.ContactID)
		assert.Equal(t, 1, logs.FilterMessageSnippet("no contact found").Len())
	})

	t.Run("explicit contact", func(t *testing.T) {
		pa, err := engine.CreatePolicy(ctx, accounting.NewPolicyRequest{
			Number:          "Explicit",
			EffectiveDate:   d(2015, time.January, 1),
			AnnualPremium:   dec("1200"),
			BillingSchedule: accounting.ScheduleMonthly,
			NamedInsured:    "Anna White",
		})
		require.NoError(t, err)
		payer, err := engine.ResolveContact(ctx, "John Doe", accounting.RoleAgent)
		require.NoError(t, err)

		p, err := pa.RecordPayment(ctx, accounting.PaymentRequest{ContactID: &payer.ID, Amount: dec("100")})
		require.NoError(t, err)
		assert.Equal(t, payer.ID, *p.ContactID)
	})

	t.Run("missing explicit contact", func(t *testing.T) {
		pa, err := engine.CreatePolicy(ctx, accounting.NewPolicyRequest{
			Number:          "Missing Payer",
			EffectiveDate:   d(2015, time.January, 1),
			AnnualPremium:   dec("1200"),
			BillingSchedule: accounting.ScheduleMonthly,
		})
		require.NoError(t, err)
		ghost := accounting.ContactID("ghost")
		_, err = pa.RecordPayment(ctx, accounting.PaymentRequest{ContactID: &ghost, Amount: dec("100")})
		assert.ErrorIs(t, err, accounting.ErrContactNotFound)

		payments, err := pa.Payments(ctx)
		require.NoError(t, err)
		assert.Empty(t, payments)
	})
}

func TestRecordPayment_RejectsNonPositive(t *testing.T) {
	engine, _ := newTestEngine(t)
	pa, err := engine.CreatePolicy(context.Background(), quarterly())
	require.NoError(t, err)

	for _, amount := range []string{"0", "-5"} {
		_, err := pa.RecordPayment(context.Background(), accounting.PaymentRequest{Amount: dec(amount)})
		assert.ErrorIs(t, err, accounting.ErrInvalidAmount, amount)
	}
}

func TestRecordPayment_Concurrent(t *testing.T) {
	// GIVEN: Two handles on the same policy
	// WHEN: 40 payments of 10 are recorded concurrently
	// THEN: Every payment is kept and the balance reflects all of them

	engine, _ := newTestEngine(t)
	ctx := context.Background()
	created, err := engine.CreatePolicy(ctx, quarterly())
	require.NoError(t, err)
	other, err := engine.Open(ctx, created.ID())
	require.NoError(t, err)

	var wg conc.WaitGroup
	for i := 0; i < 40; i++ {
		pa := created
		if i%2 == 1 {
			pa = other
		}
		wg.Go(func() {
			_, err := pa.RecordPayment(ctx, accounting.PaymentRequest{Amount: dec("10"), Date: d(2015, time.February, 2)})
			assert.NoError(t, err)
		})
	}
	wg.Wait()

	payments, err := created.Payments(ctx)
	require.NoError(t, err)
	assert.Len(t, payments, 40)
	assert.Equal(t, "0.00", balance(t, created, d(2015, time.March, 1)))
}

func TestRefresh_ConcurrentWithWrites(t *testing.T) {
	// GIVEN: One handle shared by a payer and a reader
	// WHEN: Payments and refreshes interleave
	// THEN: Both complete and every payment is kept

	engine, _ := newTestEngine(t)
	ctx := context.Background()
	pa, err := engine.CreatePolicy(ctx, quarterly())
	require.NoError(t, err)

	var wg conc.WaitGroup
	wg.Go(func() {
		for i := 0; i < 50; i++ {
			_, err := pa.RecordPayment(ctx, accounting.PaymentRequest{Amount: dec("8"), Date: d(2015, time.February, 2)})
			assert.NoError(t, err)
		}
	})
	wg.Go(func() {
		for i := 0; i < 50; i++ {
			assert.NoError(t, pa.Refresh(ctx))
			assert.Equal(t, accounting.StatusActive, pa.Policy().Status)
		}
	})
	wg.Wait()

	payments, err := pa.Payments(ctx)
	require.NoError(t, err)
	assert.Len(t, payments, 50)
}

// =============================================================================
// CANCELLATION
// =============================================================================

func TestIsPendingCancellation(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	pa, err := engine.CreatePolicy(ctx, quarterly())
	require.NoError(t, err)

	// First invoice: due 2015-03-01, cancel 2015-03-15.
	for _, tc := range []struct {
		on      accounting.Date
		pending bool
	}{
		{d(2015, time.March, 1), false},
		{d(2015, time.March, 15), false},
		{d(2015, time.March, 16), true},
	} {
		pending, err := pa.IsPendingCancellation(ctx, tc.on)
		require.NoError(t, err)
		assert.Equal(t, tc.pending, pending, tc.on.String())
	}
}

func TestEvaluateCancel_UnpaidPastGrace(t *testing.T) {
	// GIVEN: Quarterly policy, first invoice unpaid
	// WHEN: Evaluating on 2015-03-16, after its cancel date
	// THEN: The policy is canceled as of that day with the default reason

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	pa, err := engine.CreatePolicy(ctx, quarterly())
	require.NoError(t, err)

	asOf := d(2015, time.March, 16)
	result, err := pa.EvaluateCancel(ctx, accounting.CancelRequest{AsOf: asOf})
	require.NoError(t, err)

	assert.True(t, result.Canceled)
	assert.False(t, result.Forced)
	require.NotNil(t, result.Invoice)
	assert.Equal(t, d(2015, time.February, 1), result.Invoice.BillDate)
	assert.Equal(t, "400.00", result.Balance.StringFixed(2))

	stored, err := mem.GetPolicy(ctx, pa.ID())
	require.NoError(t, err)
	assert.Equal(t, accounting.StatusCanceled, stored.Status)
	require.NotNil(t, stored.CancellationDate)
	assert.Equal(t, asOf, *stored.CancellationDate)
	assert.Equal(t, accounting.DefaultCancelDescription, stored.CancellationDescription)
	assert.True(t, pa.Policy().IsCanceled())
}

func TestEvaluateCancel_NotTriggered(t *testing.T) {
	cases := []struct {
		name     string
		payments map[string]accounting.Date
		asOf     accounting.Date
	}{
		{
			name: "before cancel date",
			asOf: d(2015, time.March, 14),
		},
		{
			name:     "paid in full before cancel date",
			payments: map[string]accounting.Date{"400": d(2015, time.March, 10)},
			asOf:     d(2015, time.April, 1),
		},
		{
			name:     "overpaid",
			payments: map[string]accounting.Date{"1000": d(2015, time.February, 1)},
			asOf:     d(2015, time.April, 1),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			engine, _ := newTestEngine(t)
			ctx := context.Background()
			pa, err := engine.CreatePolicy(ctx, quarterly())
			require.NoError(t, err)
			for amount, on := range tc.payments {
				pay(t, pa, amount, on)
			}

			result, err := pa.EvaluateCancel(ctx, accounting.CancelRequest{AsOf: tc.asOf})
			require.NoError(t, err)
			assert.False(t, result.Canceled)
			assert.Nil(t, result.Invoice)
			assert.Equal(t, accounting.StatusActive, pa.Policy().Status)
		})
	}
}

func TestEvaluateCancel_PartialOrLatePayment(t *testing.T) {
	// Balance is judged at each invoice's own cancel date: a payment after
	// 2015-03-15 does not save the first installment.
	cases := []struct {
		name   string
		amount string
		on     accounting.Date
		owed   string
	}{
		{"partial", "200", d(2015, time.March, 1), "200.00"},
		{"late", "400", d(2015, time.March, 20), "400.00"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			engine, _ := newTestEngine(t)
			ctx := context.Background()
			pa, err := engine.CreatePolicy(ctx, quarterly())
			require.NoError(t, err)
			pay(t, pa, tc.amount, tc.on)

			result, err := pa.EvaluateCancel(ctx, accounting.CancelRequest{AsOf: d(2015, time.April, 1)})
			require.NoError(t, err)
			assert.True(t, result.Canceled)
			assert.Equal(t, tc.owed, result.Balance.StringFixed(2))
		})
	}
}

func TestEvaluateCancel_ForcedThenIdempotent(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()
	pa, err := engine.CreatePolicy(ctx, quarterly())
	require.NoError(t, err)

	first := d(2015, time.February, 10)
	result, err := pa.EvaluateCancel(ctx, accounting.CancelRequest{
		AsOf:        first,
		Description: "Insured request",
		Force:       true,
	})
	require.NoError(t, err)
	assert.True(t, result.Canceled)
	assert.True(t, result.Forced)
	assert.Nil(t, result.Invoice)

	_, err = pa.EvaluateCancel(ctx, accounting.CancelRequest{
		AsOf:        d(2015, time.June, 1),
		Description: "Second attempt",
		Force:       true,
	})
	assert.ErrorIs(t, err, accounting.ErrPolicyCanceled)

	stored, err := mem.GetPolicy(ctx, pa.ID())
	require.NoError(t, err)
	assert.Equal(t, first, *stored.CancellationDate)
	assert.Equal(t, "Insured request", stored.CancellationDescription)

	active := accounting.StatusActive
	policies, err := engine.ListPolicies(ctx, accounting.PolicyFilter{Status: &active})
	require.NoError(t, err)
	assert.Empty(t, policies)
}

func TestEvaluateCancel_SaveFailureRollsBack(t *testing.T) {
	flaky := &flakyStore{TxMemory: store.NewTxMemory()}
	engine := accounting.NewEngine(flaky, accounting.WithClock(accounting.FixedClock{At: march1}))
	ctx := context.Background()
	pa, err := engine.CreatePolicy(ctx, quarterly())
	require.NoError(t, err)

	flaky.failSavePolicy = true
	_, err = pa.EvaluateCancel(ctx, accounting.CancelRequest{Force: true})
	assert.ErrorIs(t, err, accounting.ErrPersistence)
	assert.ErrorIs(t, err, errDiskFull)

	stored, err := flaky.GetPolicy(ctx, pa.ID())
	require.NoError(t, err)
	assert.Equal(t, accounting.StatusActive, stored.Status)
	assert.Nil(t, stored.CancellationDate)
}

// =============================================================================
// SCHEDULE CHANGE AND REGENERATION
// =============================================================================

func TestChangeSchedule_RollsBalanceIntoNewSchedule(t *testing.T) {
	// GIVEN: Quarterly 1600, 400 paid, evaluated on 2015-06-01 (two invoices billed)
	// WHEN: Switching to Monthly
	// THEN: Premium becomes the 400 owed, payments are gone, and 12 monthly
	//       invoices sum to 400 while the quarterly set is kept as history

	engine, _ := newTestEngine(t)
	ctx := context.Background()
	pa, err := engine.CreatePolicy(ctx, quarterly())
	require.NoError(t, err)
	pay(t, pa, "400", d(2015, time.February, 1))

	asOf := d(2015, time.June, 1)
	require.Equal(t, "400.00", balance(t, pa, asOf))

	require.NoError(t, pa.ChangeSchedule(ctx, accounting.ScheduleMonthly, asOf))

	assert.Equal(t, accounting.ScheduleMonthly, pa.Policy().BillingSchedule)
	assert.Equal(t, "400.00", pa.Policy().AnnualPremium.StringFixed(2))

	payments, err := pa.Payments(ctx)
	require.NoError(t, err)
	assert.Empty(t, payments)

	invoices, err := pa.Invoices(ctx)
	require.NoError(t, err)
	require.Len(t, invoices, 12)
	assert.Equal(t, "400.00", accounting.TotalDue(invoices).StringFixed(2))
	assert.Equal(t, d(2015, time.February, 1), invoices[0].BillDate)
	assert.Equal(t, "33.33", invoices[0].AmountDue.StringFixed(2))
	assert.Equal(t, "33.37", invoices[11].AmountDue.StringFixed(2))

	history, err := pa.InvoiceHistory(ctx)
	require.NoError(t, err)
	assert.Len(t, history, 16)
}

func TestChangeSchedule_InvalidSchedule(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	pa, err := engine.CreatePolicy(ctx, quarterly())
	require.NoError(t, err)
	pay(t, pa, "400", d(2015, time.February, 1))

	err = pa.ChangeSchedule(ctx, "Weekly", accounting.Date{})
	assert.ErrorIs(t, err, accounting.ErrConfiguration)

	payments, err := pa.Payments(ctx)
	require.NoError(t, err)
	assert.Len(t, payments, 1)
	assert.Equal(t, accounting.ScheduleQuarterly, pa.Policy().BillingSchedule)
}

func TestChangeSchedule_FailureRollsBack(t *testing.T) {
	// GIVEN: A store whose invoice inserts fail
	// WHEN: Changing the schedule
	// THEN: Payments, policy terms and the active invoice set are unchanged

	flaky := &flakyStore{TxMemory: store.NewTxMemory()}
	engine := accounting.NewEngine(flaky, accounting.WithClock(accounting.FixedClock{At: march1}))
	ctx := context.Background()
	pa, err := engine.CreatePolicy(ctx, quarterly())
	require.NoError(t, err)
	pay(t, pa, "400", d(2015, time.February, 1))

	flaky.failAddInvoices = true
	err = pa.ChangeSchedule(ctx, accounting.ScheduleMonthly, d(2015, time.June, 1))
	assert.ErrorIs(t, err, accounting.ErrPersistence)

	var perr *accounting.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "change schedule", perr.Op)

	stored, err := flaky.GetPolicy(ctx, pa.ID())
	require.NoError(t, err)
	assert.Equal(t, accounting.ScheduleQuarterly, stored.BillingSchedule)
	assert.Equal(t, "1600", stored.AnnualPremium.String())

	payments, err := pa.Payments(ctx)
	require.NoError(t, err)
	assert.Len(t, payments, 1)

	invoices, err := pa.Invoices(ctx)
	require.NoError(t, err)
	assert.Len(t, invoices, 4)
	history, err := pa.InvoiceHistory(ctx)
	require.NoError(t, err)
	assert.Len(t, history, 4)
}

func TestGenerateInvoices_SingleActiveSet(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	pa, err := engine.CreatePolicy(ctx, quarterly())
	require.NoError(t, err)

	require.NoError(t, pa.GenerateInvoices(ctx))
	require.NoError(t, pa.GenerateInvoices(ctx))

	active, err := pa.Invoices(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 4)
	assert.Equal(t, "1600.00", accounting.TotalDue(active).StringFixed(2))

	history, err := pa.InvoiceHistory(ctx)
	require.NoError(t, err)
	assert.Len(t, history, 12)

	// Balance only counts the active set.
	assert.Equal(t, "400.00", balance(t, pa, d(2015, time.March, 1)))
}
