package app

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"household_reminder_bot/internal/domain/notification"
	"household_reminder_bot/internal/domain/obligation"
	"household_reminder_bot/internal/domain/schedule"
	idb "household_reminder_bot/internal/infra/database"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

type noopLocker struct{}

func (noopLocker) Lock(context.Context, string) (func(), error) { return func() {}, nil }

type fakePrefs struct {
	mu   sync.Mutex
	rows map[int64][]*notification.Preference
}

func newFakePrefs() *fakePrefs { return &fakePrefs{rows: map[int64][]*notification.Preference{}} }

func (f *fakePrefs) ListByUser(_ context.Context, userID int64) ([]*notification.Preference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*notification.Preference(nil), f.rows[userID]...), nil
}

func (f *fakePrefs) Upsert(_ context.Context, p *notification.Preference) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	for i, existing := range f.rows[p.UserID] {
		if existing.Channel == p.Channel {
			f.rows[p.UserID][i] = &cp
			return nil
		}
	}
	f.rows[p.UserID] = append(f.rows[p.UserID], &cp)
	return nil
}

type fakeLogs struct {
	mu      sync.Mutex
	entries []*notification.DeliveryLog
}

func (f *fakeLogs) Append(_ context.Context, e *notification.DeliveryLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeLogs) CountSince(_ context.Context, userID int64, ch notification.Channel, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.entries {
		if e.UserID != userID || e.Status == notification.DeliverySkipped || e.CreatedAt.Before(since) {
			continue
		}
		if ch != "" && e.Channel != ch {
			continue
		}
		n++
	}
	return n, nil
}

func (f *fakeLogs) withStatus(s notification.DeliveryStatus) []*notification.DeliveryLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*notification.DeliveryLog
	for _, e := range f.entries {
		if e.Status == s {
			out = append(out, e)
		}
	}
	return out
}

type fakeQueue struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*notification.QueuedNotification
	leases map[int64]time.Time
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{rows: map[int64]*notification.QueuedNotification{}, leases: map[int64]time.Time{}}
}

func (f *fakeQueue) Enqueue(_ context.Context, q *notification.QueuedNotification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	q.ID = f.nextID
	cp := *q
	f.rows[q.ID] = &cp
	return nil
}

func (f *fakeQueue) ClaimDue(_ context.Context, now time.Time, limit int, token string, leaseUntil time.Time) ([]*notification.QueuedNotification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []*notification.QueuedNotification
	for id, q := range f.rows {
		if q.IsTerminal() || q.NextAttemptAt.After(now) {
			continue
		}
		if lease, ok := f.leases[id]; ok && lease.After(now) {
			continue
		}
		due = append(due, q)
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority < due[j].Priority
		}
		return due[i].NextAttemptAt.Before(due[j].NextAttemptAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]*notification.QueuedNotification, 0, len(due))
	for _, q := range due {
		q.ClaimToken.String, q.ClaimToken.Valid = token, true
		f.leases[q.ID] = leaseUntil
		cp := *q
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeQueue) Save(_ context.Context, q *notification.QueuedNotification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.rows[q.ID]
	if !ok || stored.ClaimToken != q.ClaimToken {
		return idb.ErrQueueClaimLost
	}
	cp := *q
	cp.ClaimToken.Valid, cp.ClaimToken.String = false, ""
	f.rows[q.ID] = &cp
	delete(f.leases, q.ID)
	return nil
}

func (f *fakeQueue) CountPending(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, q := range f.rows {
		if !q.IsTerminal() {
			n++
		}
	}
	return n, nil
}

func (f *fakeQueue) all() []*notification.QueuedNotification {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*notification.QueuedNotification, 0, len(f.rows))
	for _, q := range f.rows {
		cp := *q
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type fakeSender struct {
	mu      sync.Mutex
	channel notification.Channel
	err     error
	sent    []notification.Message
}

func (f *fakeSender) Channel() notification.Channel { return f.channel }

func (f *fakeSender) Send(_ context.Context, msg notification.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, msg)
	return string(f.channel) + "-ext", nil
}

func (f *fakeSender) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeSender) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type fakeObligations struct {
	mu       sync.Mutex
	nextID   int64
	rows     map[int64]*obligation.Obligation
	payments []*obligation.PaymentHistory

	beforePayment func()
}

func newFakeObligations(items ...*obligation.Obligation) *fakeObligations {
	f := &fakeObligations{rows: map[int64]*obligation.Obligation{}}
	for _, o := range items {
		if o.ID > f.nextID {
			f.nextID = o.ID
		}
		f.rows[o.ID] = o
	}
	return f
}

func (f *fakeObligations) Create(_ context.Context, o *obligation.Obligation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	o.ID = f.nextID
	f.rows[o.ID] = o
	return nil
}

func (f *fakeObligations) GetByID(_ context.Context, id int64) (*obligation.Obligation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.rows[id]
	if !ok {
		return nil, idb.ErrObligationNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeObligations) Update(_ context.Context, o *obligation.Obligation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[o.ID]; !ok {
		return idb.ErrObligationNotFound
	}
	cp := *o
	f.rows[o.ID] = &cp
	return nil
}

func (f *fakeObligations) ListActiveByUser(_ context.Context, userID int64) ([]*obligation.Obligation, error) {
	return f.filter(func(o *obligation.Obligation) bool { return o.UserID == userID && o.IsActive }), nil
}

func (f *fakeObligations) ListEligibleForReminders(context.Context) ([]*obligation.Obligation, error) {
	return f.filter(func(o *obligation.Obligation) bool { return o.IsActive && o.ReminderEnabled && !o.IsPaid }), nil
}

func (f *fakeObligations) filter(keep func(*obligation.Obligation) bool) []*obligation.Obligation {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*obligation.Obligation
	for _, o := range f.rows {
		if keep(o) {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *fakeObligations) MarkReminderSent(_ context.Context, id int64, sentAt, dayStart time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.rows[id]
	if !ok {
		return false, idb.ErrObligationNotFound
	}
	if o.LastReminderSentAt.Valid && !o.LastReminderSentAt.Time.Before(dayStart) {
		return false, nil
	}
	o.LastReminderSentAt.Time, o.LastReminderSentAt.Valid = sentAt, true
	return true, nil
}

func (f *fakeObligations) RecordPayment(_ context.Context, o *obligation.Obligation, prev obligation.Cycle, p *obligation.PaymentHistory) error {
	if hook := f.takeBeforePayment(); hook != nil {
		hook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.rows[o.ID]
	if !ok || !sameCycle(stored.Cycle(), prev) {
		return idb.ErrObligationChanged
	}
	cp := *o
	f.rows[o.ID] = &cp
	f.payments = append(f.payments, p)
	return nil
}

// takeBeforePayment returns the one-shot hook run before the next RecordPayment.
func (f *fakeObligations) takeBeforePayment() func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	hook := f.beforePayment
	f.beforePayment = nil
	return hook
}

func sameCycle(a, b obligation.Cycle) bool {
	if !a.NextDueDate.Equal(b.NextDueDate) || a.PaidAmount.Valid != b.PaidAmount.Valid {
		return false
	}
	return !a.PaidAmount.Valid || a.PaidAmount.Decimal.Equal(b.PaidAmount.Decimal)
}

func (f *fakeObligations) ListPayments(_ context.Context, obligationID int64) ([]*obligation.PaymentHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*obligation.PaymentHistory
	for _, p := range f.payments {
		if p.ObligationID == obligationID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeObligations) get(id int64) *obligation.Obligation {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *f.rows[id]
	return &cp
}

type fakeSchedules struct {
	mu     sync.Mutex
	nextID int64
	rows   []*schedule.Schedule
}

func (f *fakeSchedules) Create(_ context.Context, s *schedule.Schedule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	s.ID = f.nextID
	cp := *s
	f.rows = append(f.rows, &cp)
	return nil
}

func (f *fakeSchedules) ListByObligation(_ context.Context, obligationID int64) ([]*schedule.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*schedule.Schedule
	for _, s := range f.rows {
		if s.ObligationID == obligationID {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeSchedules) ListDue(ctx context.Context, obligationID int64, now time.Time) ([]*schedule.Schedule, error) {
	all, _ := f.ListByObligation(ctx, obligationID)
	var out []*schedule.Schedule
	for _, s := range all {
		if s.IsDue(now) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSchedules) MarkSentAndChain(_ context.Context, s *schedule.Schedule, sentAt time.Time, successor *schedule.Schedule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.ID != s.ID {
			continue
		}
		if err := row.MarkSent(sentAt); err != nil {
			return idb.ErrScheduleAlreadySent
		}
		if successor != nil {
			f.nextID++
			successor.ID = f.nextID
			cp := *successor
			f.rows = append(f.rows, &cp)
		}
		return nil
	}
	return idb.ErrScheduleAlreadySent
}

func (f *fakeSchedules) ExpirePendingBefore(_ context.Context, obligationID int64, t time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, s := range f.rows {
		if s.ObligationID == obligationID && s.State == schedule.StatePending && s.ReminderTime.Before(t) && s.EndsWithCycle() {
			s.State = schedule.StateExpired
			n++
		}
	}
	return n, nil
}
