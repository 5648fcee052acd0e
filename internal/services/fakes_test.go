package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/casamar/reservations-backend/internal/clock"
	"github.com/casamar/reservations-backend/internal/models"
	"github.com/casamar/reservations-backend/pkg/payment"
	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeBookingStore keeps bookings in memory with compare-and-set semantics
type fakeBookingStore struct {
	mu       sync.Mutex
	bookings map[string]models.Booking
	writes   int
	// beforeCAS runs once before the next compare-and-set, to simulate a racing writer
	beforeCAS func()
	// holdsNights reports whether a booking still holds nights in the room ledger
	holdsNights func(roomID, bookingID string) bool
}

func newFakeBookingStore(bookings ...models.Booking) *fakeBookingStore {
	s := &fakeBookingStore{bookings: map[string]models.Booking{}}
	for _, b := range bookings {
		s.bookings[b.ID] = b
	}
	return s
}

func (s *fakeBookingStore) GetByID(_ context.Context, id string) (*models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, models.NewNotFound("booking", id)
	}
	return &b, nil
}

func (s *fakeBookingStore) UpdateStatusIfUnchanged(
	_ context.Context, id string,
	fromStatus models.BookingStatus, fromPayment models.PaymentStatus,
	toStatus models.BookingStatus, toPayment models.PaymentStatus,
	now time.Time,
) (bool, error) {
	if hook := s.beforeCAS; hook != nil {
		s.beforeCAS = nil
		hook()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return false, nil
	}
	if b.Status != fromStatus || b.PaymentStatus != fromPayment {
		return false, nil
	}
	b.Status = toStatus
	b.PaymentStatus = toPayment
	b.UpdatedAt = now
	s.bookings[id] = b
	s.writes++
	return true, nil
}

func (s *fakeBookingStore) ListStaleProvisional(_ context.Context, olderThan time.Time, after models.BookingCursor, limit int) ([]models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Booking
	for _, b := range s.bookings {
		if !b.IsProvisional() || !b.UpdatedAt.Before(olderThan) {
			continue
		}
		if b.UpdatedAt.Before(after.UpdatedAt) || (b.UpdatedAt.Equal(after.UpdatedAt) && b.ID <= after.ID) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeBookingStore) ListCancelledHoldingNights(_ context.Context, limit int) ([]models.Booking, error) {
	s.mu.Lock()
	var cancelled []models.Booking
	for _, b := range s.bookings {
		if b.Status == models.BookingStatusCancelled {
			cancelled = append(cancelled, b)
		}
	}
	s.mu.Unlock()

	var out []models.Booking
	for _, b := range cancelled {
		if s.holdsNights != nil && s.holdsNights(b.RoomID, b.ID) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeBookingStore) status(id string) (models.BookingStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	return b.Status, ok
}

func (s *fakeBookingStore) get(id string) models.Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bookings[id]
}

func (s *fakeBookingStore) set(b models.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings[b.ID] = b
}

// fakeRoomStore merges availability per key and keeps a ledger of night holders
type fakeRoomStore struct {
	mu         sync.Mutex
	rooms      map[string]models.AvailabilityDates
	holders    map[string]map[string][]string
	lockErr    error
	releaseErr error
	calls      int
	// bookingStatus mirrors the row lock on bookings; nil skips the check
	bookingStatus func(id string) (models.BookingStatus, bool)
	// beforeLock runs once before the next lock, to simulate a racing writer
	beforeLock func()
}

func newFakeRoomStore(roomIDs ...string) *fakeRoomStore {
	s := &fakeRoomStore{rooms: map[string]models.AvailabilityDates{}, holders: map[string]map[string][]string{}}
	for _, id := range roomIDs {
		s.rooms[id] = models.AvailabilityDates{}
		s.holders[id] = map[string][]string{}
	}
	return s
}

func (s *fakeRoomStore) LockNights(_ context.Context, roomID, bookingID string, days []string, _ time.Time) ([]string, error) {
	if hook := s.beforeLock; hook != nil {
		s.beforeLock = nil
		hook()
	}
	if s.bookingStatus != nil {
		status, ok := s.bookingStatus(bookingID)
		if !ok {
			return nil, models.NewNotFound("booking", bookingID)
		}
		if status != models.BookingStatusConfirmed {
			return nil, fmt.Errorf("booking %s is %s: %w", bookingID, status, models.ErrNotConfirmed)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.lockErr != nil {
		return nil, s.lockErr
	}
	dates, ok := s.rooms[roomID]
	if !ok {
		return nil, models.NewNotFound("room", roomID)
	}
	conflicts := []string{}
	for _, day := range days {
		dates[day] = false
		held := s.holders[roomID][day]
		mine := false
		for _, holder := range held {
			if holder == bookingID {
				mine = true
			}
		}
		if !mine {
			held = append(held, bookingID)
			s.holders[roomID][day] = held
		}
		if len(held) > 1 {
			conflicts = append(conflicts, day)
		}
	}
	sort.Strings(conflicts)
	return conflicts, nil
}

func (s *fakeRoomStore) ReleaseNights(_ context.Context, roomID, bookingID string, _ time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.releaseErr != nil {
		return nil, s.releaseErr
	}
	dates, ok := s.rooms[roomID]
	if !ok {
		return nil, models.NewNotFound("room", roomID)
	}
	freed := []string{}
	for day, held := range s.holders[roomID] {
		remaining := held[:0:0]
		for _, holder := range held {
			if holder != bookingID {
				remaining = append(remaining, holder)
			}
		}
		if len(remaining) == len(held) {
			continue
		}
		if len(remaining) == 0 {
			delete(s.holders[roomID], day)
			dates[day] = true
			freed = append(freed, day)
			continue
		}
		s.holders[roomID][day] = remaining
	}
	sort.Strings(freed)
	return freed, nil
}

func (s *fakeRoomStore) GetByID(_ context.Context, id string) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dates, ok := s.rooms[id]
	if !ok {
		return nil, models.NewNotFound("room", id)
	}
	copied := models.AvailabilityDates{}
	for k, v := range dates {
		copied[k] = v
	}
	return &models.Room{ID: id, Name: "Ocean Suite", AvailabilityDates: copied}, nil
}

func (s *fakeRoomStore) ListLocks(_ context.Context, roomID string, days []string) ([]models.RoomNightLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	locks := []models.RoomNightLock{}
	for _, day := range days {
		for _, holder := range s.holders[roomID][day] {
			locks = append(locks, models.RoomNightLock{RoomID: roomID, DayKey: day, BookingID: holder})
		}
	}
	return locks, nil
}

func (s *fakeRoomStore) holds(roomID, bookingID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, held := range s.holders[roomID] {
		for _, holder := range held {
			if holder == bookingID {
				return true
			}
		}
	}
	return false
}

// setHolders overwrites the ledger entry of one night
func (s *fakeRoomStore) setHolders(roomID, day string, bookingIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holders[roomID][day] = bookingIDs
}

func (s *fakeRoomStore) availability(roomID string) models.AvailabilityDates {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := models.AvailabilityDates{}
	for k, v := range s.rooms[roomID] {
		out[k] = v
	}
	return out
}

// fakeInboxStore applies the same dedup predicate as the SQL repository
type fakeInboxStore struct {
	mu       sync.Mutex
	messages []models.InboxMessage
	err      error
}

func (s *fakeInboxStore) CreateUnlessDuplicate(_ context.Context, msg *models.InboxMessage, since time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	for _, m := range s.messages {
		if m.CreatedAt.Before(since) {
			continue
		}
		sameKey := m.IdempotencyKey != nil && *m.IdempotencyKey == *msg.IdempotencyKey
		sameText := m.Email == msg.Email && m.Message == msg.Message
		if sameKey || sameText {
			return false, nil
		}
	}
	s.messages = append(s.messages, *msg)
	return true, nil
}

func (s *fakeInboxStore) ListByBooking(_ context.Context, bookingID string) ([]models.InboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.InboxMessage{}
	for _, m := range s.messages {
		if m.BookingID != nil && *m.BookingID == bookingID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeInboxStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// fakeLogStore records reconciliation log entries
type fakeLogStore struct {
	mu      sync.Mutex
	entries []models.ReconciliationLog
	err     error
}

func (s *fakeLogStore) Log(_ context.Context, entry *models.ReconciliationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, *entry)
	return nil
}

func (s *fakeLogStore) ListByBooking(_ context.Context, bookingID string, _ int) ([]models.ReconciliationLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ReconciliationLog
	for _, e := range s.entries {
		if e.BookingID == bookingID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeLogStore) actions() []models.ReconciliationAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ReconciliationAction
	for _, e := range s.entries {
		out = append(out, e.Action)
	}
	return out
}

// fakeGateway serves canned intents and sessions
type fakeGateway struct {
	intents  map[string]*payment.Intent
	sessions map[string]*payment.CheckoutSession
	err      error
	calls    atomic.Int32
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{intents: map[string]*payment.Intent{}, sessions: map[string]*payment.CheckoutSession{}}
}

func (g *fakeGateway) GetPaymentIntent(_ context.Context, id string) (*payment.Intent, error) {
	g.calls.Add(1)
	if g.err != nil {
		return nil, g.err
	}
	intent, ok := g.intents[id]
	if !ok {
		return nil, payment.ErrNotFound
	}
	return intent, nil
}

func (g *fakeGateway) GetCheckoutSession(_ context.Context, id string) (*payment.CheckoutSession, error) {
	g.calls.Add(1)
	if g.err != nil {
		return nil, g.err
	}
	session, ok := g.sessions[id]
	if !ok {
		return nil, payment.ErrNotFound
	}
	return session, nil
}

func (g *fakeGateway) GetName() string { return "fake" }

// fakePublisher records published routing keys
type fakePublisher struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (p *fakePublisher) PublishJSON(_ context.Context, key string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, key)
	return nil
}

var errBoom = errors.New("boom")

// reconciliationFixture wires the real services over the fakes
type reconciliationFixture struct {
	bookings  *fakeBookingStore
	rooms     *fakeRoomStore
	inbox     *fakeInboxStore
	logs      *fakeLogStore
	gateway   *fakeGateway
	publisher *fakePublisher
	clock     clock.Clock
	resolver  *PaymentStatusResolver
	locker    *AvailabilityLocker
	forwarder *SpecialRequestForwarder
	service   *ReconciliationService
}

func newReconciliationFixture(bookings ...models.Booking) *reconciliationFixture {
	f := &reconciliationFixture{
		bookings:  newFakeBookingStore(bookings...),
		rooms:     newFakeRoomStore("R1"),
		inbox:     &fakeInboxStore{},
		logs:      &fakeLogStore{},
		gateway:   newFakeGateway(),
		publisher: &fakePublisher{},
		clock:     clock.NewFixed(testNow),
	}
	logger := testLogger()
	classifier := NewMethodClassifier([]string{"oxxo", "boleto", "konbini", "customer_balance", "multibanco", "bank_transfer", "voucher", "cash"})
	f.resolver = NewPaymentStatusResolver(f.gateway, f.bookings, classifier, time.Second, logger)
	f.locker = NewAvailabilityLocker(f.rooms, f.logs, f.clock, logger)
	f.forwarder = NewSpecialRequestForwarder(f.inbox, f.logs, f.clock, 24*time.Hour, logger)
	f.service = NewReconciliationService(f.resolver, f.bookings, f.locker, f.forwarder, f.logs, f.publisher, f.clock, logger)
	f.rooms.bookingStatus = f.bookings.status
	f.bookings.holdsNights = f.rooms.holds
	return f
}

func strPtr(s string) *string { return &s }

// bookingB1 is a pending three-night stay on R1 from 2024-06-10 to 2024-06-13
func bookingB1(method string) models.Booking {
	return models.Booking{
		ID:              "B1",
		GuestName:       "Ana Ruiz",
		GuestEmail:      "ana@example.com",
		CheckIn:         time.Date(2024, 6, 10, 15, 0, 0, 0, time.UTC),
		CheckOut:        time.Date(2024, 6, 13, 11, 0, 0, 0, time.UTC),
		RoomID:          "R1",
		RoomName:        "Ocean Suite",
		Adults:          2,
		TotalPrice:      450,
		Status:          models.BookingStatusPending,
		PaymentStatus:   models.PaymentStatusPending,
		PaymentMethod:   strPtr(method),
		PaymentIntentID: strPtr("pi_B1"),
		CreatedAt:       testNow.Add(-time.Hour),
		UpdatedAt:       testNow.Add(-time.Hour),
	}
}
