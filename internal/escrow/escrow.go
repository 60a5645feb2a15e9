// Package escrow is the ride escrow state machine. Rides and passenger slots
// live in application boxes; every operation runs as one ledger transaction
// group, so a rejected call leaves no trace, including its grouped payment.
package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"math/bits"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/example/ride-escrow/internal/ledger"
	"github.com/example/ride-escrow/internal/models"
	"github.com/example/ride-escrow/internal/observability"
)

const (
	// DefaultPenalty is 0.1 unit in micro-units.
	DefaultPenalty uint64 = 100_000
	// DefaultMinBalance is the reserve the escrow account keeps untouched.
	DefaultMinBalance uint64 = 100_000

	PlatformInfo = "RIDE - Decentralized Ride Sharing on Algorand"
)

// Publisher receives committed escrow events.
type Publisher interface {
	Publish(ctx context.Context, e models.Event) error
}

type Option func(*Escrow)

func WithPenalty(p uint64) Option { return func(e *Escrow) { e.penalty = p } }

func WithMinBalance(b uint64) Option { return func(e *Escrow) { e.minBalance = b } }

func WithPublisher(p Publisher) Option { return func(e *Escrow) { e.publisher = p } }

func WithLogger(l *slog.Logger) Option {
	return func(e *Escrow) {
		if l != nil {
			e.log = l
		}
	}
}

func WithClock(now func() time.Time) Option { return func(e *Escrow) { e.now = now } }

// Escrow is one deployed instance of the ride escrow application.
type Escrow struct {
	ledger     *ledger.Ledger
	appID      uint64
	address    models.Address
	penalty    uint64
	minBalance uint64
	publisher  Publisher
	log        *slog.Logger
	now        func() time.Time
}

func newEscrow(l *ledger.Ledger, appID uint64, opts ...Option) *Escrow {
	e := &Escrow{
		ledger:     l,
		appID:      appID,
		address:    models.AppAddress(appID),
		penalty:    DefaultPenalty,
		minBalance: DefaultMinBalance,
		log:        slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With("app_id", appID)
	return e
}

// Deploy registers a new application owned by creator and initialises its
// counters. The escrow account starts empty; fund it with a plain transfer.
func Deploy(ctx context.Context, l *ledger.Ledger, creator models.Address, opts ...Option) (*Escrow, error) {
	return Provision(ctx, l, creator, 0, opts...)
}

// Provision deploys a new application and, in the same group, pays funding
// from creator into its escrow account.
func Provision(ctx context.Context, l *ledger.Ledger, creator models.Address, funding uint64, opts ...Option) (*Escrow, error) {
	var appID uint64
	_, err := l.Atomic(ctx, func(tx *ledger.Tx) error {
		id, err := tx.CreateApp(creator)
		if err != nil {
			return err
		}
		app, err := tx.App(id)
		if err != nil {
			return err
		}
		saveCounters(app, Counters{})
		appID = id
		return tx.Pay(models.Payment{Sender: creator, Receiver: app.Address(), Amount: funding})
	})
	if err != nil {
		return nil, fmt.Errorf("deploy: %w", err)
	}
	e := newEscrow(l, appID, opts...)
	e.log.Info("escrow deployed", "creator", creator.String(), "escrow_address", e.address.String(), "funding", funding)
	return e, nil
}

// Open attaches to an existing application.
func Open(ctx context.Context, l *ledger.Ledger, appID uint64, opts ...Option) (*Escrow, error) {
	err := l.View(ctx, func(tx *ledger.Tx) error {
		_, err := tx.App(appID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return newEscrow(l, appID, opts...), nil
}

// CreateRide lists a new ride driven by sender and returns its id.
func (e *Escrow) CreateRide(ctx context.Context, sender models.Address, price, seats uint64) (uint64, error) {
	ev, err := e.exec(ctx, "create_ride", sender, 0, func(s *session) error {
		if seats < MinSeats || seats > MaxSeats {
			return fmt.Errorf("%w: got %d", ErrInvalidSeatCount, seats)
		}
		if price == 0 {
			return ErrInvalidPrice
		}
		if _, ok := mul(price, seats); !ok {
			return fmt.Errorf("%w: %d seats at %d", ErrAmountOverflow, seats, price)
		}
		s.counters.RideCounter++
		r := &Ride{
			ID:     s.counters.RideCounter,
			Driver: sender,
			Price:  price,
			Seats:  seats,
			Active: true,
		}
		s.putRide(r)
		s.counters.TotalRidesCreated++
		s.event = models.Event{Type: models.EventRideCreated, RideID: r.ID, Driver: sender}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return ev.RideID, nil
}

// JoinRide books a seat for sender. payment is the grouped transfer into
// the escrow account and must be sent by sender; it only takes effect if
// the booking does.
func (e *Escrow) JoinRide(ctx context.Context, sender models.Address, rideID uint64, payment models.Payment) error {
	_, err := e.exec(ctx, "join_ride", sender, rideID, func(s *session) error {
		r, err := s.ride(rideID)
		if err != nil {
			return err
		}
		if !r.Active {
			return ErrRideNotActive
		}
		if r.SeatsTaken >= r.Seats {
			return ErrRideFull
		}
		if sender == r.Driver {
			return ErrSelfJoinForbidden
		}
		if payment.Sender != sender {
			return ErrWrongPaymentSender
		}
		if payment.Receiver != s.app.Address() {
			return ErrWrongPaymentRecipient
		}
		if payment.Amount != r.Price {
			return fmt.Errorf("%w: got %d, price is %d", ErrWrongPaymentAmount, payment.Amount, r.Price)
		}
		held, ok := add(s.counters.EscrowHeld, r.Price)
		if !ok {
			return ErrAmountOverflow
		}

		slot, err := s.freeSlot(r)
		if err != nil {
			return err
		}
		if err := s.tx.Pay(payment); err != nil {
			return err
		}
		s.putPassenger(rideID, slot, sender)
		r.SeatsTaken++
		s.putRide(r)
		s.counters.EscrowHeld = held
		s.event = models.Event{Type: models.EventRideJoined, RideID: rideID, Driver: r.Driver, Riders: []models.Address{sender}}
		return nil
	})
	return err
}

// CancelBooking releases sender's seat. The rider gets the price minus the
// penalty back and the driver keeps the rest.
func (e *Escrow) CancelBooking(ctx context.Context, sender models.Address, rideID uint64) error {
	_, err := e.exec(ctx, "cancel_booking", sender, rideID, func(s *session) error {
		r, err := s.ride(rideID)
		if err != nil {
			return err
		}
		if !r.Active {
			return ErrRideNotActive
		}
		if sender == r.Driver {
			return ErrDriverCannotCancelBooking
		}
		slot, found, err := s.findPassenger(r, sender)
		if err != nil {
			return err
		}
		if !found {
			return ErrNotAPassenger
		}

		var refund uint64
		if r.Price > e.penalty {
			refund = r.Price - e.penalty
		}
		compensation := r.Price - refund
		if err := s.app.Pay(sender, refund); err != nil {
			return err
		}
		if err := s.app.Pay(r.Driver, compensation); err != nil {
			return err
		}
		s.deletePassenger(rideID, slot)
		if r.SeatsTaken > 0 {
			r.SeatsTaken--
		}
		s.putRide(r)
		s.counters.EscrowHeld = sub(s.counters.EscrowHeld, r.Price)
		s.event = models.Event{Type: models.EventBookingCancelled, RideID: rideID, Driver: r.Driver, Riders: []models.Address{sender}}
		return nil
	})
	return err
}

// CompleteRide settles the ride: the driver receives price times seats taken.
func (e *Escrow) CompleteRide(ctx context.Context, sender models.Address, rideID uint64) error {
	_, err := e.exec(ctx, "complete_ride", sender, rideID, func(s *session) error {
		r, err := s.ride(rideID)
		if err != nil {
			return err
		}
		if sender != r.Driver {
			return ErrNotTheDriver
		}
		if r.Completed {
			return ErrAlreadyCompleted
		}
		if !r.Active {
			return ErrRideNotActive
		}
		if r.SeatsTaken == 0 {
			return ErrNoPassengers
		}
		total, ok := mul(r.Price, r.SeatsTaken)
		if !ok {
			return ErrAmountOverflow
		}
		riders, err := s.passengers(r)
		if err != nil {
			return err
		}

		if err := s.app.Pay(r.Driver, total); err != nil {
			return err
		}
		r.Active = false
		r.Completed = true
		s.putRide(r)
		s.counters.TotalCompleted++
		s.counters.EscrowHeld = sub(s.counters.EscrowHeld, total)
		s.event = models.Event{Type: models.EventRideCompleted, RideID: rideID, Driver: r.Driver, Riders: addresses(riders)}
		return nil
	})
	return err
}

// CancelRide refunds every rider in full plus the penalty as compensation
// and closes the ride. Compensation is paid out of the escrow account's
// surplus above its reserve and outstanding holds, in slot order, until the
// surplus runs out. SeatsTaken is left as it was.
func (e *Escrow) CancelRide(ctx context.Context, sender models.Address, rideID uint64) error {
	_, err := e.exec(ctx, "cancel_ride", sender, rideID, func(s *session) error {
		r, err := s.ride(rideID)
		if err != nil {
			return err
		}
		if sender != r.Driver {
			return ErrNotTheDriver
		}
		if !r.Active {
			return ErrRideNotActive
		}
		riders, err := s.passengers(r)
		if err != nil {
			return err
		}
		bal, err := s.app.Balance()
		if err != nil {
			return err
		}
		surplus := sub(sub(bal, e.minBalance), s.counters.EscrowHeld)

		for _, p := range riders {
			comp := min(e.penalty, surplus)
			surplus -= comp
			amount, ok := add(r.Price, comp)
			if !ok {
				return ErrAmountOverflow
			}
			if err := s.app.Pay(p.Rider, amount); err != nil {
				return err
			}
			s.deletePassenger(rideID, p.Slot)
		}
		refunded, _ := mul(r.Price, uint64(len(riders)))
		r.Active = false
		s.putRide(r)
		s.counters.EscrowHeld = sub(s.counters.EscrowHeld, refunded)
		s.event = models.Event{Type: models.EventRideCancelled, RideID: rideID, Driver: r.Driver, Riders: addresses(riders)}
		return nil
	})
	return err
}

// exec runs fn as one transaction group against the application and, once
// committed, records metrics and publishes the staged event.
func (e *Escrow) exec(ctx context.Context, op string, sender models.Address, rideID uint64, fn func(s *session) error) (models.Event, error) {
	start := time.Now()
	var (
		ev   models.Event
		held uint64
	)
	payments, err := e.ledger.Atomic(ctx, func(tx *ledger.Tx) error {
		s, err := e.session(tx)
		if err != nil {
			return err
		}
		before := s.counters
		if err := fn(s); err != nil {
			return err
		}
		if s.counters != before {
			saveCounters(s.app, s.counters)
		}
		ev = s.event
		held = s.counters.EscrowHeld
		return nil
	})

	result := "ok"
	if err != nil {
		result = ErrorKind(err)
	}
	observability.EscrowOpsTotal.WithLabelValues(op, result).Inc()
	observability.EscrowOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if err != nil {
		level := slog.LevelWarn
		if !IsDomainError(err) {
			level = slog.LevelError
		}
		e.log.Log(ctx, level, "escrow_op", "op", op, "ride_id", rideID, "sender", sender.String(), "result", result, "error", err)
		return models.Event{}, err
	}

	var paidOut uint64
	for _, p := range payments {
		if p.Sender == e.address {
			paidOut += p.Amount
		}
	}
	observability.EscrowPayouts.WithLabelValues(op).Add(float64(paidOut))
	observability.EscrowHeld.Set(float64(held))

	ev.ID = ksuid.New().String()
	ev.AppID = e.appID
	ev.Actor = sender
	ev.Payments = payments
	ev.At = e.now().UTC()
	e.log.Info("escrow_op", "op", op, "ride_id", ev.RideID, "sender", sender.String(), "result", result, "payments", len(payments), "paid_out", paidOut)

	if e.publisher != nil {
		if perr := e.publisher.Publish(ctx, ev); perr != nil {
			observability.EventsDropped.Inc()
			e.log.Warn("event publish failed", "event_id", ev.ID, "type", ev.Type, "error", perr)
		}
	}
	return ev, nil
}

func (e *Escrow) session(tx *ledger.Tx) (*session, error) {
	app, err := tx.App(e.appID)
	if err != nil {
		return nil, err
	}
	c, err := loadCounters(app)
	if err != nil {
		return nil, err
	}
	return &session{tx: tx, app: app, counters: c}, nil
}

func mul(a, b uint64) (uint64, bool) {
	hi, lo := bits.Mul64(a, b)
	return lo, hi == 0
}

func add(a, b uint64) (uint64, bool) {
	sum, carry := bits.Add64(a, b, 0)
	return sum, carry == 0
}

func sub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}
