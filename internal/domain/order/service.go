package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/promotion"
	"github.com/xenking/storefront/internal/domain/stock"
	"github.com/xenking/storefront/internal/domain/tax"
	"github.com/xenking/storefront/internal/domain/user"
	"github.com/xenking/storefront/internal/domain/validation"
)

const (
	instrumentationName = "github.com/xenking/storefront/internal/domain/order"
	maxNumberAttempts   = 5
)

// Deps are the collaborators of the order Service.
type Deps struct {
	Orders         Repository
	Variants       product.VariantRepository
	Users          user.Repository
	Promotions     promotion.Validator
	PromotionUses  promotion.Repository
	PaymentMethods payment.MethodRepository
	Stock          stock.Mover
	// Gateway defaults to payment.ManualGateway.
	Gateway payment.Gateway
	// Addresses defaults to user.FieldValidator.
	Addresses user.AddressValidator
}

type serviceOptions struct {
	rates       []tax.Rate
	comparators []LineItemComparator
	tracer      trace.TracerProvider
	meter       metric.MeterProvider
}

// ServiceOption configures a Service.
type ServiceOption func(*serviceOptions)

// WithTaxRates sets the tax rates applied to line items.
func WithTaxRates(rates ...tax.Rate) ServiceOption {
	return func(o *serviceOptions) { o.rates = rates }
}

// WithComparators sets the line item comparison policies given to every
// order the service builds or loads.
func WithComparators(cs ...LineItemComparator) ServiceOption {
	return func(o *serviceOptions) { o.comparators = cs }
}

// WithTracerProvider sets the tracer provider. Defaults to noop.
func WithTracerProvider(tp trace.TracerProvider) ServiceOption {
	return func(o *serviceOptions) { o.tracer = tp }
}

// WithMeterProvider sets the meter provider. Defaults to noop.
func WithMeterProvider(mp metric.MeterProvider) ServiceOption {
	return func(o *serviceOptions) { o.meter = mp }
}

// Service runs order operations. Every mutation of one order happens under
// the repository lock, so concurrent requests for the same order serialize.
type Service struct {
	orders        Repository
	variants      product.VariantRepository
	users         user.Repository
	promotions    promotion.Validator
	promotionUses promotion.Repository
	methods       payment.MethodRepository
	gateway       payment.Gateway
	stock         stock.Mover
	addresses     user.AddressValidator

	flow        *Flow
	updater     *Updater
	comparators []LineItemComparator

	tracer    trace.Tracer
	completed metric.Int64Counter
	canceled  metric.Int64Counter
	now       func() time.Time
}

// NewService creates an order Service.
func NewService(deps Deps, cfg Config, opts ...ServiceOption) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "checkout config")
	}
	o := serviceOptions{
		tracer: tracenoop.NewTracerProvider(),
		meter:  metricnoop.NewMeterProvider(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if deps.Gateway == nil {
		deps.Gateway = payment.ManualGateway{}
	}
	if deps.Addresses == nil {
		deps.Addresses = user.FieldValidator{}
	}

	meter := o.meter.Meter(instrumentationName)
	completed, err := meter.Int64Counter("storefront.orders.completed",
		metric.WithDescription("Orders that finished checkout"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "completed counter")
	}
	canceled, err := meter.Int64Counter("storefront.orders.canceled",
		metric.WithDescription("Orders that were canceled"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "canceled counter")
	}

	return &Service{
		orders:        deps.Orders,
		variants:      deps.Variants,
		users:         deps.Users,
		promotions:    deps.Promotions,
		promotionUses: deps.PromotionUses,
		methods:       deps.PaymentMethods,
		gateway:       deps.Gateway,
		stock:         deps.Stock,
		addresses:     deps.Addresses,
		flow:          NewFlow(cfg, deps.Addresses),
		updater:       NewUpdater(o.rates...),
		comparators:   o.comparators,
		tracer:        o.tracer.Tracer(instrumentationName),
		completed:     completed,
		canceled:      canceled,
		now:           time.Now,
	}, nil
}

// Flow returns the checkout flow the service uses.
func (s *Service) Flow() *Flow {
	return s.flow
}

// mutate runs fn on the locked order. fn decides what to write.
func (s *Service) mutate(ctx context.Context, op, number string, fn func(ctx context.Context, o *Order) error) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order."+op,
		trace.WithAttributes(attribute.String("order.number", number)),
	)
	defer span.End()

	var out *Order
	err := s.orders.Lock(ctx, number, func(ctx context.Context, o *Order) error {
		o.comparators = s.comparators
		if err := fn(ctx, o); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return out, nil
}

func checkMutable(o *Order) error {
	if o.Completed() {
		return errors.Wrapf(ErrCompleted, "order %s", o.Number)
	}
	if o.Canceled() {
		return errors.Wrapf(ErrCanceled, "order %s", o.Number)
	}
	return nil
}

type emailInput struct {
	Email string `validate:"omitempty,email"`
}

// CreateRequest holds the input for starting an order.
type CreateRequest struct {
	Email  string
	UserID string
}

// Create starts an empty order in the cart state. A number collision is
// retried with a fresh number.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.Create")
	defer span.End()

	if err := validation.Struct(emailInput{Email: req.Email}).Err(); err != nil {
		return nil, err
	}
	var u *user.User
	if req.UserID != "" {
		var err error
		if u, err = s.users.GetByID(ctx, req.UserID); err != nil {
			return nil, errors.Wrap(err, "get user")
		}
	}

	for attempt := 1; ; attempt++ {
		o := New(WithLineItemComparators(s.comparators...))
		o.Email = req.Email
		if u != nil {
			o.AssociateUser(u, req.Email == "")
		}
		s.updater.Update(o)

		err := s.orders.Create(ctx, o)
		if err == nil {
			zctx.From(ctx).Info("Order created", zap.String("number", o.Number))
			return o, nil
		}
		if !errors.Is(err, ErrNumberTaken) || attempt == maxNumberAttempts {
			return nil, errors.Wrap(err, "create order")
		}
	}
}

// Get returns an order by number.
func (s *Service) Get(ctx context.Context, number string) (*Order, error) {
	o, err := s.orders.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	o.comparators = s.comparators
	return o, nil
}

// List returns orders matching f.
func (s *Service) List(ctx context.Context, f Filter) ([]Order, error) {
	return s.orders.List(ctx, f)
}

// AddLineItemRequest holds the input for adding a variant to an order.
type AddLineItemRequest struct {
	VariantID string
	Quantity  int
	Options   map[string]string
}

// AddLineItem adds a variant to the order, merging with a matching line item.
// Existing shipments no longer match the cart, so they are dropped and
// checkout restarts.
func (s *Service) AddLineItem(ctx context.Context, number string, req AddLineItemRequest) (*Order, error) {
	if req.Quantity <= 0 {
		return nil, validation.Errors{"quantity": {"must be greater than 0"}}
	}
	return s.mutate(ctx, "AddLineItem", number, func(ctx context.Context, o *Order) error {
		if err := checkMutable(o); err != nil {
			return err
		}
		// Read under the order lock so an archive committing meanwhile is seen.
		v, err := s.variants.GetVariant(ctx, req.VariantID)
		if err != nil {
			return err
		}
		if v.Deleted() {
			return validation.Errors{"variant_id": {"is not available"}}
		}
		o.AddLineItem(v.ID, req.Quantity, v.Price, req.Options)
		s.ensureUpdatedShipments(o)
		s.updater.Update(o)
		return s.orders.Save(ctx, o)
	})
}

func (s *Service) ensureUpdatedShipments(o *Order) {
	if o.Completed() || len(o.Shipments) == 0 {
		return
	}
	o.Shipments = nil
	o.ShipmentTotal = decimal.Zero
	s.flow.RestartCheckoutFlow(o)
}

// Empty clears the order's contents and restarts checkout. A completed order
// cannot be emptied: the call fails with *InvariantError and nothing changes.
func (s *Service) Empty(ctx context.Context, number string) (*Order, error) {
	return s.mutate(ctx, "Empty", number, func(ctx context.Context, o *Order) error {
		if err := o.Empty(); err != nil {
			zctx.From(ctx).Error("Refusing to empty order", zap.String("number", o.Number), zap.Error(err))
			return err
		}
		s.updater.Update(o)
		s.flow.RestartCheckoutFlow(o)
		return s.orders.Save(ctx, o)
	})
}

// AddressRequest holds the contact details entered at the address step.
type AddressRequest struct {
	Email       string
	BillAddress *user.Address
	ShipAddress *user.Address
	// UseBilling ships to the billing address.
	UseBilling bool
}

// SetAddress stores the email and addresses after validating them.
func (s *Service) SetAddress(ctx context.Context, number string, req AddressRequest) (*Order, error) {
	if req.UseBilling {
		req.ShipAddress = req.BillAddress.Clone()
	}
	errs := validation.Struct(emailInput{Email: req.Email})
	for field, addr := range map[string]*user.Address{"bill_address": req.BillAddress, "ship_address": req.ShipAddress} {
		if addr == nil {
			continue
		}
		if err := s.flow.checkAddress(ctx, field, addr, errs); err != nil {
			return nil, err
		}
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}

	return s.mutate(ctx, "SetAddress", number, func(ctx context.Context, o *Order) error {
		if err := checkMutable(o); err != nil {
			return err
		}
		if req.Email != "" {
			o.Email = req.Email
		}
		if req.BillAddress != nil {
			o.BillAddress = req.BillAddress
		}
		if req.ShipAddress != nil {
			o.ShipAddress = req.ShipAddress
		}
		return s.orders.Save(ctx, o)
	})
}

// ShipmentRequest holds the input for shipping an order.
type ShipmentRequest struct {
	StockLocationID string
	Cost            decimal.Decimal
}

// CreateShipment replaces the order's shipments with one shipment from the
// given stock location carrying every line item.
func (s *Service) CreateShipment(ctx context.Context, number string, req ShipmentRequest) (*Order, error) {
	errs := validation.Errors{}
	if req.StockLocationID == "" {
		errs.Add("stock_location_id", "can't be blank")
	}
	if req.Cost.IsNegative() {
		errs.Add("cost", "must be greater than or equal to 0")
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}

	return s.mutate(ctx, "CreateShipment", number, func(ctx context.Context, o *Order) error {
		if err := checkMutable(o); err != nil {
			return err
		}
		if !o.CheckoutAllowed() {
			return validation.Errors{"line_items": {"can't be blank"}}
		}
		o.Shipments = []Shipment{{
			ID:              uuid.New().String(),
			OrderID:         o.ID,
			Number:          "H" + strings.TrimPrefix(GenerateNumber(), numberPrefix),
			StockLocationID: req.StockLocationID,
			Cost:            req.Cost,
			State:           ShipmentPending,
			Manifest:        BuildManifest(o.LineItems),
		}}
		s.updater.Update(o)
		return s.orders.Save(ctx, o)
	})
}

// SetShipmentsCost updates shipment costs and recomputes only the shipment
// and grand totals.
func (s *Service) SetShipmentsCost(ctx context.Context, number string, costs map[string]decimal.Decimal) (*Order, error) {
	return s.mutate(ctx, "SetShipmentsCost", number, func(ctx context.Context, o *Order) error {
		if err := checkMutable(o); err != nil {
			return err
		}
		errs := validation.Errors{}
		for id, cost := range costs {
			i := shipmentIndex(o, id)
			switch {
			case i < 0:
				errs.Add("shipments", "unknown shipment "+id)
			case cost.IsNegative():
				errs.Add("cost", "must be greater than or equal to 0")
			default:
				o.Shipments[i].Cost = cost
			}
		}
		if err := errs.Err(); err != nil {
			return err
		}
		s.updater.UpdateShipmentTotal(o)
		return s.orders.Save(ctx, o)
	})
}

func shipmentIndex(o *Order, id string) int {
	for i := range o.Shipments {
		if o.Shipments[i].ID == id {
			return i
		}
	}
	return -1
}

// PaymentAttributes describe a payment to add to an order. A zero amount
// means the outstanding total.
type PaymentAttributes struct {
	PaymentMethodID string
	Amount          decimal.Decimal
}

// ValidatePaymentsAttributes checks that every referenced payment method
// exists and is offered on the storefront. It returns attrs unchanged, or a
// *payment.MethodNotFoundError.
func (s *Service) ValidatePaymentsAttributes(ctx context.Context, attrs []PaymentAttributes) ([]PaymentAttributes, error) {
	methods, err := s.methods.Available(ctx, payment.DisplayFrontEnd)
	if err != nil {
		return nil, errors.Wrap(err, "list payment methods")
	}
	available := make(map[string]struct{}, len(methods))
	for _, m := range methods {
		if m.AvailableOn(payment.DisplayFrontEnd) {
			available[m.ID] = struct{}{}
		}
	}
	for _, a := range attrs {
		if _, ok := available[a.PaymentMethodID]; !ok {
			return nil, &payment.MethodNotFoundError{MethodID: a.PaymentMethodID}
		}
	}
	return attrs, nil
}

// AddPayments adds checkout payments to the order.
func (s *Service) AddPayments(ctx context.Context, number string, attrs []PaymentAttributes) (*Order, error) {
	if len(attrs) == 0 {
		return nil, validation.Errors{"payments": {"can't be blank"}}
	}
	for _, a := range attrs {
		if a.Amount.IsNegative() {
			return nil, validation.Errors{"amount": {"must be greater than or equal to 0"}}
		}
	}
	if _, err := s.ValidatePaymentsAttributes(ctx, attrs); err != nil {
		return nil, err
	}

	return s.mutate(ctx, "AddPayments", number, func(ctx context.Context, o *Order) error {
		if err := checkMutable(o); err != nil {
			return err
		}
		for _, a := range attrs {
			amount := a.Amount
			if amount.IsZero() {
				amount = o.Total.Sub(o.ValidPaymentsTotal())
				if amount.IsNegative() {
					amount = decimal.Zero
				}
			}
			o.Payments = append(o.Payments, payment.Payment{
				ID:              uuid.New().String(),
				OrderID:         o.ID,
				PaymentMethodID: a.PaymentMethodID,
				Amount:          amount,
				State:           payment.StateCheckout,
			})
		}
		s.updater.Update(o)
		return s.orders.Save(ctx, o)
	})
}

// ApplyCoupon attaches the promotion behind code to the order.
func (s *Service) ApplyCoupon(ctx context.Context, number, code string) (*Order, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, validation.Errors{"coupon_code": {"can't be blank"}}
	}

	return s.mutate(ctx, "ApplyCoupon", number, func(ctx context.Context, o *Order) error {
		if err := checkMutable(o); err != nil {
			return err
		}
		p, _, err := s.promotions.Validate(ctx, code, o.PromotionItems())
		if err != nil {
			return err
		}
		if o.HasPromotion(p.ID) {
			return validation.Errors{"coupon_code": {"has already been applied"}}
		}
		o.Promotions = append(o.Promotions, *p)
		s.updater.Update(o)
		return s.orders.Save(ctx, o)
	})
}

// Next advances the order one checkout step. Reaching complete processes
// payments, finalizes shipments and counts promotion usage.
func (s *Service) Next(ctx context.Context, number string) (*Order, error) {
	var completed bool
	o, err := s.mutate(ctx, "Next", number, func(ctx context.Context, o *Order) error {
		from := o.State
		to, err := s.flow.Next(ctx, o)
		if err != nil {
			return err
		}
		if to == StateComplete {
			if err := s.complete(ctx, o); err != nil {
				return err
			}
			completed = true
		} else {
			s.updater.Update(o)
		}
		zctx.From(ctx).Info("Order advanced",
			zap.String("number", o.Number),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
		)
		return s.orders.Save(ctx, o)
	})
	if err != nil {
		return nil, err
	}
	if completed {
		s.completed.Add(ctx, 1)
	}
	return o, nil
}

func (s *Service) complete(ctx context.Context, o *Order) error {
	for i := range o.Payments {
		if err := o.Payments[i].Process(ctx, s.gateway); err != nil {
			return errors.Wrap(err, "process payments")
		}
	}

	now := s.now()
	if o.CompletedAt == nil {
		o.CompletedAt = &now
	}
	for i := range o.Shipments {
		if err := o.Shipments[i].Finalize(ctx, s.stock, now); err != nil {
			return errors.Wrapf(err, "finalize shipment %s", o.Shipments[i].Number)
		}
	}
	for _, p := range o.Promotions {
		if err := s.promotionUses.IncrementUses(ctx, p.ID); err != nil {
			return errors.Wrapf(err, "count promotion %s", p.Code)
		}
	}
	s.updater.Update(o)
	return nil
}

// RestartCheckoutFlow puts an incomplete order back at the start of checkout.
func (s *Service) RestartCheckoutFlow(ctx context.Context, number string) (*Order, error) {
	return s.mutate(ctx, "RestartCheckoutFlow", number, func(ctx context.Context, o *Order) error {
		if err := checkMutable(o); err != nil {
			return err
		}
		s.flow.RestartCheckoutFlow(o)
		return s.orders.Save(ctx, o)
	})
}

// Cancel cancels a completed order: payments are voided and, when
// configured, stock is returned. Canceling a canceled order does nothing.
func (s *Service) Cancel(ctx context.Context, number string) (*Order, error) {
	var changed bool
	o, err := s.mutate(ctx, "Cancel", number, func(ctx context.Context, o *Order) error {
		var err error
		if changed, err = s.cancel(ctx, o); err != nil || !changed {
			return err
		}
		return s.orders.Save(ctx, o)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.canceled.Add(ctx, 1)
	}
	return o, nil
}

// CanceledBy records who canceled the order and when, then cancels it. If
// canceling fails the order is left exactly as it was.
func (s *Service) CanceledBy(ctx context.Context, number, cancelerID string) (*Order, error) {
	var changed bool
	o, err := s.mutate(ctx, "CanceledBy", number, func(ctx context.Context, o *Order) error {
		if o.Canceled() {
			return nil
		}
		prevCanceler, prevAt := o.CancelerID, o.CanceledAt

		now := s.now()
		o.CancelerID = cancelerID
		o.CanceledAt = &now

		var err error
		if changed, err = s.cancel(ctx, o); err != nil {
			o.CancelerID, o.CanceledAt = prevCanceler, prevAt
			return err
		}
		return s.orders.Save(ctx, o)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.canceled.Add(ctx, 1)
	}
	return o, nil
}

func (s *Service) cancel(ctx context.Context, o *Order) (bool, error) {
	switch o.State {
	case StateCanceled:
		return false, nil
	case StateComplete, StateResumed:
	default:
		return false, &InvalidTransitionError{Number: o.Number, From: o.State, Event: "cancel"}
	}

	for i := range o.Payments {
		if err := o.Payments[i].Cancel(ctx, s.gateway); err != nil {
			return false, errors.Wrap(err, "void payments")
		}
	}
	if s.flow.cfg.RestockOnCancel {
		for i := range o.Shipments {
			if err := o.Shipments[i].Restock(ctx, s.stock); err != nil {
				return false, errors.Wrapf(err, "restock shipment %s", o.Shipments[i].Number)
			}
		}
	}
	o.State = StateCanceled
	s.updater.Update(o)

	zctx.From(ctx).Info("Order canceled",
		zap.String("number", o.Number),
		zap.Bool("restocked", s.flow.cfg.RestockOnCancel),
	)
	return true, nil
}

// Resume reopens a canceled order. When restock on cancel is enabled the
// stock returned at cancel is taken again.
func (s *Service) Resume(ctx context.Context, number string) (*Order, error) {
	return s.mutate(ctx, "Resume", number, func(ctx context.Context, o *Order) error {
		if o.State != StateCanceled {
			return &InvalidTransitionError{Number: o.Number, From: o.State, Event: "resume"}
		}
		o.State = StateResumed
		if s.flow.cfg.RestockOnCancel {
			now := s.now()
			for i := range o.Shipments {
				if err := o.Shipments[i].Finalize(ctx, s.stock, now); err != nil {
					return errors.Wrapf(err, "finalize shipment %s", o.Shipments[i].Number)
				}
			}
		}
		s.updater.Update(o)
		return s.orders.Save(ctx, o)
	})
}

// AssociateUser attaches a user to the order and writes only the
// association fields. Completed orders accept it too.
func (s *Service) AssociateUser(ctx context.Context, number, userID string, overrideEmail bool) (*Order, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "get user")
	}
	return s.mutate(ctx, "AssociateUser", number, func(ctx context.Context, o *Order) error {
		o.AssociateUser(u, overrideEmail)
		return s.orders.SaveAssociation(ctx, o)
	})
}

// UpdateWithUpdater recomputes the order totals and writes only them.
func (s *Service) UpdateWithUpdater(ctx context.Context, number string) (*Order, error) {
	return s.mutate(ctx, "UpdateWithUpdater", number, func(ctx context.Context, o *Order) error {
		s.updater.Update(o)
		return s.orders.PersistTotals(ctx, o)
	})
}
