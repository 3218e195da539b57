package payment

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingGateway struct {
	err error
}

func (g failingGateway) Capture(context.Context, *Payment) error { return g.err }
func (g failingGateway) Void(context.Context, *Payment) error    { return g.err }

func newPayment(state State) *Payment {
	return &Payment{ID: "p1", Amount: decimal.NewFromInt(10), State: state}
}

func TestPayment_Void(t *testing.T) {
	for _, st := range []State{StateCheckout, StatePending, StateProcessing, StateCompleted, StateVoid} {
		p := newPayment(st)
		require.NoError(t, p.Void(), st)
		assert.Equal(t, StateVoid, p.State)
	}

	p := newPayment(StateFailed)
	var terr *InvalidTransitionError
	require.ErrorAs(t, p.Void(), &terr)
	assert.Equal(t, StateFailed, terr.From)
	assert.Equal(t, StateVoid, terr.To)
}

func TestPayment_Process(t *testing.T) {
	p := newPayment(StateCheckout)
	require.NoError(t, p.Process(context.Background(), ManualGateway{}))
	assert.Equal(t, StateCompleted, p.State)
	assert.Equal(t, "manual", p.ResponseCode)

	// Already completed payments are not captured twice.
	require.NoError(t, p.Process(context.Background(), failingGateway{err: errors.New("boom")}))
	assert.Equal(t, StateCompleted, p.State)
}

func TestPayment_ProcessFailure(t *testing.T) {
	p := newPayment(StatePending)
	err := p.Process(context.Background(), failingGateway{err: errors.New("declined")})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "declined")
	assert.Equal(t, StateFailed, p.State)
	assert.False(t, p.Valid())
}

func TestPayment_Cancel(t *testing.T) {
	completed := newPayment(StateCompleted)
	require.NoError(t, completed.Cancel(context.Background(), ManualGateway{}))
	assert.Equal(t, StateVoid, completed.State)

	checkout := newPayment(StateCheckout)
	require.NoError(t, checkout.Cancel(context.Background(), ManualGateway{}))
	assert.Equal(t, StateCheckout, checkout.State)

	pending := newPayment(StatePending)
	require.Error(t, pending.Cancel(context.Background(), failingGateway{err: errors.New("gateway down")}))
	assert.Equal(t, StatePending, pending.State)
}

func TestPayment_Persisted(t *testing.T) {
	p := newPayment(StateCheckout)
	assert.False(t, p.Persisted())

	p.CreatedAt = time.Now()
	assert.True(t, p.Persisted())
}

func TestMethod_AvailableOn(t *testing.T) {
	tests := []struct {
		name    string
		method  Method
		channel DisplayOn
		want    bool
	}{
		{"both on front end", Method{DisplayOn: DisplayBoth, Active: true}, DisplayFrontEnd, true},
		{"front end only", Method{DisplayOn: DisplayFrontEnd, Active: true}, DisplayFrontEnd, true},
		{"back end only on front end", Method{DisplayOn: DisplayBackEnd, Active: true}, DisplayFrontEnd, false},
		{"inactive", Method{DisplayOn: DisplayBoth}, DisplayFrontEnd, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.method.AvailableOn(tt.channel))
		})
	}
}

func TestMethodNotFoundError(t *testing.T) {
	err := errors.Wrap(&MethodNotFoundError{MethodID: "wire"}, "validate")
	assert.EqualError(t, err, "validate: payment method wire not found")
	assert.ErrorIs(t, err, ErrMethodNotFound)
}
