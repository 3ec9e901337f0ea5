package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrder_FailPayment(t *testing.T) {
	unnumbered := newTestOrder("", item("i1", "spaghetti", ProductTypeProduct, 1))
	require.True(t, unnumbered.FailPayment(now))
	assert.Equal(t, StatusDeleted, unnumbered.Status)
	assert.False(t, unnumbered.FailPayment(now), "already excluded from stock")

	numbered := newTestOrder("", item("i1", "spaghetti", ProductTypeProduct, 1))
	require.NoError(t, numbered.Validate(now, 12))
	require.True(t, numbered.FailPayment(now))
	assert.Equal(t, StatusCanceled, numbered.Status)
	assert.Equal(t, int64(12), *numbered.Number, "numbers are never reused")
}

func TestOrder_UndoFailedPayment(t *testing.T) {
	o := newTestOrder("", item("i1", "spaghetti", ProductTypeProduct, 1))
	assert.ErrorIs(t, o.UndoFailedPayment(now), ErrInvalidTransition)

	o.FailPayment(now)
	require.NoError(t, o.UndoFailedPayment(now))
	assert.Equal(t, StatusCreated, o.Status)
}

func TestOrder_ValidateOnlyOnce(t *testing.T) {
	o := newTestOrder("", item("i1", "spaghetti", ProductTypeProduct, 1))
	require.NoError(t, o.Validate(now, 1))
	err := o.Validate(now, 2)
	assert.True(t, errors.Is(err, ErrAlreadyValid))
	assert.Equal(t, int64(1), *o.Number)
}

func TestOrder_ReplaceDataClearsMarkers(t *testing.T) {
	o := newTestOrder("slot1", item("i1", "spaghetti", ProductTypeProduct, 1))
	o.Data.PaymentMethod = PaymentMethodTransfer
	o.Data.ReservedOrder = true
	o.Data.Cart.Items[0].ReservedAmount = 1

	previous := o.ReplaceData(OrderData{
		Cart: Cart{Items: []CartItem{{ProductID: "spaghetti", Amount: 2, ReservedAmount: 9}}},
	}, now)

	assert.True(t, previous.ReservedOrder)
	assert.Equal(t, 1, previous.Cart.Items[0].ReservedAmount)
	assert.False(t, o.Data.ReservedOrder)
	assert.Equal(t, 0, o.Data.Cart.Items[0].ReservedAmount)
	assert.NotEmpty(t, o.Data.Cart.Items[0].ID)
	assert.Equal(t, PaymentMethodTransfer, o.Data.PaymentMethod)
}

func TestCart_Persons(t *testing.T) {
	c := Cart{Items: []CartItem{
		item("a", "adult", ProductTypePerson, 2),
		item("b", "child", ProductTypePerson, 3),
		item("c", "spaghetti", ProductTypeProduct, 7),
	}}
	assert.Equal(t, 5, c.Persons())
	assert.Equal(t, 7, c.AmountOf("spaghetti"))
}

func TestTransferDescription(t *testing.T) {
	_, err := TransferDescription(TransferSettings{Type: TransferReference}, 5)
	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "missing_iban", cfgErr.Code)

	iban := "BE68539007547034"
	desc, err := TransferDescription(TransferSettings{Type: TransferReference, IBAN: iban, Prefix: "Bestelling"}, 42)
	require.NoError(t, err)
	assert.Equal(t, "Bestelling 42", desc)

	desc, err = TransferDescription(TransferSettings{Type: TransferFixed, IBAN: iban, Fixed: "Spaghettiavond"}, 42)
	require.NoError(t, err)
	assert.Equal(t, "Spaghettiavond", desc)

	desc, err = TransferDescription(TransferSettings{Type: TransferStructured, IBAN: iban}, 1)
	require.NoError(t, err)
	assert.Equal(t, "+++000/0000/00101+++", desc)
}

func TestStructuredCommunication_CheckDigits(t *testing.T) {
	// 97 的倍数校验码为 97
	assert.Equal(t, "+++000/0000/09797+++", StructuredCommunication(97))
	assert.Equal(t, "+++000/0001/23470+++", StructuredCommunication(1234))
}
