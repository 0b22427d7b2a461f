package dto

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	invoke "github.com/stateforward/go-invoke"
)

type order struct {
	Quantity int    `json:"quantity"`
	Sku      string `json:"sku"`
}

func place() *invoke.ActionDescriptor {
	model := invoke.Define("shop", invoke.Type("Customer",
		invoke.Action("place",
			invoke.Parameters("Order"),
			invoke.Method(func(context.Context, any, []any) (any, error) { return nil, nil }),
		),
	))
	action, _ := model.Action("/Customer/place")
	return action
}

func TestToDtoCanonical(t *testing.T) {
	mementos := New()
	memento, err := mementos.ToDto(place(), invoke.Adapt(map[string]any{"z": 1, "a": 2}), []invoke.Object{invoke.Adapt(order{Sku: "w", Quantity: 2})})
	require.NoError(t, err)

	assert.Equal(t, "Customer#place(Order)", memento.Member)
	assert.Equal(t, `{"a":2,"z":1}`, string(memento.Target.Value))
	assert.Equal(t, `{"quantity":2,"sku":"w"}`, string(memento.Arguments[0].Value))
	assert.Equal(t, "dto.order", memento.Arguments[0].Type)
	assert.Len(t, memento.Digest, 64)
	assert.NoError(t, Verify(memento))

	var decoded order
	require.NoError(t, Decode(memento.Arguments[0], &decoded))
	assert.Equal(t, order{Sku: "w", Quantity: 2}, decoded)
}

func TestDigestStable(t *testing.T) {
	mementos := New()
	first, err := mementos.ToDto(place(), nil, []invoke.Object{invoke.Adapt(order{Sku: "w"})})
	require.NoError(t, err)
	second, err := mementos.ToDto(place(), nil, []invoke.Object{invoke.Adapt(order{Sku: "w"})})
	require.NoError(t, err)
	assert.Equal(t, first.Digest, second.Digest)

	second.Arguments[0].Value = []byte(`{"quantity":9,"sku":"w"}`)
	assert.ErrorIs(t, Verify(second), ErrTampered)
}

func TestUpdateResult(t *testing.T) {
	mementos := New()
	memento, err := mementos.ToDto(place(), nil, nil)
	require.NoError(t, err)

	require.NoError(t, mementos.UpdateResult(memento, place(), invoke.Adapt(42), nil))
	require.NotNil(t, memento.Result)
	assert.Equal(t, "42", string(memento.Result.Value))

	require.NoError(t, mementos.UpdateResult(memento, place(), nil, errors.New("declined")))
	assert.Nil(t, memento.Result)
	assert.Equal(t, "declined", memento.Threw)
}

func TestEncodeRejectsUnencodable(t *testing.T) {
	_, err := New().ToDto(place(), nil, []invoke.Object{invoke.Adapt(make(chan int))})
	assert.ErrorContains(t, err, "argument 0")
}
