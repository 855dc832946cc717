package nwc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistrySingleLifecycle(t *testing.T) {
	r := NewRegistry()
	ch, err := r.RegisterSingle("id1", GetBalance)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Len())

	// duplicate registration is an invariant violation
	_, err = r.RegisterSingle("id1", GetBalance)
	require.Error(t, err)

	resp := &WireResponse{ResultType: "get_balance"}
	assert.Equal(t, SingleCompleted, r.CompleteSingle("id1", resp))
	assert.Equal(t, 0, r.Len())
	got := <-ch
	assert.Same(t, resp, got)

	// a second completion finds nothing
	assert.Equal(t, NotFound, r.CompleteSingle("id1", resp))
}

func TestRegistryMultiLifecycle(t *testing.T) {
	r := NewRegistry()
	ch, err := r.RegisterMulti("id2", MultiPayInvoice, []string{"a", "b"})
	require.NoError(t, err)

	first := &WireResponse{ResultType: "multi_pay_invoice"}
	assert.Equal(t, Partial, r.AddMulti("id2", "a", first))
	// the first arrival for a key wins
	overwrite := &WireResponse{ResultType: "multi_pay_invoice"}
	assert.Equal(t, Partial, r.AddMulti("id2", "a", overwrite))
	// unexpected keys are ignored
	assert.Equal(t, Partial, r.AddMulti("id2", "zzz", overwrite))

	second := &WireResponse{ResultType: "multi_pay_invoice"}
	assert.Equal(t, MultiCompleted, r.AddMulti("id2", "b", second))
	assert.Equal(t, 0, r.Len())

	got := <-ch
	require.Len(t, got, 2)
	assert.Same(t, first, got["a"])
	assert.Same(t, second, got["b"])

	assert.Equal(t, NotFound, r.AddMulti("id2", "a", first))
}

func TestRegistryCompleteWithErrorSingle(t *testing.T) {
	r := NewRegistry()
	ch, err := r.RegisterSingle("id3", PayInvoice)
	require.NoError(t, err)
	nwcErr := &NwcError{Code: "INTERNAL", Message: "boom"}
	assert.Equal(t, SingleCompleted, r.CompleteWithError("id3", nwcErr))
	got := <-ch
	require.NotNil(t, got.Error)
	assert.Equal(t, "INTERNAL", got.Error.Code)
	assert.Equal(t, "pay_invoice", got.ResultType)
}

func TestRegistryCompleteWithErrorMultiFansOut(t *testing.T) {
	r := NewRegistry()
	ch, err := r.RegisterMulti("id4", MultiPayKeysend, []string{"x", "y", "z"})
	require.NoError(t, err)
	partial := &WireResponse{ResultType: "multi_pay_keysend"}
	r.AddMulti("id4", "x", partial)
	nwcErr := &NwcError{Code: "INTERNAL", Message: "gone"}
	assert.Equal(t, MultiCompleted, r.CompleteWithError("id4", nwcErr))
	got := <-ch
	require.Len(t, got, 3)
	// the already-arrived item keeps its response, the rest carry the
	// fanned out error
	assert.Same(t, partial, got["x"])
	assert.Equal(t, "INTERNAL", got["y"].Error.Code)
	assert.Equal(t, "INTERNAL", got["z"].Error.Code)
}

func TestRegistryResolveRequestID(t *testing.T) {
	r := NewRegistry()
	// exactly one pending: that one wins regardless of method
	_, err := r.RegisterSingle("only", GetBalance)
	require.NoError(t, err)
	id, ok := r.ResolveRequestID(&WireResponse{ResultType: "pay_invoice"})
	assert.True(t, ok)
	assert.Equal(t, "only", id)

	// several pending: a unique method match wins
	_, err = r.RegisterSingle("second", PayInvoice)
	require.NoError(t, err)
	id, ok = r.ResolveRequestID(&WireResponse{ResultType: "pay_invoice"})
	assert.True(t, ok)
	assert.Equal(t, "second", id)

	// ambiguous: give up
	_, err = r.RegisterSingle("third", PayInvoice)
	require.NoError(t, err)
	_, ok = r.ResolveRequestID(&WireResponse{ResultType: "pay_invoice"})
	assert.False(t, ok)
}

func TestRegistryCancelAll(t *testing.T) {
	r := NewRegistry()
	sch, err := r.RegisterSingle("s", GetInfo)
	require.NoError(t, err)
	mch, err := r.RegisterMulti("m", MultiPayInvoice, []string{"a"})
	require.NoError(t, err)
	r.CancelAll()
	assert.Equal(t, 0, r.Len())
	_, open := <-sch
	assert.False(t, open)
	_, open2 := <-mch
	assert.False(t, open2)
}
