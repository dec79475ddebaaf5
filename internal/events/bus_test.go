package events

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/tiered-custody/internal/metrics"
)

func TestDispatch(t *testing.T) {
	t.Parallel()

	m, err := metrics.New(nil)
	require.NoError(t, err)
	bus := NewRedisBus(nil, m)

	var received []Signal
	handler := func(_ context.Context, sig Signal) error {
		received = append(received, sig)
		return nil
	}

	bus.dispatch(context.Background(), "warm_wallet:sweepable", []byte(`{"amount":"25"}`), handler)
	bus.dispatch(context.Background(), "warm_wallet:sweepable", []byte(`{"amount":"-25"}`), handler)
	bus.dispatch(context.Background(), "nope", []byte(`{}`), handler)

	require.Len(t, received, 1)
	assert.Equal(t, ChannelWarmWalletSweepable, received[0].Channel())

	failing := func(context.Context, Signal) error { return errors.New("boom") }
	bus.dispatch(context.Background(), "warm_wallet:sweepable", []byte(`{"amount":"25"}`), failing)

	panicking := func(context.Context, Signal) error { panic("boom") }
	assert.NotPanics(t, func() {
		bus.dispatch(context.Background(), "warm_wallet:sweepable", []byte(`{"amount":"25"}`), panicking)
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()

	assert.Contains(t, body, `custody_signals_received_total{channel="warm_wallet:sweepable",result="ok"} 1`)
	assert.Contains(t, body, `custody_signals_received_total{channel="warm_wallet:sweepable",result="invalid"} 1`)
	assert.Contains(t, body, `custody_signals_received_total{channel="warm_wallet:sweepable",result="error"} 2`)
	assert.Contains(t, body, `custody_signals_received_total{channel="nope",result="invalid"} 1`)
}

func TestSubscribeRequiresChannels(t *testing.T) {
	t.Parallel()

	err := NewRedisBus(nil, nil).Subscribe(context.Background(), func(context.Context, Signal) error { return nil })
	require.Error(t, err)
}
