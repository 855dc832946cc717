package nwc

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nwcly.dev/pkg/crypto/p256k"
	"nwcly.dev/pkg/encoders/hex"
	"nwcly.dev/pkg/utils/context"
)

func waitForPhase(
	t *testing.T, cl *Client, want InitPhase, timeout time.Duration,
) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cl.InitPhase() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("phase %s never reached, still %s", want, cl.InitPhase())
}

func TestLifecycleReachesReady(t *testing.T) {
	cl, _, provider := newTestClient(t)
	waitForPhase(t, cl, PhaseReady, time.Second)
	// the notification subscription was installed on the relay with both
	// filter variants
	provider.mu.Lock()
	ff := provider.named["wss://fake.test/nwc-ntf"]
	provider.mu.Unlock()
	require.NotNil(t, ff)
	assert.Len(t, ff.F, 2)
}

func TestLifecyclePartialReadyThenRecovery(t *testing.T) {
	clientKey, clientPub, wallet := testIdentity(t)
	provider := newFakeProvider(
		t, wallet, clientPub, "wss://good.test", "wss://slow.test",
	)
	// the slow relay refuses its first shared subscription attempt
	provider.sessions["wss://slow.test"].failShared = 1
	creds := &Credentials{
		WalletPubkey: wallet.pub,
		Relays:       []string{"wss://good.test", "wss://slow.test"},
		Secret:       clientKey,
	}
	cl, err := NewClientFromCredentials(
		context.Bg(), creds, WithSessionProvider(provider),
		WithTimeout(2*time.Second),
	)
	require.NoError(t, err)
	defer cl.Close()

	// one relay up, one pending: requests already work
	ctx, cancel := context.Timeout(context.Bg(), time.Second)
	defer cancel()
	ready, err := cl.lifecycle.AwaitReady(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(ready), 1)

	// recovery promotes the laggard
	waitForPhase(t, cl, PhaseReady, 5*time.Second)
	ready, err = cl.lifecycle.AwaitReady(ctx)
	require.NoError(t, err)
	assert.Len(t, ready, 2)
}

func TestLifecycleRequestsWorkWhilePartial(t *testing.T) {
	clientKey, clientPub, wallet := testIdentity(t)
	provider := newFakeProvider(
		t, wallet, clientPub, "wss://good.test", "wss://dead.test",
	)
	// the dead relay never yields a shared subscription
	provider.sessions["wss://dead.test"].failShared = 1 << 30
	creds := &Credentials{
		WalletPubkey: wallet.pub,
		Relays:       []string{"wss://good.test", "wss://dead.test"},
		Secret:       clientKey,
	}
	cl, err := NewClientFromCredentials(
		context.Bg(), creds, WithSessionProvider(provider),
		WithTimeout(2*time.Second),
	)
	require.NoError(t, err)
	defer cl.Close()
	wallet.script(
		func(method Capability, params json.RawMessage) []respSpec {
			return []respSpec{{result: `{"balance":9}`}}
		},
	)
	ctx, cancel := context.Timeout(context.Bg(), 2*time.Second)
	defer cancel()
	res, err := cl.GetBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, Msat(9), res.Balance)
	assert.Equal(t, PhasePartialReady, cl.InitPhase())
}

// testIdentity mints a client secret, its pubkey and a scripted wallet.
func testIdentity(t *testing.T) (
	secret, clientPub string, wallet *scriptedWallet,
) {
	t.Helper()
	key := &p256k.Signer{}
	require.NoError(t, key.Generate())
	clientPub = hex.Enc(key.Pub())
	wallet = newScriptedWallet(t, clientPub)
	return hex.Enc(key.Sec()), clientPub, wallet
}
