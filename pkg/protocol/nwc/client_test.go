package nwc

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nwcly.dev/pkg/utils/context"
)

func TestClientCloseReleasesEverything(t *testing.T) {
	cl, _, _ := newTestClient(t)
	ch, _ := cl.Notifications()
	pendingCh, err := cl.registry.RegisterSingle("inflight", GetBalance)
	require.NoError(t, err)

	require.NoError(t, cl.Close())
	// closing again is a no-op
	require.NoError(t, cl.Close())

	_, open := <-ch
	assert.False(t, open, "notification channel must close")
	_, open = <-pendingCh
	assert.False(t, open, "pending awaiters must be cancelled")
	assert.Equal(t, 0, cl.registry.Len())
}

func TestClientConnectionStatus(t *testing.T) {
	cl, _, _ := newTestClient(t)
	waitForPhase(t, cl, PhaseReady, time.Second)
	assert.Equal(t, OverallReady, cl.ConnectionStatus())
}

func TestClientDescribeWallet(t *testing.T) {
	cl, wallet, provider := newTestClient(t)
	info := infoEventFor(
		t, wallet, "get_info get_balance pay_invoice",
		tagsWith("encryption", "nip44_v2"),
	)
	provider.mu.Lock()
	provider.infoEvent = info
	provider.mu.Unlock()
	wallet.script(
		func(method Capability, params json.RawMessage) []respSpec {
			require.Equal(t, GetInfo, method)
			return []respSpec{{result: `{"alias":"testwallet",` +
				`"color":"#ff9900","pubkey":"` + wallet.pub + `",` +
				`"network":"Mainnet","block_height":850000,` +
				`"methods":["get_info","get_balance","pay_invoice"]}`}}
		},
	)
	ctx, cancel := context.Timeout(context.Bg(), 2*time.Second)
	defer cancel()
	desc, err := cl.DescribeWallet(ctx)
	require.NoError(t, err)
	assert.Equal(t, "testwallet", desc.Info.Alias)
	// the reported network is normalized
	assert.Equal(t, NetworkMainnet, desc.Info.Network)
	assert.Equal(t, Nip44V2, desc.ActiveEncryption)
	assert.True(t, desc.Metadata.HasCapability(PayInvoice))
	// the descriptor URI parses back to the same credentials
	parsed, err := ParseConnectionURI(desc.URI)
	require.NoError(t, err)
	assert.Equal(t, cl.creds.WalletPubkey, parsed.WalletPubkey)
}

func TestClientActiveEncryptionFollowsMetadata(t *testing.T) {
	cl, wallet, provider := newTestClient(t)
	// a wallet that only speaks nip04
	info := infoEventFor(
		t, wallet, "pay_invoice", tagsWith("encryption", "nip04"),
	)
	provider.mu.Lock()
	provider.infoEvent = info
	provider.mu.Unlock()
	ctx, cancel := context.Timeout(context.Bg(), 2*time.Second)
	defer cancel()
	_, err := cl.RefreshWalletMetadata(ctx)
	require.NoError(t, err)
	require.Equal(t, Nip04, cl.ActiveEncryption())

	// subsequent requests are encrypted with nip04 and tagged as such
	wallet.script(
		func(method Capability, params json.RawMessage) []respSpec {
			return []respSpec{{result: `{"balance":5}`}}
		},
	)
	res, err := cl.GetBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, Msat(5), res.Balance)
	evs := provider.publishedEvents()
	last := evs[len(evs)-1]
	assert.Equal(t, "nip04", last.Tags.FirstValue("encryption"))
}

func TestRawRequest(t *testing.T) {
	cl, wallet, _ := newTestClient(t)
	wallet.script(
		func(method Capability, params json.RawMessage) []respSpec {
			require.Equal(t, Capability("get_budget"), method)
			return []respSpec{{result: `{"total_budget":100000}`}}
		},
	)
	ctx, cancel := context.Timeout(context.Bg(), 2*time.Second)
	defer cancel()
	resp, err := cl.RawRequest(ctx, Capability("get_budget"), nil)
	require.NoError(t, err)
	assert.Equal(t, "get_budget", resp.ResultType)
	assert.JSONEq(t, `{"total_budget":100000}`, string(resp.Result))
}
