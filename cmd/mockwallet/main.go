// Command mockwallet runs a scripted NIP-47 wallet service against a real
// relay, printing a connection URI a client can use immediately.
package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexflint/go-arg"

	"nwcly.dev/pkg/crypto/p256k"
	"nwcly.dev/pkg/encoders/hex"
	"nwcly.dev/pkg/protocol/nwc"
	"nwcly.dev/pkg/utils/chk"
	"nwcly.dev/pkg/utils/log"
)

type cliArgs struct {
	Relay      string        `arg:"positional,required" help:"relay URL, e.g. wss://relay.damus.io"`
	Balance    uint64        `arg:"-b,--balance" default:"100000000" help:"starting balance in msat"`
	PayEvery   time.Duration `arg:"--pay-every" help:"simulate an incoming payment on this interval"`
}

func (cliArgs) Description() string {
	return "mockwallet answers NIP-47 requests with canned results"
}

func main() {
	var a cliArgs
	arg.MustParse(&a)

	m, err := nwc.NewMockWalletService(a.Relay, nwc.Msat(a.Balance))
	if chk.F(err) {
		return
	}
	if err = m.Start(); chk.F(err) {
		return
	}
	defer m.Stop()

	// mint a client identity so the printed URI is usable as-is
	clientKey := &p256k.Signer{}
	if err = clientKey.Generate(); chk.F(err) {
		return
	}
	log.I.F("wallet pubkey: %s", m.WalletPubkey())
	log.I.F("connection URI: %s", m.ConnectionURIFor(hex.Enc(clientKey.Sec())))

	if a.PayEvery > 0 {
		go func() {
			ticker := time.NewTicker(a.PayEvery)
			defer ticker.Stop()
			for range ticker.C {
				m.SimulateIncomingPayment(21000, "simulated deposit")
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.I.Ln("shutting down")
}
