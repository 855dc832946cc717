// Command nwcly exercises a NIP-47 wallet connection from the terminal:
// the wallet methods (all but multi_pay_keysend, which has no command),
// metadata discovery and live notifications.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/alexflint/go-arg"
	"github.com/davecgh/go-spew/spew"
	"go-simpler.org/env"

	"nwcly.dev/pkg/protocol/nwc"
	"nwcly.dev/pkg/utils/chk"
	"nwcly.dev/pkg/utils/context"
	"nwcly.dev/pkg/utils/log"
)

type config struct {
	URI      string        `env:"NWCLY_URI"`
	Timeout  time.Duration `env:"NWCLY_TIMEOUT" default:"30s"`
	LogLevel string        `env:"NWCLY_LOG_LEVEL" default:"info"`
}

type cliArgs struct {
	URI     string        `arg:"-u,--uri" help:"nostr+walletconnect:// connection URI (overrides env and saved config)"`
	Save    bool          `arg:"--save" help:"persist the connection URI to the config dir"`
	Timeout time.Duration `arg:"-t,--timeout" help:"per request deadline"`
	Verbose bool          `arg:"-v,--verbose" help:"dump full structures instead of compact JSON"`
	Method  string        `arg:"positional" help:"get_info | get_balance | pay_invoice | multi_pay_invoice | pay_keysend | make_invoice | lookup_invoice | list_transactions | sign_message | describe | metadata | notifications"`
	Params  []string      `arg:"positional" help:"method parameters"`
}

func (cliArgs) Description() string {
	return "nwcly talks to a lightning wallet over Nostr Wallet Connect"
}

func configPath() string {
	p, err := xdg.ConfigFile(filepath.Join("nwcly", "connection"))
	if chk.D(err) {
		return ""
	}
	return p
}

func loadSavedURI() string {
	p := configPath()
	if p == "" {
		return ""
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func saveURI(uri string) {
	p := configPath()
	if p == "" {
		return
	}
	chk.E(os.WriteFile(p, []byte(uri+"\n"), 0600))
}

func fail(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}

func emit(verbose bool, v any) {
	if verbose {
		spew.Dump(v)
		return
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if chk.E(err) {
		return
	}
	fmt.Println(string(b))
}

func main() {
	var cfg config
	if err := env.Load(&cfg, nil); err != nil {
		fail("bad environment: %v", err)
	}
	var a cliArgs
	arg.MustParse(&a)
	if a.Method == "" {
		fail("no method given; try nwcly --help")
	}
	uri := a.URI
	if uri == "" {
		uri = cfg.URI
	}
	if uri == "" {
		uri = loadSavedURI()
	}
	if uri == "" {
		fail("no connection URI: pass --uri, set NWCLY_URI, or --save one first")
	}
	if a.Save {
		saveURI(uri)
	}
	timeout := a.Timeout
	if timeout == 0 {
		timeout = cfg.Timeout
	}

	cl, err := nwc.NewClient(context.Bg(), uri, nwc.WithTimeout(timeout))
	if err != nil {
		fail("cannot create client: %v", err)
	}
	defer cl.Close()

	ctx, cancel := context.Timeout(context.Bg(), timeout)
	defer cancel()

	var result any
	switch nwc.Capability(a.Method) {
	case nwc.GetInfo:
		result, err = cl.GetInfo(ctx)
	case nwc.GetBalance:
		result, err = cl.GetBalance(ctx)
	case nwc.PayInvoice:
		if len(a.Params) < 1 {
			fail("pay_invoice needs an invoice")
		}
		p := &nwc.PayInvoiceParams{Invoice: a.Params[0]}
		if len(a.Params) > 1 {
			amt := parseMsat(a.Params[1])
			p.Amount = &amt
		}
		result, err = cl.PayInvoice(ctx, p)
	case nwc.MultiPayInvoice:
		if len(a.Params) < 1 {
			fail("multi_pay_invoice needs at least one invoice")
		}
		items := make([]nwc.MultiPayInvoiceItem, len(a.Params))
		for i, inv := range a.Params {
			items[i] = nwc.MultiPayInvoiceItem{Invoice: inv}
		}
		result, err = cl.MultiPayInvoice(
			ctx, &nwc.MultiPayInvoiceParams{Invoices: items},
		)
	case nwc.PayKeysend:
		if len(a.Params) < 2 {
			fail("pay_keysend needs a pubkey and an amount")
		}
		result, err = cl.PayKeysend(ctx, &nwc.PayKeysendParams{
			Pubkey: a.Params[0],
			Amount: parseMsat(a.Params[1]),
		})
	case nwc.MakeInvoice:
		if len(a.Params) < 1 {
			fail("make_invoice needs an amount")
		}
		p := &nwc.MakeInvoiceParams{Amount: parseMsat(a.Params[0])}
		if len(a.Params) > 1 {
			p.Description = a.Params[1]
		}
		result, err = cl.MakeInvoice(ctx, p)
	case nwc.LookupInvoice:
		if len(a.Params) < 1 {
			fail("lookup_invoice needs a payment hash or invoice")
		}
		p := &nwc.LookupInvoiceParams{}
		if strings.HasPrefix(a.Params[0], "ln") {
			p.Invoice = a.Params[0]
		} else {
			p.PaymentHash = a.Params[0]
		}
		result, err = cl.LookupInvoice(ctx, p)
	case nwc.ListTransactions:
		p := &nwc.ListTransactionsParams{}
		parseListParams(p, a.Params)
		result, err = cl.ListTransactions(ctx, p)
	case nwc.SignMessage:
		if len(a.Params) < 1 {
			fail("sign_message needs a message")
		}
		result, err = cl.SignMessage(
			ctx, &nwc.SignMessageParams{Message: a.Params[0]},
		)
	default:
		switch a.Method {
		case "describe":
			result, err = cl.DescribeWallet(ctx)
		case "metadata":
			result, err = cl.RefreshWalletMetadata(ctx)
		case "notifications":
			watchNotifications(cl, a.Verbose)
			return
		default:
			fail("unknown method %q; try nwcly --help", a.Method)
		}
	}
	if err != nil {
		fail("%s failed: %v", a.Method, err)
	}
	emit(a.Verbose, result)
}

func parseMsat(s string) nwc.Msat {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		fail("bad amount %q: %v", s, err)
	}
	return nwc.Msat(v)
}

// parseListParams reads "key value" pairs: from, until, limit, offset,
// unpaid, type.
func parseListParams(p *nwc.ListTransactionsParams, params []string) {
	for i := 0; i+1 < len(params); i += 2 {
		key, val := params[i], params[i+1]
		switch key {
		case "from":
			v, _ := strconv.ParseUint(val, 10, 64)
			p.From = &v
		case "until":
			v, _ := strconv.ParseUint(val, 10, 64)
			p.Until = &v
		case "limit":
			v, _ := strconv.ParseUint(val, 10, 16)
			lim := uint16(v)
			p.Limit = &lim
		case "offset":
			v, _ := strconv.ParseUint(val, 10, 32)
			off := uint32(v)
			p.Offset = &off
		case "unpaid":
			p.Unpaid = val == "true"
		case "type":
			p.Type = val
		default:
			fail("unknown list_transactions parameter %q", key)
		}
	}
}

func watchNotifications(cl *nwc.Client, verbose bool) {
	ch, unsub := cl.Notifications()
	defer unsub()
	log.I.Ln("watching for wallet notifications, ctrl-c to stop")
	for n := range ch {
		emit(verbose, n)
	}
}
