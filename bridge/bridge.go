// Package bridge validates requests coming from any listener, forwards them
// to the exchanger and rebuilds the reply for the client.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	"github.com/miekg/dns"
	"github.com/rnetx/dnsbridge/adapter"
	"github.com/rnetx/dnsbridge/log"
)

var _ adapter.Handler = (*Bridge)(nil)

type Bridge struct {
	logger    log.Logger
	exchanger adapter.Exchanger
}

func New(logger log.Logger, exchanger adapter.Exchanger) *Bridge {
	return &Bridge{
		logger:    logger,
		exchanger: exchanger,
	}
}

// ServeDNS never fails: any error, including a panic in the exchanger,
// becomes a SERVFAIL reply without records.
func (b *Bridge) ServeDNS(ctx context.Context, listener string, req *dns.Msg, clientAddr netip.AddrPort) (resp *dns.Msg) {
	dnsCtx := adapter.NewDNSContext(ctx, listener, clientAddr.Addr(), req)
	ctx = adapter.SaveLogContext(dnsCtx.Context(), dnsCtx)
	messageInfo := reqMessageInfo(req)
	b.logger.DebugfContext(ctx, "new request: %s, listener: %s, client: %s", messageInfo, listener, clientAddr.Addr())
	defer func() {
		err := recover()
		if err != nil {
			b.logger.ErrorfContext(ctx, "handle request failed: %s, error(panic): %v", messageInfo, err)
			resp = serverFailure(req)
		}
	}()
	var err error
	resp, err = b.Exchange(ctx, req)
	if err != nil {
		b.logger.ErrorfContext(ctx, "handle request failed: %s, error: %s", messageInfo, err)
		return serverFailure(req)
	}
	b.logger.InfofContext(ctx, "handle request success: %s, rcode: %s, answers: %d", messageInfo, dns.RcodeToString[resp.Rcode], len(resp.Answer))
	return resp
}

// Exchange builds the reply for req or returns why it could not.
func (b *Bridge) Exchange(ctx context.Context, req *dns.Msg) (*dns.Msg, error) {
	if req.Opcode != dns.OpcodeQuery {
		return nil, fmt.Errorf("%w: %s", ErrInvalidOpcode, opcodeString(req.Opcode))
	}
	if req.Response {
		return nil, fmt.Errorf("%w: response", ErrInvalidMessageType)
	}
	if len(req.Question) != 1 {
		return nil, fmt.Errorf("%w: %d questions", ErrInvalidQuestion, len(req.Question))
	}
	resp := &dns.Msg{}
	resp.SetReply(req)
	if req.Question[0].Qtype == dns.TypeAAAA && !b.exchanger.IPv6() {
		resp.Authoritative = true
		return resp, nil
	}
	reqExtra, reqOpt, reqSig0 := splitExtra(req.Extra)
	m := &dns.Msg{}
	m.Id = dns.Id()
	m.Opcode = req.Opcode
	m.Response = req.Response
	m.RecursionDesired = req.RecursionDesired
	m.Question = []dns.Question{req.Question[0]}
	m.Ns = copyRRs(req.Ns)
	m.Extra = copyRRs(reqExtra)
	if reqOpt != nil {
		m.Extra = append(m.Extra, dns.Copy(reqOpt))
	}
	// SIG(0) must stay the last records of the message.
	m.Extra = append(m.Extra, copyRRs(reqSig0)...)

	answer, err := b.exchanger.Exchange(ctx, m)
	if err != nil {
		return nil, &ExchangeError{Err: err}
	}
	if answer == nil {
		return nil, &ExchangeError{Err: errors.New("empty response")}
	}

	resp.RecursionAvailable = answer.RecursionAvailable
	resp.Rcode = answer.Rcode
	resp.Authoritative = answer.Authoritative
	resp.Answer = answer.Answer
	resp.Ns = answer.Ns
	answerExtra, answerOpt, _ := splitExtra(answer.Extra)
	resp.Extra = answerExtra
	if reqOpt != nil && reqOpt.Do() && answerOpt != nil {
		resp.Extra = append(resp.Extra, dns.Copy(answerOpt))
	}
	if resp.Rcode > 0xF && resp.IsEdns0() == nil {
		// extended rcodes cannot be packed without an OPT record
		return nil, &ExchangeError{Err: fmt.Errorf("extended rcode %d without edns", resp.Rcode)}
	}
	return resp, nil
}

// splitExtra separates the OPT pseudo record and SIG(0) records from the
// ordinary additional records.
func splitExtra(rrs []dns.RR) (extra []dns.RR, opt *dns.OPT, sig0 []dns.RR) {
	for _, rr := range rrs {
		switch v := rr.(type) {
		case *dns.OPT:
			if opt == nil {
				opt = v
			}
		case *dns.SIG:
			sig0 = append(sig0, v)
		default:
			extra = append(extra, rr)
		}
	}
	return extra, opt, sig0
}

func copyRRs(rrs []dns.RR) []dns.RR {
	if len(rrs) == 0 {
		return nil
	}
	s := make([]dns.RR, 0, len(rrs))
	for _, rr := range rrs {
		s = append(s, dns.Copy(rr))
	}
	return s
}

func serverFailure(req *dns.Msg) *dns.Msg {
	resp := &dns.Msg{}
	resp.SetRcode(req, dns.RcodeServerFailure)
	return resp
}

func opcodeString(opcode int) string {
	s, ok := dns.OpcodeToString[opcode]
	if ok {
		return s
	}
	return fmt.Sprintf("OPCODE%d", opcode)
}

func reqMessageInfo(req *dns.Msg) string {
	questions := req.Question
	if len(questions) > 0 {
		return fmt.Sprintf("%s %s %s", dns.ClassToString[questions[0].Qclass], dns.TypeToString[questions[0].Qtype], questions[0].Name)
	}
	return "???"
}
