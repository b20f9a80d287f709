// Package auth drives the TDLib login handshake. The Machine is purely
// reactive: it answers authorization states pushed by the client and never
// polls. An external waiter blocks on Wait until the session is ready, or
// until the gate is force-released after a fatal error.
package auth

import (
	"context"
	"sync"

	"github.com/looplab/fsm"
	"github.com/rusq/dlog"
	"github.com/zelenin/go-tdlib/client"

	"github.com/mrjv/cleanslate/internal/tdx"
)

// API is the authentication slice of the TDLib client.
type API interface {
	SetTdlibParameters(req *client.SetTdlibParametersRequest) (*client.Ok, error)
	SetAuthenticationPhoneNumber(req *client.SetAuthenticationPhoneNumberRequest) (*client.Ok, error)
	SetAuthenticationEmailAddress(req *client.SetAuthenticationEmailAddressRequest) (*client.Ok, error)
	CheckAuthenticationCode(req *client.CheckAuthenticationCodeRequest) (*client.Ok, error)
	CheckAuthenticationEmailCode(req *client.CheckAuthenticationEmailCodeRequest) (*client.Ok, error)
	CheckAuthenticationPassword(req *client.CheckAuthenticationPasswordRequest) (*client.Ok, error)
}

// Interactor supplies the interactive pieces of the handshake. The blocking
// prompts are called from the update-delivery goroutine and may take as long
// as the human on the other side needs.
type Interactor interface {
	NeedCode() (string, error)
	NeedPassword() (string, error)
	// OnProtocolError receives typed errors from the server. Policy (which
	// codes are terminal) belongs to the implementation.
	OnProtocolError(e *client.Error)
	// OnUnknownError receives everything else. Always fatal during
	// authorization.
	OnUnknownError(err error)
}

// Method selects how the account identifier is submitted.
type Method int

const (
	MethodPhone Method = iota
	MethodEmail
)

// Config carries everything the handshake needs up front.
type Config struct {
	APIID       int32
	APIHash     string
	DatabaseDir string
	DeviceModel string
	Language    string
	AppVersion  string

	// Identifier is the phone number or email address, per Method.
	Identifier string
	Method     Method

	// NoRetry disables re-attempting a failed submission. The default is to
	// retry the same step until it succeeds, with no attempt cap: if the
	// server keeps rejecting the input, the handshake loops.
	NoRetry bool
}

// Machine reacts to authorization state changes. It implements the client's
// AuthorizationStateHandler contract, so the client delivers states to it
// directly, serialized on the client's own goroutine.
type Machine struct {
	cfg     Config
	io      Interactor
	onReady func()

	ready       chan struct{}
	releaseOnce sync.Once
	readyOnce   sync.Once

	fsm *fsm.FSM
}

// Machine states and the events that move between them. The server owns the
// actual protocol flow; the transition table only constrains what we accept.
const (
	stCreated     = "created"
	stConfiguring = "configuring"
	stIdentifying = "identifying"
	stCoding      = "entering_code"
	stPassword    = "entering_password"
	stReady       = "ready"

	evConfigure = "configure"
	evIdentify  = "identify"
	evCode      = "code"
	evPassword  = "password"
	evReady     = "ready"
)

var anyState = []string{stCreated, stConfiguring, stIdentifying, stCoding, stPassword}

func New(cfg Config, io Interactor, onReady func()) *Machine {
	m := &Machine{
		cfg:     cfg,
		io:      io,
		onReady: onReady,
		ready:   make(chan struct{}),
	}
	m.fsm = fsm.NewFSM(
		stCreated,
		fsm.Events{
			{Name: evConfigure, Src: anyState, Dst: stConfiguring},
			{Name: evIdentify, Src: anyState, Dst: stIdentifying},
			{Name: evCode, Src: anyState, Dst: stCoding},
			{Name: evPassword, Src: anyState, Dst: stPassword},
			{Name: evReady, Src: anyState, Dst: stReady},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				dlog.Debugf("auth: %q -> %q", e.Src, e.Dst)
			},
		},
	)
	return m
}

// Handle satisfies the client's AuthorizationStateHandler interface.
func (m *Machine) Handle(c *client.Client, state client.AuthorizationState) error {
	return m.onState(c, state)
}

// Close is invoked by the client when it stops delivering states. The
// machine holds no subscription of its own, so there is nothing to undo; it
// is safe to call at any point, including before Ready was ever reached.
func (m *Machine) Close() {}

// Wait blocks the caller until the session is ready or the gate is
// force-released.
func (m *Machine) Wait() {
	<-m.ready
}

// Release unblocks Wait without reaching the ready state. Used after a
// fatal error, when no further state change can be expected.
func (m *Machine) Release() {
	m.releaseOnce.Do(func() { close(m.ready) })
}

// State returns the machine's current state name.
func (m *Machine) State() string {
	return m.fsm.Current()
}

func (m *Machine) onState(api API, state client.AuthorizationState) error {
	switch state.(type) {
	case *client.AuthorizationStateWaitTdlibParameters:
		m.event(evConfigure)
		if _, err := api.SetTdlibParameters(m.parameters()); err != nil {
			// the server will push the state again; stay reactive
			m.report(err)
		}
	case *client.AuthorizationStateWaitPhoneNumber, *client.AuthorizationStateWaitEmailAddress:
		m.event(evIdentify)
		m.submit(func() error { return m.sendIdentifier(api) })
	case *client.AuthorizationStateWaitCode, *client.AuthorizationStateWaitEmailCode:
		m.event(evCode)
		m.submit(func() error { return m.sendCode(api) })
	case *client.AuthorizationStateWaitPassword:
		m.event(evPassword)
		m.submit(func() error { return m.sendPassword(api) })
	case *client.AuthorizationStateWaitRegistration:
		// signing up new accounts is not supported
		err := tdx.ProtocolError(tdx.CodeUnregistered, "the account is not registered")
		m.report(err)
		return err
	case *client.AuthorizationStateReady:
		m.event(evReady)
		m.Release()
		m.readyOnce.Do(func() {
			if m.onReady != nil {
				m.onReady()
			}
		})
	case *client.AuthorizationStateLoggingOut, *client.AuthorizationStateClosing, *client.AuthorizationStateClosed:
		// shutdown states, nothing to do
	}
	return nil
}

func (m *Machine) parameters() *client.SetTdlibParametersRequest {
	return &client.SetTdlibParametersRequest{
		ApiId:               m.cfg.APIID,
		ApiHash:             m.cfg.APIHash,
		DatabaseDirectory:   m.cfg.DatabaseDir,
		DeviceModel:         m.cfg.DeviceModel,
		SystemLanguageCode:  m.cfg.Language,
		ApplicationVersion:  m.cfg.AppVersion,
		UseChatInfoDatabase: true,
		UseMessageDatabase:  true,
	}
}

func (m *Machine) sendIdentifier(api API) error {
	switch m.cfg.Method {
	case MethodEmail:
		_, err := api.SetAuthenticationEmailAddress(&client.SetAuthenticationEmailAddressRequest{
			EmailAddress: m.cfg.Identifier,
		})
		return err
	default:
		_, err := api.SetAuthenticationPhoneNumber(&client.SetAuthenticationPhoneNumberRequest{
			PhoneNumber: m.cfg.Identifier,
		})
		return err
	}
}

func (m *Machine) sendCode(api API) error {
	code, err := m.io.NeedCode()
	if err != nil {
		return err
	}
	switch m.cfg.Method {
	case MethodEmail:
		_, err = api.CheckAuthenticationEmailCode(&client.CheckAuthenticationEmailCodeRequest{
			Code: &client.EmailAddressAuthenticationCode{Code: code},
		})
	default:
		_, err = api.CheckAuthenticationCode(&client.CheckAuthenticationCodeRequest{Code: code})
	}
	return err
}

func (m *Machine) sendPassword(api API) error {
	pass, err := m.io.NeedPassword()
	if err != nil {
		return err
	}
	_, err = api.CheckAuthenticationPassword(&client.CheckAuthenticationPasswordRequest{Password: pass})
	return err
}

// submit runs one handshake step. With retries enabled the same submission
// is re-attempted until it succeeds; otherwise a single failure leaves the
// machine waiting for the next pushed state, and the surfaced error is the
// caller's to act on.
func (m *Machine) submit(fn func() error) {
	for {
		err := fn()
		if err == nil {
			return
		}
		m.report(err)
		if m.cfg.NoRetry {
			return
		}
	}
}

func (m *Machine) report(err error) {
	if e, ok := tdx.TDError(err); ok {
		m.io.OnProtocolError(e)
		return
	}
	m.io.OnUnknownError(err)
}

func (m *Machine) event(name string) {
	if err := m.fsm.Event(context.Background(), name); err != nil {
		dlog.Debugf("auth: event %q: %s", name, err)
	}
}
