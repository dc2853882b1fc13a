package auth

import (
	"bytes"
	"context"

	"github.com/vogler75/monstermq/internal/store/user"
	"github.com/vogler75/monstermq/pkg/mqtterr"
)

// SASLMechanism drives one step of a challenge/response exchange.
// Step receives the client's AUTH authentication-data (nil on the
// first call, when the exchange was opened by CONNECT) and returns the
// data to echo back, whether the exchange is complete, and the
// authenticated username once done is true.
type SASLMechanism interface {
	Name() string
	Step(ctx context.Context, clientData []byte) (reply []byte, done bool, username string, err error)
}

// Registry resolves a SASL mechanism name to an implementation
// instance, mirroring the small string-keyed registries the teacher
// uses elsewhere (e.g. its packet-type dispatch).
type Registry struct {
	factories map[string]func(store user.Store) SASLMechanism
}

func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]func(store user.Store) SASLMechanism)}
	r.Register("PLAIN", func(store user.Store) SASLMechanism { return &plainMechanism{store: store} })
	return r
}

func (r *Registry) Register(name string, factory func(store user.Store) SASLMechanism) {
	r.factories[name] = factory
}

func (r *Registry) New(name string, store user.Store) (SASLMechanism, bool) {
	factory, ok := r.factories[name]
	if !ok {
		return nil, false
	}
	return factory(store), true
}

// plainMechanism is the reference SASL mechanism: a single
// challenge/response carrying "\0authzid\0authcid\0password" (RFC 4616),
// validated against the user store's bcrypt hash in one step.
type plainMechanism struct {
	store user.Store
}

func (p *plainMechanism) Name() string { return "PLAIN" }

func (p *plainMechanism) Step(ctx context.Context, clientData []byte) ([]byte, bool, string, error) {
	parts := bytes.SplitN(clientData, []byte{0}, 3)
	if len(parts) != 3 {
		return nil, false, "", mqtterr.New("auth.PLAIN", 0x8C, mqtterr.ErrMalformedProperty)
	}
	username := string(parts[1])
	password := string(parts[2])

	ok, err := p.store.ValidatePassword(ctx, username, password)
	if err != nil {
		return nil, false, "", err
	}
	if !ok {
		return nil, false, "", mqtterr.Wrap(mqtterr.KindAuthorization, "auth.PLAIN", 0x86, mqtterr.ErrInvalidPassword)
	}
	return nil, true, username, nil
}
