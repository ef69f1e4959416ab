package socket

import (
	"sync"

	"github.com/freehandle/signon/crypto"
)

// ValidateConnection is used by the handshake to confirm a token may connect.
type ValidateConnection interface {
	ValidateConnection(token crypto.Token) chan bool
}

type acceptAll struct{}

func (a acceptAll) ValidateConnection(token crypto.Token) chan bool {
	response := make(chan bool, 1)
	response <- true
	return response
}

// AcceptAllConnections accepts every token.
var AcceptAllConnections = acceptAll{}

func NewValidConnections(tokens []crypto.Token) *AcceptValidConnections {
	valid := make(map[crypto.Token]struct{}, len(tokens))
	for _, token := range tokens {
		valid[token] = struct{}{}
	}
	return &AcceptValidConnections{valid: valid}
}

type AcceptValidConnections struct {
	mu    sync.Mutex
	valid map[crypto.Token]struct{}
}

func (a *AcceptValidConnections) Add(token crypto.Token) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.valid[token] = struct{}{}
}

func (a *AcceptValidConnections) Remove(token crypto.Token) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.valid, token)
}

func (a *AcceptValidConnections) ValidateConnection(token crypto.Token) chan bool {
	response := make(chan bool, 1)
	a.mu.Lock()
	_, ok := a.valid[token]
	a.mu.Unlock()
	response <- ok
	return response
}
