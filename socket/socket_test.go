package socket

import (
	"context"
	"net"
	"testing"

	"github.com/freehandle/signon/crypto"
)

func listen(t *testing.T, key crypto.PrivateKey, validator ValidateConnection) (string, chan *SignedConnection) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { listener.Close() })
	accepted := make(chan *SignedConnection, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			close(accepted)
			return
		}
		signed, err := PromoteConnection(conn, key, validator)
		if err != nil {
			close(accepted)
			return
		}
		accepted <- signed
	}()
	return listener.Addr().String(), accepted
}

func TestSignedConnectionRoundTrip(t *testing.T) {
	serverToken, serverKey := crypto.RandomAsymetricKey()
	clientToken, clientKey := crypto.RandomAsymetricKey()
	address, accepted := listen(t, serverKey, NewValidConnections([]crypto.Token{clientToken}))

	client, err := Dial(context.Background(), address, clientKey, serverToken)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Shutdown()
	server := <-accepted
	if server == nil {
		t.Fatal("server handshake failed")
	}
	defer server.Shutdown()
	if server.Token != clientToken {
		t.Error("server sees wrong client token")
	}

	for _, msg := range []string{"first", "second"} {
		if err := client.Send([]byte(msg)); err != nil {
			t.Fatal(err)
		}
		data, err := server.Read()
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != msg {
			t.Errorf("got %q, want %q", data, msg)
		}
	}
	if err := server.Send([]byte("reply")); err != nil {
		t.Fatal(err)
	}
	if data, err := client.Read(); err != nil || string(data) != "reply" {
		t.Errorf("got %q %v", data, err)
	}
}

func TestHandshakeRejections(t *testing.T) {
	serverToken, serverKey := crypto.RandomAsymetricKey()
	_, clientKey := crypto.RandomAsymetricKey()

	tests := []struct {
		name      string
		validator ValidateConnection
		expect    crypto.Token
	}{
		{"client not accepted", NewValidConnections(nil), serverToken},
		{"wrong server token", AcceptAllConnections, crypto.ZeroToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			address, _ := listen(t, serverKey, tt.validator)
			if _, err := Dial(context.Background(), address, clientKey, tt.expect); err == nil {
				t.Error("handshake should fail")
			}
		})
	}
}
