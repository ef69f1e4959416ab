// Package custody runs a key custody daemon and the client signers use to
// reach it over a signed socket connection.
package custody

import (
	"errors"

	"github.com/freehandle/signon/crypto"
	"github.com/freehandle/signon/protocol/authority"
	"github.com/freehandle/signon/util"
)

// Request kinds.
const (
	MsgIsAuthorized byte = iota + 1
	MsgAuthenticate
	MsgSignDigest
	MsgLogout
)

// Response status.
const (
	StatusOk byte = iota
	StatusNotAuthorized
	StatusErr
)

var errMalformedMessage = errors.New("malformed custody message")

type Request struct {
	Kind     byte
	Username string
	KeyType  authority.Level
	Password string
	Digest   crypto.Hash
}

func (r Request) Serialize() []byte {
	data := []byte{r.Kind}
	util.PutString(r.Username, &data)
	util.PutString(string(r.KeyType), &data)
	switch r.Kind {
	case MsgAuthenticate:
		util.PutString(r.Password, &data)
	case MsgSignDigest:
		util.PutHash(r.Digest, &data)
	}
	return data
}

func ParseRequest(data []byte) (Request, error) {
	if len(data) < 1 {
		return Request{}, errMalformedMessage
	}
	req := Request{Kind: data[0]}
	var keyType string
	position := 1
	req.Username, position = util.ParseString(data, position)
	keyType, position = util.ParseString(data, position)
	req.KeyType = authority.Level(keyType)
	switch req.Kind {
	case MsgIsAuthorized, MsgLogout:
	case MsgAuthenticate:
		req.Password, position = util.ParseString(data, position)
	case MsgSignDigest:
		req.Digest, position = util.ParseHash(data, position)
	default:
		return Request{}, errMalformedMessage
	}
	if position != len(data) {
		return Request{}, errMalformedMessage
	}
	return req, nil
}

// Response carries Authorized for MsgIsAuthorized, Signature for
// MsgSignDigest and Error when Status is StatusErr.
type Response struct {
	Status     byte
	Authorized bool
	Signature  crypto.RecoverableSignature
	Error      string
}

func (r Response) Serialize(kind byte) []byte {
	data := []byte{r.Status}
	switch {
	case r.Status == StatusErr:
		util.PutString(r.Error, &data)
	case r.Status != StatusOk:
	case kind == MsgIsAuthorized:
		util.PutBool(r.Authorized, &data)
	case kind == MsgSignDigest:
		util.PutRecoverableSignature(r.Signature, &data)
	}
	return data
}

func ParseResponse(kind byte, data []byte) (Response, error) {
	if len(data) < 1 {
		return Response{}, errMalformedMessage
	}
	resp := Response{Status: data[0]}
	position := 1
	switch {
	case resp.Status == StatusErr:
		resp.Error, position = util.ParseString(data, position)
	case resp.Status == StatusNotAuthorized:
	case resp.Status != StatusOk:
		return Response{}, errMalformedMessage
	case kind == MsgIsAuthorized:
		resp.Authorized, position = util.ParseBool(data, position)
	case kind == MsgSignDigest:
		resp.Signature, position = util.ParseRecoverableSignature(data, position)
	}
	if position != len(data) {
		return Response{}, errMalformedMessage
	}
	return resp, nil
}
