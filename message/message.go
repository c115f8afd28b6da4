// Package message defines the envelope exchanged between two spacelink peers.
//
// An Envelope is the unit the connection layer works with: an operation code that
// identifies the payload's meaning, a correlation tag that binds a response to the
// request that caused it, and a Payload. The Payload is one concrete record with a
// stable field list so the codec never needs reflection-driven field lookup.
package message

import (
	"fmt"
	"sort"
	"strings"
)

// Envelope carries a single operation between peers.
//
//   - Request:  Op is a request op, Tag is non-zero when the sender waits for a reply.
//   - Response: Op is the paired response op, Tag copies the request's Tag.
//   - Notify:   Tag is zero, no reply is produced.
type Envelope struct {
	Op      Op
	Tag     uint32 // 0 means "no correlation requested"
	Payload *Payload
}

// AccessAuthorization is the credential a peer presents with a request.
type AccessAuthorization struct {
	Token string `msgpack:"t" json:"token"`
}

// Payload is the operation specific record. Which fields are meaningful depends on Op.
type Payload struct {
	Auth       *AccessAuthorization `msgpack:"a,omitempty" json:"auth,omitempty"`
	Params     map[string]string    `msgpack:"p,omitempty" json:"params,omitempty"` // per operation parameters
	Props      map[string]string    `msgpack:"o,omitempty" json:"props,omitempty"`  // object or session properties
	ItemID     string               `msgpack:"i,omitempty" json:"itemId,omitempty"`
	InstanceID string               `msgpack:"n,omitempty" json:"instanceId,omitempty"`
	Reason     string               `msgpack:"r,omitempty" json:"reason,omitempty"`
	Exception  *Exception           `msgpack:"x,omitempty" json:"exception,omitempty"`
}

// Param returns the named operation parameter, or "" when absent.
func (p *Payload) Param(key string) string {
	if p == nil || p.Params == nil {
		return ""
	}
	return p.Params[key]
}

// SetParam sets an operation parameter, allocating the map on first use.
func (p *Payload) SetParam(key, value string) {
	if p.Params == nil {
		p.Params = make(map[string]string)
	}
	p.Params[key] = value
}

// Token returns the authorization token carried by the payload, or "".
func (p *Payload) Token() string {
	if p == nil || p.Auth == nil {
		return ""
	}
	return p.Auth.Token
}

// Exception is an application level failure reported inside a response.
// It implements error so a Call can hand it straight back to the caller.
type Exception struct {
	Reason string            `msgpack:"r" json:"reason"`
	Hints  map[string]string `msgpack:"h,omitempty" json:"hints,omitempty"`
}

func NewException(reason string, hints map[string]string) *Exception {
	return &Exception{Reason: reason, Hints: hints}
}

func (e *Exception) Error() string {
	if len(e.Hints) == 0 {
		return e.Reason
	}
	keys := make([]string, 0, len(e.Hints))
	for k := range e.Hints {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	sb.WriteString(e.Reason)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s:%s", k, e.Hints[k])
	}
	return sb.String()
}
