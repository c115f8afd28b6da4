package message

import "fmt"

// Op identifies an operation and therefore the shape of its payload.
// Every request op has exactly one paired response op. The codes are stable
// integers known to both peers.
type Op int32

const (
	OpUnknown Op = 0

	AliveCheckReq  Op = 1
	AliveCheckResp Op = 2

	OpenSessionReq     Op = 10
	OpenSessionResp    Op = 11
	CloseSessionReq    Op = 12
	CloseSessionResp   Op = 13
	CameraViewReq      Op = 14
	CameraViewResp     Op = 15
	MakeConnectionReq  Op = 16
	MakeConnectionResp Op = 17

	CreateItemReq         Op = 20
	CreateItemResp        Op = 21
	DeleteItemReq         Op = 22
	DeleteItemResp        Op = 23
	AddAbilityReq         Op = 24
	AddAbilityResp        Op = 25
	RemoveAbilityReq      Op = 26
	RemoveAbilityResp     Op = 27
	RequestPropertiesReq  Op = 28
	RequestPropertiesResp Op = 29
	UpdatePropertiesReq   Op = 30
	UpdatePropertiesResp  Op = 31
)

type opInfo struct {
	name     string
	response bool
	pair     Op
}

// opTable is built once at package init and never mutated afterwards,
// so lookups need no locking.
var (
	opTable = map[Op]opInfo{}
	opNames = map[string]Op{}
)

func init() {
	pairs := []struct {
		req, resp Op
		name      string
	}{
		{AliveCheckReq, AliveCheckResp, "AliveCheck"},
		{OpenSessionReq, OpenSessionResp, "OpenSession"},
		{CloseSessionReq, CloseSessionResp, "CloseSession"},
		{CameraViewReq, CameraViewResp, "CameraView"},
		{MakeConnectionReq, MakeConnectionResp, "MakeConnection"},
		{CreateItemReq, CreateItemResp, "CreateItem"},
		{DeleteItemReq, DeleteItemResp, "DeleteItem"},
		{AddAbilityReq, AddAbilityResp, "AddAbility"},
		{RemoveAbilityReq, RemoveAbilityResp, "RemoveAbility"},
		{RequestPropertiesReq, RequestPropertiesResp, "RequestProperties"},
		{UpdatePropertiesReq, UpdatePropertiesResp, "UpdateProperties"},
	}
	for _, p := range pairs {
		define(p.req, opInfo{name: p.name + "Req", pair: p.resp})
		define(p.resp, opInfo{name: p.name + "Resp", response: true, pair: p.req})
	}
}

func define(op Op, info opInfo) {
	if _, dup := opTable[op]; dup {
		panic(fmt.Sprintf("message: op %d defined twice", op))
	}
	opTable[op] = info
	opNames[info.name] = op
}

// String returns the op name, or "Op(n)" for codes this build does not know.
func (op Op) String() string {
	if info, ok := opTable[op]; ok {
		return info.name
	}
	return fmt.Sprintf("Op(%d)", int32(op))
}

// Known reports whether the op is part of the table.
func (op Op) Known() bool {
	_, ok := opTable[op]
	return ok
}

// IsResponse reports whether op is the response half of a pair.
func (op Op) IsResponse() bool {
	return opTable[op].response
}

// Response returns the response op paired with a request op.
func (op Op) Response() (Op, bool) {
	info, ok := opTable[op]
	if !ok || info.response {
		return OpUnknown, false
	}
	return info.pair, true
}

// Request returns the request op paired with a response op.
func (op Op) Request() (Op, bool) {
	info, ok := opTable[op]
	if !ok || !info.response {
		return OpUnknown, false
	}
	return info.pair, true
}

// OpByName resolves a name such as "AliveCheckReq" to its code.
func OpByName(name string) (Op, bool) {
	op, ok := opNames[name]
	return op, ok
}
