package objects

import (
	"context"

	"spacelink/connection"
	"spacelink/message"
	"spacelink/middleware"
)

// Serve registers the item handlers on conn, answering from store.
func Serve(conn *connection.Connection, store *Store) error {
	h := &handlers{store: store}
	return conn.AddHandlers(map[message.Op]middleware.HandlerFunc{
		message.CreateItemReq:        h.createItem,
		message.DeleteItemReq:        h.deleteItem,
		message.AddAbilityReq:        h.addAbility,
		message.RemoveAbilityReq:     h.removeAbility,
		message.RequestPropertiesReq: h.requestProperties,
		message.UpdatePropertiesReq:  h.updateProperties,
	})
}

type handlers struct {
	store *Store
}

func noSuchItem(id string) error {
	return message.NewException(ReasonNoSuchItem, map[string]string{"itemId": id})
}

func (h *handlers) createItem(ctx context.Context, env *message.Envelope) (*message.Payload, error) {
	id := h.store.Create(env.Payload.Props)
	return &message.Payload{ItemID: id}, nil
}

func (h *handlers) deleteItem(ctx context.Context, env *message.Envelope) (*message.Payload, error) {
	if !h.store.Delete(env.Payload.ItemID) {
		return nil, noSuchItem(env.Payload.ItemID)
	}
	return &message.Payload{ItemID: env.Payload.ItemID}, nil
}

func (h *handlers) addAbility(ctx context.Context, env *message.Envelope) (*message.Payload, error) {
	p := env.Payload
	ability := p.Param(ParamAbility)
	if ability == "" {
		return nil, message.NewException("missing parameter", map[string]string{"param": ParamAbility})
	}
	if !h.store.AddAbility(p.ItemID, ability, p.Props) {
		return nil, noSuchItem(p.ItemID)
	}
	return &message.Payload{ItemID: p.ItemID}, nil
}

func (h *handlers) removeAbility(ctx context.Context, env *message.Envelope) (*message.Payload, error) {
	p := env.Payload
	found, had := h.store.RemoveAbility(p.ItemID, p.Param(ParamAbility))
	switch {
	case !found:
		return nil, noSuchItem(p.ItemID)
	case !had:
		return nil, message.NewException(ReasonNoSuchAbility, map[string]string{"itemId": p.ItemID, ParamAbility: p.Param(ParamAbility)})
	}
	return &message.Payload{ItemID: p.ItemID}, nil
}

func (h *handlers) requestProperties(ctx context.Context, env *message.Envelope) (*message.Payload, error) {
	p := env.Payload
	props, ok := h.store.Properties(p.ItemID, p.Param(ParamFilter))
	if !ok {
		return nil, noSuchItem(p.ItemID)
	}
	return &message.Payload{ItemID: p.ItemID, Props: props}, nil
}

func (h *handlers) updateProperties(ctx context.Context, env *message.Envelope) (*message.Payload, error) {
	p := env.Payload
	if !h.store.Update(p.ItemID, p.Props) {
		return nil, noSuchItem(p.ItemID)
	}
	return &message.Payload{ItemID: p.ItemID}, nil
}
