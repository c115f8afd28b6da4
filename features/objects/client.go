package objects

import (
	"context"

	"spacelink/connection"
	"spacelink/message"
)

// Client issues item requests. Failures reported by the peer come back as *message.Exception.
type Client struct {
	conn *connection.Connection
	auth *message.AccessAuthorization
}

// NewClient returns a Client that presents auth with every request.
func NewClient(conn *connection.Connection, auth *message.AccessAuthorization) *Client {
	return &Client{conn: conn, auth: auth}
}

func (c *Client) CreateItem(ctx context.Context, props map[string]string) (string, error) {
	resp, err := c.conn.Call(ctx, message.CreateItemReq, &message.Payload{Auth: c.auth, Props: props})
	if err != nil {
		return "", err
	}
	return resp.Payload.ItemID, nil
}

func (c *Client) DeleteItem(ctx context.Context, itemID string) error {
	_, err := c.conn.Call(ctx, message.DeleteItemReq, &message.Payload{Auth: c.auth, ItemID: itemID})
	return err
}

func (c *Client) AddAbility(ctx context.Context, itemID, ability string, props map[string]string) error {
	p := &message.Payload{Auth: c.auth, ItemID: itemID, Props: props}
	p.SetParam(ParamAbility, ability)
	_, err := c.conn.Call(ctx, message.AddAbilityReq, p)
	return err
}

func (c *Client) RemoveAbility(ctx context.Context, itemID, ability string) error {
	p := &message.Payload{Auth: c.auth, ItemID: itemID}
	p.SetParam(ParamAbility, ability)
	_, err := c.conn.Call(ctx, message.RemoveAbilityReq, p)
	return err
}

// RequestProperties fetches the item's properties matching the glob filter ("" for all).
func (c *Client) RequestProperties(ctx context.Context, itemID, filter string) (map[string]string, error) {
	p := &message.Payload{Auth: c.auth, ItemID: itemID}
	if filter != "" {
		p.SetParam(ParamFilter, filter)
	}
	resp, err := c.conn.Call(ctx, message.RequestPropertiesReq, p)
	if err != nil {
		return nil, err
	}
	return resp.Payload.Props, nil
}

func (c *Client) UpdateProperties(ctx context.Context, itemID string, props map[string]string) error {
	_, err := c.conn.Call(ctx, message.UpdatePropertiesReq, &message.Payload{Auth: c.auth, ItemID: itemID, Props: props})
	return err
}
