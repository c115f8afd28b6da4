package session

import (
	"context"

	"spacelink/connection"
	"spacelink/message"
)

// Client issues session requests to a space server.
type Client struct {
	conn *connection.Connection
}

func NewClient(conn *connection.Connection) *Client {
	return &Client{conn: conn}
}

// OpenSession opens a session and returns the server's properties, which include PropSessionID.
func (c *Client) OpenSession(ctx context.Context, auth *message.AccessAuthorization, props map[string]string) (map[string]string, error) {
	resp, err := c.conn.Call(ctx, message.OpenSessionReq, &message.Payload{Auth: auth, Props: props})
	if err != nil {
		return nil, err
	}
	return resp.Payload.Props, nil
}

// CloseSession asks the server to close the session. The server disconnects after answering.
func (c *Client) CloseSession(ctx context.Context, auth *message.AccessAuthorization, reason string) error {
	_, err := c.conn.Call(ctx, message.CloseSessionReq, &message.Payload{Auth: auth, Reason: reason})
	return err
}

func (c *Client) CameraView(ctx context.Context, auth *message.AccessAuthorization, camera map[string]string) error {
	_, err := c.conn.Call(ctx, message.CameraViewReq, &message.Payload{Auth: auth, Props: camera})
	return err
}

func (c *Client) MakeConnection(ctx context.Context, auth *message.AccessAuthorization, params map[string]string) (map[string]string, error) {
	resp, err := c.conn.Call(ctx, message.MakeConnectionReq, &message.Payload{Auth: auth, Params: params})
	if err != nil {
		return nil, err
	}
	return resp.Payload.Props, nil
}
