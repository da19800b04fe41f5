package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Submit registers a file for conversion.
func (c *Client) Submit(path string, normalize bool) (*SubmitResponse, error) {
	var resp SubmitResponse
	req := SubmitRequest{Path: path, Normalize: normalize}
	if err := c.client.Call("Pitchpipe.Submit", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Pitchpipe.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Pending lists in-flight conversions.
func (c *Client) Pending() (*PendingResponse, error) {
	var resp PendingResponse
	if err := c.client.Call("Pitchpipe.Pending", PendingRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetParams applies conversion parameters.
func (c *Client) SetParams(keyValues []string) (*SetParamsResponse, error) {
	var resp SetParamsResponse
	req := SetParamsRequest{KeyValues: keyValues}
	if err := c.client.Call("Pitchpipe.SetParams", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// History lists recent journal entries.
func (c *Client) History(limit int) (*HistoryResponse, error) {
	var resp HistoryResponse
	req := HistoryRequest{Limit: limit}
	if err := c.client.Call("Pitchpipe.History", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// HistoryClear deletes the journal contents.
func (c *Client) HistoryClear() (*HistoryClearResponse, error) {
	var resp HistoryClearResponse
	if err := c.client.Call("Pitchpipe.HistoryClear", HistoryClearRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Shutdown asks the daemon process to exit.
func (c *Client) Shutdown() (*ShutdownResponse, error) {
	var resp ShutdownResponse
	if err := c.client.Call("Pitchpipe.Shutdown", ShutdownRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LogTail returns log lines from the daemon.
func (c *Client) LogTail(req LogTailRequest) (*LogTailResponse, error) {
	var resp LogTailResponse
	if err := c.client.Call("Pitchpipe.LogTail", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.client.Call("Pitchpipe.TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
