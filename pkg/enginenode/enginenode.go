// Package enginenode is the control plane's client for the EngineNode
// collaborator: the per-node agent that actually starts, stops and
// reports on match containers and that receives module artifacts for
// local distribution. The control plane never touches a container
// runtime directly — every operation here is an HTTP call to the node's
// advertise_address.
package enginenode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stormstack/thunder/pkg/errs"
)

// DeployRequest asks an engine node to start one match container.
type DeployRequest struct {
	MatchID     string   `json:"match_id"`
	ModuleNames []string `json:"module_names"`
	PlayerLimit uint     `json:"player_limit"`
}

// DeployResult is what the engine node reports back after accepting a
// deploy request.
type DeployResult struct {
	ContainerID  string `json:"container_id"`
	WebsocketURL string `json:"websocket_url"`
}

// Client talks to one engine node over HTTP.
type Client struct {
	httpClient *http.Client
}

// NewClient returns a Client whose requests are bounded by timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{httpClient: &http.Client{Timeout: timeout}}
}

// Deploy asks the node at advertiseAddress to start a match container.
func (c *Client) Deploy(ctx context.Context, advertiseAddress string, req DeployRequest) (*DeployResult, error) {
	var result DeployResult
	if err := c.do(ctx, advertiseAddress, http.MethodPost, "/v1/containers", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// StopContainer asks the node to stop and remove a match container.
func (c *Client) StopContainer(ctx context.Context, advertiseAddress, containerID string) error {
	return c.do(ctx, advertiseAddress, http.MethodDelete, "/v1/containers/"+containerID, nil, nil)
}

// PushModule streams a module artifact's bytes to the node for local
// storage. The node is expected to verify checksum on receipt.
func (c *Client) PushModule(ctx context.Context, advertiseAddress, name, version string, checksum string, data io.Reader) error {
	url := fmt.Sprintf("http://%s/v1/modules/%s/%s", advertiseAddress, name, version)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, data)
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "building module push request")
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Module-Checksum", checksum)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errs.Wrap(errs.KindUpstreamUnreachable, err, "pushing module to node %s", advertiseAddress)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return errs.New(errs.KindDistributionFailed, "node %s rejected module push (status %d): %s", advertiseAddress, resp.StatusCode, string(body))
	}
	return nil
}

func (c *Client) do(ctx context.Context, advertiseAddress, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errs.Wrap(errs.KindInternal, err, "marshalling request body")
		}
		bodyReader = bytes.NewReader(b)
	}

	url := fmt.Sprintf("http://%s%s", advertiseAddress, path)
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "building request to %s", advertiseAddress)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errs.Wrap(errs.KindUpstreamUnreachable, err, "calling engine node %s", advertiseAddress)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return errs.New(errs.KindUpstreamUnreachable, "engine node %s returned status %d: %s", advertiseAddress, resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return errs.Wrap(errs.KindInternal, err, "decoding response from %s", advertiseAddress)
		}
	}
	return nil
}
