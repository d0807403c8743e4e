// Package dockerd talks to the container daemon through the Docker SDK.
//
// The pipeline itself drives the docker CLI (its output is what users watch);
// this client covers the side jobs: checking the daemon is reachable, looking
// up a project's build image and removing it after a run.
package dockerd

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
)

// Info describes a reachable daemon.
type Info struct {
	APIVersion string
	OSType     string
}

// Client wraps the Docker SDK client.
type Client struct {
	cli *client.Client
}

// New creates a client for host. An empty host uses the environment
// (DOCKER_HOST and friends). No connection is made until the first call.
func New(host string) (*Client, error) {
	opts := []client.Opt{
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, newError("New", "", fmt.Sprintf("failed to create client: %v", err), ErrConnectionFailed)
	}
	return &Client{cli: cli}, nil
}

// Ping checks that the daemon is reachable.
func (c *Client) Ping(ctx context.Context) (Info, error) {
	ping, err := c.cli.Ping(ctx)
	if err != nil {
		return Info{}, newError("Ping", "", fmt.Sprintf("failed to ping docker: %v", err), ErrConnectionFailed)
	}
	return Info{APIVersion: ping.APIVersion, OSType: ping.OSType}, nil
}

// ImageExists reports whether ref is present locally.
func (c *Client) ImageExists(ctx context.Context, ref string) (bool, error) {
	_, _, err := c.cli.ImageInspectWithRaw(ctx, ref)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, newError("ImageExists", ref, err.Error(), err)
	}
	return true, nil
}

// RemoveImage deletes ref and its untagged parents. A missing image is not
// an error, so removal can run after any outcome.
func (c *Client) RemoveImage(ctx context.Context, ref string) error {
	_, err := c.cli.ImageRemove(ctx, ref, image.RemoveOptions{PruneChildren: true})
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return newError("RemoveImage", ref, err.Error(), err)
	}
	return nil
}

// Close releases the client's transport.
func (c *Client) Close() error {
	return c.cli.Close()
}
