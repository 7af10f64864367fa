// Package serverstatus queries a game server status endpoint and turns the
// outcome into a chat reply.
package serverstatus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"guild-warden/internal/apperr"
	"guild-warden/internal/config"

	"github.com/go-resty/resty/v2"
)

var ErrDisabled = errors.New("server status is not configured")

type Status struct {
	Hostname   string `json:"hostname"`
	Online     int    `json:"online"`
	MaxPlayers int    `json:"maxplayers"`
	Gamemode   string `json:"gamemode"`
}

type Client struct {
	http    *resty.Client
	url     string
	enabled bool
}

func New(cfg config.ServerStatusConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetHeader("Accept", "application/json")
	return &Client{http: client, url: cfg.URL, enabled: cfg.Enabled && cfg.URL != ""}
}

func (c *Client) Query(ctx context.Context) (Status, error) {
	if !c.enabled {
		return Status{}, ErrDisabled
	}
	var status Status
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&status).
		Get(c.url)
	if err != nil {
		return Status{}, apperr.External("query server status", err)
	}
	if resp.IsError() {
		return Status{}, apperr.External("query server status", fmt.Errorf("unexpected status %s", resp.Status()))
	}
	return status, nil
}

// FormatReply renders a query result for the user who asked.
func FormatReply(status Status, err error) string {
	switch {
	case errors.Is(err, ErrDisabled):
		return "Server status is not configured for this bot."
	case err != nil:
		return "🔴 The server is offline or did not respond."
	}
	name := status.Hostname
	if name == "" {
		name = "Game server"
	}
	reply := fmt.Sprintf("🟢 **%s** is online\nPlayers: %d/%d", name, status.Online, status.MaxPlayers)
	if status.Gamemode != "" {
		reply += "\nGamemode: " + status.Gamemode
	}
	return reply
}
