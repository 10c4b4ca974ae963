package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goodtune/ktime/internal/admin"
	"github.com/goodtune/ktime/internal/config"
	"github.com/goodtune/ktime/internal/quota"
)

var apiAddr string

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "addr", "", "Control API address (defaults to admin.bind_address:admin.port)")
}

// apiClient talks to a running daemon's control API.
type apiClient struct {
	http *resty.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(10 * time.Second).
			SetHeader("Accept", "application/json"),
	}
}

// clientFromConfig resolves the control API address from --addr or the
// loaded configuration.
func clientFromConfig() (*apiClient, error) {
	if apiAddr != "" {
		return newAPIClient("http://" + apiAddr), nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if !cfg.Admin.Enabled {
		return nil, fmt.Errorf("admin API is disabled in %s", configPath)
	}
	return newAPIClient(fmt.Sprintf("http://%s:%d", cfg.Admin.BindAddress, cfg.Admin.Port)), nil
}

func (c *apiClient) status(ctx context.Context) (admin.StatusResponse, error) {
	var out admin.StatusResponse
	return out, c.get(ctx, "/api/status", &out)
}

func (c *apiClient) stats(ctx context.Context) (quota.DayStats, error) {
	var out quota.DayStats
	return out, c.get(ctx, "/api/stats", &out)
}

func (c *apiClient) historyDates(ctx context.Context) ([]string, error) {
	var out admin.HistoryListResponse
	return out.Dates, c.get(ctx, "/api/history", &out)
}

func (c *apiClient) history(ctx context.Context, date string) (quota.DayStats, error) {
	var out quota.DayStats
	return out, c.get(ctx, "/api/history/"+date, &out)
}

func (c *apiClient) changePasscode(ctx context.Context, current, code, confirm string) (admin.CommandResponse, error) {
	var out admin.CommandResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(admin.PasscodeRequest{Old: current, New: code, Confirm: confirm}).
		SetResult(&out).
		SetError(&out).
		Post("/api/passcode")
	if err != nil {
		return out, fmt.Errorf("failed to reach ktime at %s: %w", c.http.BaseURL, err)
	}
	if out.Outcome == "" {
		return out, fmt.Errorf("unexpected response: %s", resp.Status())
	}
	return out, nil
}

func (c *apiClient) get(ctx context.Context, path string, out interface{}) error {
	var apiErr admin.ErrorResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(out).
		SetError(&apiErr).
		Get(path)
	if err != nil {
		return fmt.Errorf("failed to reach ktime at %s: %w", c.http.BaseURL, err)
	}
	if resp.IsError() {
		if resp.StatusCode() == http.StatusNotFound && apiErr.Message != "" {
			return errors.New(apiErr.Message)
		}
		return fmt.Errorf("%s: %s (%s)", path, apiErr.Error, resp.Status())
	}
	return nil
}
