// Package clients calls the sibling services over HTTP.
package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"github.com/abmarghoub/EduPathInsight/core"
)

// Upstream service names.
const (
	ServiceModule     = "module"
	ServiceActivities = core.ServiceActivities
	ServicePrediction = core.ServicePrediction
)

const maxErrBody = 512

// UpstreamError reports a sibling service that could not be reached or answered with a failure.
// Status is 0 when no response was received.
type UpstreamError struct {
	Service string
	Status  int
	Body    string
	Err     error
}

func (err *UpstreamError) Error() string {
	if err.Status == 0 {
		return fmt.Sprintf("%s service unreachable: %v", err.Service, err.Err)
	}
	return fmt.Sprintf("%s service responded with status %d", err.Service, err.Status)
}

func (err *UpstreamError) Unwrap() error { return err.Err }

// IsUpstream reports whether the cause of err is an UpstreamError.
func IsUpstream(err error) bool {
	_, ok := errors.Cause(err).(*UpstreamError)
	return ok
}

// TokenFunc returns the bearer token sent with every request.
type TokenFunc func() (string, error)

type (
	Options struct {
		BaseURL    string
		Timeout    time.Duration
		MaxRetries uint64
		Token      TokenFunc
		HTTPClient *http.Client
	}

	client struct {
		service    string
		baseURL    string
		http       *http.Client
		token      TokenFunc
		maxRetries uint64
		logger     core.Logger
	}
)

// OptionsFromConfig returns the Options of the named sibling service.
func OptionsFromConfig(conf core.ServicesConfig, service string, token TokenFunc) Options {
	opts := Options{Timeout: conf.Timeout, MaxRetries: conf.MaxRetries, Token: token}
	switch service {
	case ServiceModule:
		opts.BaseURL = conf.ModuleURL
	case ServiceActivities:
		opts.BaseURL = conf.ActivitiesURL
	case ServicePrediction:
		opts.BaseURL = conf.PredictionURL
	}
	return opts
}

func newClient(service string, opts Options, logger core.Logger) client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return client{
		service:    service,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		http:       hc,
		token:      opts.Token,
		maxRetries: opts.MaxRetries,
		logger:     logger,
	}
}

// getJSON decodes the response of GET path into out.
// Transport errors and 5xx responses are retried with an exponential backoff;
// 404 becomes a core.NotFoundError of resource.
func (c client) getJSON(ctx context.Context, path, resource string, out interface{}) error {
	op := func() error {
		return c.do(ctx, path, resource, out)
	}
	notify := func(err error, wait time.Duration) {
		if c.logger != nil {
			c.logger.Warn(fmt.Sprintf("%s service: retrying GET %s in %s", c.service, path, wait), err)
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxElapsedTime = 0
	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(bo, c.maxRetries), ctx), notify)
	return err
}

func (c client) do(ctx context.Context, path, resource string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return backoff.Permanent(errors.Wrap(err, "building request"))
	}
	req.Header.Set("Accept", "application/json")
	if c.token != nil {
		token, err := c.token()
		if err != nil {
			return backoff.Permanent(errors.Wrap(err, "generating service token"))
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return &UpstreamError{Service: c.service, Err: err}
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusNotFound:
		return backoff.Permanent(core.NotFoundError{Resource: resource})
	case res.StatusCode >= http.StatusInternalServerError:
		return c.upstreamError(res)
	case res.StatusCode >= http.StatusBadRequest:
		return backoff.Permanent(c.upstreamError(res))
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return backoff.Permanent(&UpstreamError{
			Service: c.service,
			Status:  res.StatusCode,
			Err:     errors.Wrap(err, "decoding response"),
		})
	}
	return nil
}

func (c client) upstreamError(res *http.Response) *UpstreamError {
	body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrBody))
	return &UpstreamError{Service: c.service, Status: res.StatusCode, Body: string(body)}
}
