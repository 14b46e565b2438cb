package idx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// strategy turns the upstream target URL into the request actually sent.
type strategy interface {
	Name() Mode
	NewRequest(ctx context.Context, target string) (*http.Request, error)
}

type directStrategy struct {
	mode Mode
}

func (s directStrategy) Name() Mode {
	return s.mode
}

func (s directStrategy) NewRequest(ctx context.Context, target string) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
}

type intermediaryStrategy struct {
	config IntermediaryConfig
}

func (s intermediaryStrategy) Name() Mode {
	return ModeIntermediary
}

func (s intermediaryStrategy) NewRequest(ctx context.Context, target string) (*http.Request, error) {
	relay, err := url.Parse(s.config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid intermediary URL: %w", err)
	}

	query := relay.Query()
	query.Set("url", target)
	for key, value := range s.config.ExtraQuery {
		query.Set(key, value)
	}
	relay.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, relay.String(), nil)
	if err != nil {
		return nil, err
	}

	for key, value := range s.config.Headers {
		req.Header.Set(key, value)
	}

	return req, nil
}

// ParseIntermediaryConfig decodes the JSON relay description.
func ParseIntermediaryConfig(raw string) (*IntermediaryConfig, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("intermediary config is empty")
	}

	var config IntermediaryConfig
	if err := json.Unmarshal([]byte(raw), &config); err != nil {
		return nil, fmt.Errorf("failed to parse intermediary config: %w", err)
	}

	if config.URL == "" {
		return nil, fmt.Errorf("intermediary config: url is required")
	}

	return &config, nil
}

func newStrategy(opts Options) (strategy, *http.Transport, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	switch opts.Mode {
	case "", ModeDirect:
		return directStrategy{mode: ModeDirect}, transport, nil
	case ModeProxied:
		if opts.ProxyURL == "" {
			return nil, nil, fmt.Errorf("fetch mode %q requires a proxy URL", ModeProxied)
		}
		proxy, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxy)
		return directStrategy{mode: ModeProxied}, transport, nil
	case ModeIntermediary:
		if opts.Intermediary == nil {
			return nil, nil, fmt.Errorf("fetch mode %q requires an intermediary config", ModeIntermediary)
		}
		return intermediaryStrategy{config: *opts.Intermediary}, transport, nil
	default:
		return nil, nil, fmt.Errorf("unknown fetch mode: %s", opts.Mode)
	}
}
