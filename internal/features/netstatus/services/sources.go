package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/guregu/null/v5"
	"github.com/microcosm-cc/bluemonday"

	"netspace-tracker/internal/features/netstatus/models"
)

const maxSourceBody = 1 << 20

// ErrNoSignal means a source answered but said nothing usable
var ErrNoSignal = errors.New("source returned no usable status")

// Source is an external status provider. Query returns ErrNoSignal (or any
// other error) when it cannot produce a status; the resolver then moves on.
type Source interface {
	Name() string
	Timeout() time.Duration
	Query(ctx context.Context) (models.Resolution, error)
}

// Sanitizer reduces third-party text to plain text before it is stored or mailed
type Sanitizer struct {
	policy *bluemonday.Policy
}

// NewSanitizer creates a sanitizer that strips all markup
func NewSanitizer() *Sanitizer {
	return &Sanitizer{policy: bluemonday.StrictPolicy()}
}

// Text strips tags and decodes entities so templates can escape once
func (s *Sanitizer) Text(in string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(in)))
}

// UptimeRobot monitor status codes
const (
	uptimeRobotPaused     = 0
	uptimeRobotNotChecked = 1
	uptimeRobotUp         = 2
	uptimeRobotSeemsDown  = 8
	uptimeRobotDown       = 9
)

// UptimeRobotSource queries the UptimeRobot v2 getMonitors API
type UptimeRobotSource struct {
	apiURL     string
	apiKey     string
	monitorIDs []string
	timeout    time.Duration
	client     *http.Client
	sanitizer  *Sanitizer
}

// NewUptimeRobotSource creates a source for the given monitors
func NewUptimeRobotSource(apiURL, apiKey string, monitorIDs []string, timeout time.Duration, client *http.Client, sanitizer *Sanitizer) *UptimeRobotSource {
	return &UptimeRobotSource{
		apiURL:     strings.TrimRight(apiURL, "/"),
		apiKey:     apiKey,
		monitorIDs: monitorIDs,
		timeout:    timeout,
		client:     client,
		sanitizer:  sanitizer,
	}
}

func (s *UptimeRobotSource) Name() string           { return models.SourceUptimeRobot }
func (s *UptimeRobotSource) Timeout() time.Duration { return s.timeout }

type uptimeRobotRequest struct {
	APIKey   string `json:"api_key"`
	Monitors string `json:"monitors"`
	Format   string `json:"format"`
}

type uptimeRobotMonitor struct {
	ID           int64  `json:"id"`
	FriendlyName string `json:"friendly_name"`
	Status       int    `json:"status"`
}

type uptimeRobotResponse struct {
	Stat     string               `json:"stat"`
	Monitors []uptimeRobotMonitor `json:"monitors"`
}

// Query fetches monitor states and folds them into one status
func (s *UptimeRobotSource) Query(ctx context.Context) (models.Resolution, error) {
	payload, err := json.Marshal(uptimeRobotRequest{
		APIKey:   s.apiKey,
		Monitors: strings.Join(s.monitorIDs, "-"),
		Format:   "json",
	})
	if err != nil {
		return models.Resolution{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL+"/getMonitors", bytes.NewReader(payload))
	if err != nil {
		return models.Resolution{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.client.Do(req)
	if err != nil {
		return models.Resolution{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return models.Resolution{}, fmt.Errorf("uptimerobot returned status %d", resp.StatusCode)
	}

	var data uptimeRobotResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxSourceBody)).Decode(&data); err != nil {
		return models.Resolution{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if data.Stat != "" && data.Stat != "ok" {
		return models.Resolution{}, fmt.Errorf("uptimerobot stat %q", data.Stat)
	}
	if len(data.Monitors) == 0 {
		return models.Resolution{}, ErrNoSignal
	}

	return s.fold(data.Monitors), nil
}

// fold picks the highest-priority monitor state: down, then seems-down, then
// paused, then up. Details list every monitor that is not up.
func (s *UptimeRobotSource) fold(monitors []uptimeRobotMonitor) models.Resolution {
	status := models.StatusUp
	rank := map[models.Status]int{
		models.StatusUp:          0,
		models.StatusMaintenance: 1,
		models.StatusDegraded:    2,
		models.StatusDown:        3,
	}

	var affected []string
	for _, m := range monitors {
		var ms models.Status
		var label string
		switch m.Status {
		case uptimeRobotUp, uptimeRobotNotChecked:
			continue
		case uptimeRobotDown:
			ms, label = models.StatusDown, "Down"
		case uptimeRobotPaused:
			ms, label = models.StatusMaintenance, "Paused"
		default:
			ms, label = models.StatusDegraded, "Experiencing issues"
		}

		affected = append(affected, fmt.Sprintf("%s: %s", s.sanitizer.Text(m.FriendlyName), label))
		if rank[ms] > rank[status] {
			status = ms
		}
	}

	res := models.Resolution{
		Status:    status,
		Message:   status.DefaultMessage(),
		Timestamp: time.Now(),
		Source:    models.SourceUptimeRobot,
	}
	if len(affected) > 0 {
		res.Details = null.StringFrom(strings.Join(affected, ", "))
	}
	return res
}

// EndpointSource polls a custom JSON status endpoint
type EndpointSource struct {
	name      string
	url       string
	headers   map[string]string
	timeout   time.Duration
	client    *http.Client
	sanitizer *Sanitizer
}

// NewEndpointSource creates a source for url. name is used in logs only;
// history rows are tagged custom_endpoint.
func NewEndpointSource(name, url string, headers map[string]string, timeout time.Duration, client *http.Client, sanitizer *Sanitizer) *EndpointSource {
	if name == "" {
		name = url
	}
	return &EndpointSource{
		name:      name,
		url:       url,
		headers:   headers,
		timeout:   timeout,
		client:    client,
		sanitizer: sanitizer,
	}
}

func (s *EndpointSource) Name() string           { return models.SourceCustomEndpoint + ":" + s.name }
func (s *EndpointSource) Timeout() time.Duration { return s.timeout }

// endpointPayload is the accepted response shape. Every field is optional but
// at least one of status, operational or up must decide the status.
type endpointPayload struct {
	Status      *string `json:"status"`
	Operational *bool   `json:"operational"`
	Up          *bool   `json:"up"`
	Message     *string `json:"message"`
	Details     *string `json:"details"`
	Timestamp   *string `json:"timestamp"`
}

// Query fetches and parses the endpoint
func (s *EndpointSource) Query(ctx context.Context) (models.Resolution, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return models.Resolution{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return models.Resolution{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return models.Resolution{}, fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSourceBody))
	if err != nil {
		return models.Resolution{}, fmt.Errorf("failed to read response: %w", err)
	}

	return ParseEndpointPayload(body, s.sanitizer)
}

// ParseEndpointPayload validates a custom endpoint body. Anything that does not
// match the accepted shape is rejected rather than guessed at.
func ParseEndpointPayload(body []byte, sanitizer *Sanitizer) (models.Resolution, error) {
	var p endpointPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return models.Resolution{}, fmt.Errorf("invalid status payload: %w", err)
	}

	var status models.Status
	switch {
	case p.Status != nil:
		status = models.Status(*p.Status)
		if !status.Valid() {
			return models.Resolution{}, fmt.Errorf("invalid status value %q", *p.Status)
		}
	case p.Operational != nil:
		status = boolStatus(*p.Operational)
	case p.Up != nil:
		status = boolStatus(*p.Up)
	default:
		return models.Resolution{}, ErrNoSignal
	}

	res := models.Resolution{
		Status:    status,
		Message:   status.DefaultMessage(),
		Timestamp: time.Now(),
		Source:    models.SourceCustomEndpoint,
	}

	if p.Timestamp != nil {
		ts, err := time.Parse(time.RFC3339, *p.Timestamp)
		if err != nil {
			return models.Resolution{}, fmt.Errorf("invalid timestamp %q: %w", *p.Timestamp, err)
		}
		res.Timestamp = ts
	}
	if p.Message != nil {
		if msg := sanitizer.Text(*p.Message); msg != "" {
			res.Message = msg
		}
	}
	if p.Details != nil {
		if details := sanitizer.Text(*p.Details); details != "" {
			res.Details = null.StringFrom(details)
		}
	}

	return res, nil
}

func boolStatus(ok bool) models.Status {
	if ok {
		return models.StatusUp
	}
	return models.StatusDown
}
