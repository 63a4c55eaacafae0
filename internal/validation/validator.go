package validation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tinyscale/tinylink/internal/models"
	"golang.org/x/sync/errgroup"
)

// Result is the verdict of a single external URL check.
type Result int

const (
	ResultOK Result = iota
	ResultNotReachable
	ResultUnsafe
)

// ReachabilityProber checks that a target URL answers requests.
type ReachabilityProber interface {
	// Probe returns ResultOK when the URL answers with a 2xx status.
	// Transport failures and timeouts count as ResultNotReachable.
	Probe(ctx context.Context, target string) Result
}

// ThreatChecker looks a target URL up in an external threat list.
type ThreatChecker interface {
	// Check returns ResultUnsafe when the URL matches a known threat.
	Check(ctx context.Context, target string) Result
}

// Store is the slice of the short URL store the gate needs to finalize a
// record's validation state.
type Store interface {
	SetValidation(ctx context.Context, key string, state models.ValidationState) (bool, error)
	DeleteByKey(ctx context.Context, key string) error
}

// Gate runs the post-creation check of a short URL. The reachability probe
// and the threat lookup run concurrently; an unsafe verdict takes precedence
// over an unreachable one when both fail. The persisted transition out of
// PENDING happens at most once per record, and records that fail terminally
// are deleted.
type Gate struct {
	store   Store
	prober  ReachabilityProber
	checker ThreatChecker
	timeout time.Duration
	logger  *slog.Logger
}

func NewGate(store Store, prober ReachabilityProber, checker ThreatChecker, timeout time.Duration, logger *slog.Logger) *Gate {
	return &Gate{
		store:   store,
		prober:  prober,
		checker: checker,
		timeout: timeout,
		logger:  logger,
	}
}

// Validate checks the target URL behind key and persists the resulting
// validation state. It is meant to run in its own goroutine right after the
// record is created.
func (g *Gate) Validate(ctx context.Context, key, target string) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var safety, reachability Result

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		safety = g.checker.Check(egCtx, target)
		return nil
	})
	eg.Go(func() error {
		reachability = g.prober.Probe(egCtx, target)
		return nil
	})
	// Neither check returns an error; verdicts come back through the results.
	_ = eg.Wait()

	switch {
	case safety == ResultUnsafe:
		g.reject(ctx, key, models.ValidationFailUnsafe)
	case reachability == ResultNotReachable:
		g.reject(ctx, key, models.ValidationFailUnreachable)
	default:
		g.pass(ctx, key)
	}
}

func (g *Gate) pass(ctx context.Context, key string) {
	swapped, err := g.store.SetValidation(ctx, key, models.ValidationPass)
	if err != nil {
		g.logger.Error("failed to persist validation pass",
			slog.String("key", key),
			slog.Any("err", err),
		)
		return
	}

	if !swapped {
		// Another validator already finalized the record, or it is gone.
		return
	}

	g.logger.Info("short url validated", slog.String("key", key))
}

func (g *Gate) reject(ctx context.Context, key string, state models.ValidationState) {
	swapped, err := g.store.SetValidation(ctx, key, state)
	if err != nil {
		g.logger.Error("failed to persist validation failure",
			slog.String("key", key),
			slog.String("state", string(state)),
			slog.Any("err", err),
		)
		return
	}

	if !swapped {
		return
	}

	if err := g.store.DeleteByKey(ctx, key); err != nil {
		g.logger.Error("failed to delete rejected short url",
			slog.String("key", key),
			slog.Any("err", err),
		)
		return
	}

	g.logger.Info("short url rejected",
		slog.String("key", key),
		slog.String("state", string(state)),
	)
}

// HTTPProber probes reachability with a plain GET request.
type HTTPProber struct {
	client *http.Client
}

func NewHTTPProber(client *http.Client) *HTTPProber {
	if client == nil {
		client = http.DefaultClient
	}

	return &HTTPProber{client: client}
}

func (p *HTTPProber) Probe(ctx context.Context, target string) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return ResultNotReachable
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return ResultNotReachable
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ResultNotReachable
	}

	return ResultOK
}

// SafeBrowsingChecker looks URLs up against a Safe Browsing style
// threatMatches:find endpoint. An unavailable threat API is treated as a safe
// verdict, so an outage never deletes user links.
type SafeBrowsingChecker struct {
	client        *http.Client
	endpoint      string
	clientID      string
	clientVersion string
	logger        *slog.Logger
}

func NewSafeBrowsingChecker(client *http.Client, endpoint, clientID, clientVersion string, logger *slog.Logger) *SafeBrowsingChecker {
	if client == nil {
		client = http.DefaultClient
	}

	return &SafeBrowsingChecker{
		client:        client,
		endpoint:      endpoint,
		clientID:      clientID,
		clientVersion: clientVersion,
		logger:        logger,
	}
}

type threatEntry struct {
	URL string `json:"url"`
}

type threatInfo struct {
	ThreatTypes      []string      `json:"threatTypes"`
	PlatformTypes    []string      `json:"platformTypes"`
	ThreatEntryTypes []string      `json:"threatEntryTypes"`
	ThreatEntries    []threatEntry `json:"threatEntries"`
}

type clientInfo struct {
	ClientID      string `json:"clientId"`
	ClientVersion string `json:"clientVersion"`
}

type threatMatchesFindRequest struct {
	Client     clientInfo `json:"client"`
	ThreatInfo threatInfo `json:"threatInfo"`
}

type threatMatchesFindResponse struct {
	Matches []json.RawMessage `json:"matches"`
}

func (c *SafeBrowsingChecker) Check(ctx context.Context, target string) Result {
	body, err := json.Marshal(threatMatchesFindRequest{
		Client: clientInfo{
			ClientID:      c.clientID,
			ClientVersion: c.clientVersion,
		},
		ThreatInfo: threatInfo{
			ThreatTypes:      []string{"MALWARE", "POTENTIALLY_HARMFUL_APPLICATION", "UNWANTED_SOFTWARE"},
			PlatformTypes:    []string{"ANY_PLATFORM"},
			ThreatEntryTypes: []string{"URL"},
			ThreatEntries:    []threatEntry{{URL: target}},
		},
	})
	if err != nil {
		return ResultOK
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return ResultOK
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("threat lookup unavailable", slog.Any("err", err))
		return ResultOK
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("threat lookup failed",
			slog.String("status", fmt.Sprintf("%d", resp.StatusCode)),
		)
		return ResultOK
	}

	var found threatMatchesFindResponse
	if err := json.NewDecoder(resp.Body).Decode(&found); err != nil {
		c.logger.Warn("failed to decode threat lookup response", slog.Any("err", err))
		return ResultOK
	}

	if len(found.Matches) > 0 {
		return ResultUnsafe
	}

	return ResultOK
}
