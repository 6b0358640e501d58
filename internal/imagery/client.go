// Package imagery fetches satellite scenes from the Sentinel Hub Process
// API: single-band FLOAT32 index rasters for the engine and true-color
// JPEG scenes for AI summarization. Every failure comes back classified
// (auth, no_data, transient_upstream) so the worker can surface it without
// guessing.
package imagery

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mohans/geodiff/internal/engine"
	"github.com/mohans/geodiff/internal/model"
)

// Config carries credentials and the upstream query parameters. Cloud
// cover, mosaicking order, and time-window widening are deliberately
// configuration, not contract; the provider tunes them per deployment.
type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	ProcessURL   string
	Timeout      time.Duration
	// MaxCloudCover is the maxcc dataFilter percentage (default 30).
	MaxCloudCover int
	// MosaickingOrder picks which scene wins inside the widened time
	// window (default leastCC, the least cloudy).
	MosaickingOrder string
	// TimeWindowDays widens the requested date by +/- this many days to
	// raise the chance of a cloud-free acquisition (default 182).
	TimeWindowDays int
	// Size is the requested output edge in pixels (default 512).
	Size int
}

func (c *Config) applyDefaults() {
	if c.TokenURL == "" {
		c.TokenURL = "https://services.sentinel-hub.com/oauth/token"
	}
	if c.ProcessURL == "" {
		c.ProcessURL = "https://services.sentinel-hub.com/api/v1/process"
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.MaxCloudCover <= 0 {
		c.MaxCloudCover = 30
	}
	if c.MosaickingOrder == "" {
		c.MosaickingOrder = "leastCC"
	}
	if c.TimeWindowDays <= 0 {
		c.TimeWindowDays = 182
	}
	if c.Size <= 0 {
		c.Size = 512
	}
}

// Client talks to Sentinel Hub. Safe for concurrent use; the OAuth token is
// cached until shortly before expiry.
type Client struct {
	cfg   Config
	httpc *http.Client
	log   *zap.Logger

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

func NewClient(cfg Config, log *zap.Logger) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg:   cfg,
		httpc: &http.Client{Timeout: cfg.Timeout},
		log:   log.Named("imagery"),
	}
}

// FetchIndexRaster fetches one index raster for the date. Cloudy and
// invalid pixels arrive as NaN per the evalscript.
func (c *Client) FetchIndexRaster(ctx context.Context, bbox model.BoundingBox, date string, kind model.AnalysisKind) (*engine.Raster, error) {
	var script string
	switch kind {
	case model.KindNDVI:
		script = ndviEvalscript
	case model.KindNDWI:
		script = ndwiEvalscript
	default:
		return nil, model.NewError(model.KindInternal, "no index evalscript for kind %q", kind)
	}
	data, err := c.process(ctx, bbox, date, script, "image/tiff")
	if err != nil {
		return nil, err
	}
	raster, err := decodeFloatTIFF(data)
	if err != nil {
		c.log.Error("tiff decode failed", zap.String("date", date), zap.Error(err))
		return nil, model.NewError(model.KindTransient, "imagery provider returned an unreadable raster")
	}
	return raster, nil
}

// FetchTrueColor fetches a true-color JPEG scene for the date.
func (c *Client) FetchTrueColor(ctx context.Context, bbox model.BoundingBox, date string) ([]byte, error) {
	return c.process(ctx, bbox, date, trueColorEvalscript, "image/jpeg")
}

func (c *Client) process(ctx context.Context, bbox model.BoundingBox, date, evalscript, format string) ([]byte, error) {
	token, err := c.bearerToken(ctx)
	if err != nil {
		return nil, err
	}

	from, to, err := c.timeWindow(date)
	if err != nil {
		return nil, model.NewError(model.KindValidation, "date %q is not a valid YYYY-MM-DD date", date)
	}

	payload := map[string]any{
		"input": map[string]any{
			"bounds": map[string]any{
				"bbox": []float64{bbox.West, bbox.South, bbox.East, bbox.North},
				"properties": map[string]any{
					"crs": "http://www.opengis.net/def/crs/EPSG/0/4326",
				},
			},
			"data": []map[string]any{{
				"type": "sentinel-2-l2a",
				"dataFilter": map[string]any{
					"timeRange":       map[string]string{"from": from, "to": to},
					"mosaickingOrder": c.cfg.MosaickingOrder,
					"maxcc":           c.cfg.MaxCloudCover,
				},
			}},
		},
		"output": map[string]any{
			"width":  c.cfg.Size,
			"height": c.cfg.Size,
			"responses": []map[string]any{{
				"identifier": "default",
				"format":     map[string]string{"type": format},
			}},
		},
		"evalscript": evalscript,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ProcessURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpc.Do(req)
	if err != nil {
		c.log.Warn("process request failed", zap.String("date", date), zap.Error(err))
		return nil, model.NewError(model.KindTransient, "network error fetching satellite imagery")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.NewError(model.KindTransient, "network error reading satellite imagery")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.classifyStatus(resp.StatusCode, data, date)
	}
	c.log.Debug("scene fetched",
		zap.String("date", date),
		zap.Int("bytes", len(data)),
		zap.Duration("duration", time.Since(start)))
	return data, nil
}

// classifyStatus maps Process API failures onto the task error taxonomy.
// Response bodies are logged for operators, never echoed to clients.
func (c *Client) classifyStatus(status int, body []byte, date string) *model.Error {
	c.log.Warn("process request rejected",
		zap.Int("status", status),
		zap.String("date", date),
		zap.ByteString("body", truncate(body, 512)))
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return model.NewError(model.KindAuth, "imagery provider rejected the configured credentials")
	case status == http.StatusBadRequest && bytes.Contains(body, []byte("No data available")):
		return model.NewError(model.KindNoData,
			"no cloud-free scene available for %s within the configured window (maxcc=%d%%)", date, c.cfg.MaxCloudCover)
	case status == http.StatusTooManyRequests || status >= 500:
		return model.NewError(model.KindTransient, "imagery provider returned status %d", status)
	default:
		return model.NewError(model.KindInternal, "imagery provider rejected the request with status %d", status)
	}
}

// bearerToken returns a cached OAuth token, refreshing via the
// client-credentials grant when fewer than 60 seconds remain.
func (c *Client) bearerToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Until(c.tokenExp) > time.Minute {
		return c.token, nil
	}
	if c.cfg.ClientID == "" || c.cfg.ClientSecret == "" {
		return "", model.NewError(model.KindAuth, "imagery provider credentials are not configured")
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", model.NewError(model.KindTransient, "network error fetching imagery provider token")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.log.Error("token request rejected", zap.Int("status", resp.StatusCode))
		return "", model.NewError(model.KindAuth, "imagery provider rejected the configured credentials")
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil || tok.AccessToken == "" {
		return "", model.NewError(model.KindTransient, "imagery provider returned a malformed token response")
	}
	c.token = tok.AccessToken
	c.tokenExp = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	return c.token, nil
}

// timeWindow widens the target date by +/- TimeWindowDays.
func (c *Client) timeWindow(date string) (from, to string, err error) {
	d, err := time.Parse("2006-01-02", date)
	if err != nil {
		return "", "", err
	}
	half := time.Duration(c.cfg.TimeWindowDays) * 24 * time.Hour
	return d.Add(-half).Format(time.RFC3339), d.Add(half).Format(time.RFC3339), nil
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
