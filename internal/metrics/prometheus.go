package metrics

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	ierr "github.com/kachi-io/kachi/internal/errors"
	"github.com/kachi-io/kachi/internal/httpclient"
	"github.com/kachi-io/kachi/internal/logger"
)

// PrometheusConnector queries a Prometheus-compatible HTTP API
type PrometheusConnector struct {
	name   string
	cfg    SourceConfig
	client httpclient.Client
	logger *logger.Logger
}

func NewPrometheusConnector(cfg SourceConfig, client httpclient.Client, log *logger.Logger) *PrometheusConnector {
	return &PrometheusConnector{
		name:   cfg.Name,
		cfg:    cfg,
		client: client,
		logger: log,
	}
}

func (c *PrometheusConnector) Name() string {
	return c.name
}

// promResponse is the wire shape of the Prometheus query API
type promResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Data   struct {
		ResultType string `json:"resultType"`
		Result     []struct {
			Metric map[string]string `json:"metric"`
			// Value holds an instant sample, Values a range series
			Value  []any   `json:"value,omitempty"`
			Values [][]any `json:"values,omitempty"`
		} `json:"result"`
	} `json:"data"`
}

func (c *PrometheusConnector) Query(ctx context.Context, q Query) (*CollectionResult, error) {
	path := "/api/v1/query_range"
	params := url.Values{}
	params.Set("query", q.Expr)
	if q.Instant {
		path = "/api/v1/query"
		params.Set("time", formatPromTime(q.End))
	} else {
		params.Set("start", formatPromTime(q.Start))
		params.Set("end", formatPromTime(q.End))
		params.Set("step", strconv.FormatInt(int64(q.Step.Seconds()), 10))
	}

	resp, err := c.client.Send(ctx, &httpclient.Request{
		Method:  http.MethodGet,
		BaseURL: c.cfg.Endpoint,
		Path:    path,
		Query:   params,
		Headers: c.authHeaders(),
	})
	if err != nil {
		return nil, err
	}

	var parsed promResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, ierr.WithError(err).
			WithHintf("Invalid response from %s", c.name).
			Mark(ierr.ErrHTTPClient)
	}
	if parsed.Status != "success" {
		return nil, ierr.NewErrorf("query failed on %s: %s", c.name, parsed.Error).
			Mark(ierr.ErrHTTPClient)
	}

	result := &CollectionResult{QueriedAt: time.Now().UTC()}
	for _, series := range parsed.Data.Result {
		if len(series.Value) == 2 {
			if dp, ok := parseSample(series.Value, series.Metric); ok {
				result.DataPoints = append(result.DataPoints, dp)
			}
		}
		for _, sample := range series.Values {
			if dp, ok := parseSample(sample, series.Metric); ok {
				result.DataPoints = append(result.DataPoints, dp)
			}
		}
	}
	return result, nil
}

// TestConnection evaluates the "up" metric as a liveness probe
func (c *PrometheusConnector) TestConnection(ctx context.Context) error {
	_, err := c.Query(ctx, Query{
		Expr:    "up",
		End:     time.Now().UTC(),
		Instant: true,
	})
	if err != nil {
		return ierr.WithError(err).
			WithHintf("Connection test failed for %s", c.name).
			Mark(ierr.ErrHTTPClient)
	}
	return nil
}

func (c *PrometheusConnector) authHeaders() map[string]string {
	headers := map[string]string{}
	switch {
	case c.cfg.BearerToken != "":
		headers["Authorization"] = "Bearer " + c.cfg.BearerToken
	case c.cfg.Username != "":
		creds := base64.StdEncoding.EncodeToString(
			[]byte(c.cfg.Username + ":" + c.cfg.Password))
		headers["Authorization"] = "Basic " + creds
	}
	return headers
}

// parseSample converts one [timestamp, "value"] pair. Malformed samples are
// dropped rather than failing the whole collection.
func parseSample(sample []any, labels map[string]string) (DataPoint, bool) {
	if len(sample) != 2 {
		return DataPoint{}, false
	}
	tsFloat, ok := sample[0].(float64)
	if !ok {
		return DataPoint{}, false
	}
	valueStr, ok := sample[1].(string)
	if !ok {
		return DataPoint{}, false
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return DataPoint{}, false
	}
	sec := int64(tsFloat)
	nsec := int64((tsFloat - float64(sec)) * float64(time.Second))
	return DataPoint{
		Timestamp: time.Unix(sec, nsec).UTC(),
		Value:     value,
		Labels:    labels,
	}, true
}

func formatPromTime(ts time.Time) string {
	return fmt.Sprintf("%d", ts.Unix())
}
