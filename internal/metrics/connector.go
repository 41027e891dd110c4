package metrics

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	ierr "github.com/kachi-io/kachi/internal/errors"
)

// TransformationFunction names the PromQL shape used for one mapping
type TransformationFunction string

const (
	TransformSum  TransformationFunction = "sum"
	TransformAvg  TransformationFunction = "avg"
	TransformMin  TransformationFunction = "min"
	TransformMax  TransformationFunction = "max"
	TransformRate TransformationFunction = "rate"
	TransformNone TransformationFunction = "none"
)

// DefaultCustomerIDLabel is the label carrying the customer id when a
// mapping does not override it
const DefaultCustomerIDLabel = "customer_id"

// DataPoint is one sample returned by an external metric source
type DataPoint struct {
	Timestamp time.Time
	Value     float64
	Labels    map[string]string
}

// Query is one request against an external metric source
type Query struct {
	// Expr is the full query expression, already shaped by the mapping
	Expr string
	// Range bounds a range query; Instant queries evaluate at End
	Start   time.Time
	End     time.Time
	Step    time.Duration
	Instant bool
}

// CollectionResult is the raw outcome of one query
type CollectionResult struct {
	DataPoints []DataPoint
	QueriedAt  time.Time
}

// Mapping binds one external metric to an internal meter
type Mapping struct {
	ExternalMetricName     string                 `json:"external_metric_name" validate:"required"`
	MeterKey               string                 `json:"meter_key" validate:"required"`
	TransformationFunction TransformationFunction `json:"transformation_function"`
	// CustomerIDLabel is the source label carrying the customer id
	CustomerIDLabel string `json:"customer_id_label"`
	// ScalingFactor multiplies every imported value; zero means 1
	ScalingFactor decimal.Decimal `json:"scaling_factor"`
	// LabelFilters restrict the query to series matching every pair
	LabelFilters map[string]string `json:"label_filters,omitempty"`
}

// customerLabel returns the effective customer id label
func (m Mapping) customerLabel() string {
	if m.CustomerIDLabel != "" {
		return m.CustomerIDLabel
	}
	return DefaultCustomerIDLabel
}

// scale applies the mapping's scaling factor
func (m Mapping) scale(value decimal.Decimal) decimal.Decimal {
	if m.ScalingFactor.IsZero() {
		return value
	}
	return value.Mul(m.ScalingFactor)
}

// BuildExpr renders the mapping into a query expression. The label filter
// selector is rendered with sorted keys so expressions are stable.
func (m Mapping) BuildExpr(rateWindow time.Duration) string {
	selector := m.ExternalMetricName + renderLabelFilters(m.LabelFilters)
	switch m.TransformationFunction {
	case TransformRate:
		return fmt.Sprintf("rate(%s[%ds])", selector, int64(rateWindow.Seconds()))
	case TransformSum:
		return fmt.Sprintf("sum(%s) by (%s)", selector, m.customerLabel())
	case TransformAvg:
		return fmt.Sprintf("avg(%s) by (%s)", selector, m.customerLabel())
	case TransformMin:
		return fmt.Sprintf("min(%s) by (%s)", selector, m.customerLabel())
	case TransformMax:
		return fmt.Sprintf("max(%s) by (%s)", selector, m.customerLabel())
	default:
		return selector
	}
}

func renderLabelFilters(filters map[string]string) string {
	if len(filters) == 0 {
		return ""
	}
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%s=%q", k, filters[k])
	}
	sb.WriteByte('}')
	return sb.String()
}

// SourceConfig describes one external metric source and its mappings
type SourceConfig struct {
	Name        string    `json:"name" validate:"required"`
	SourceType  string    `json:"source_type" validate:"required"`
	Endpoint    string    `json:"endpoint" validate:"required"`
	BearerToken string    `json:"bearer_token,omitempty"`
	Username    string    `json:"username,omitempty"`
	Password    string    `json:"password,omitempty"`
	Mappings    []Mapping `json:"mappings"`
}

// Connector queries one external metric source
type Connector interface {
	Name() string
	Query(ctx context.Context, q Query) (*CollectionResult, error)
	// TestConnection probes the source; collection is skipped while the
	// probe fails
	TestConnection(ctx context.Context) error
}

// Registry holds the configured connectors. It is built once at startup and
// never mutated afterwards, so reads need no locking.
type Registry struct {
	connectors map[string]Connector
	configs    map[string]SourceConfig
	order      []string
}

func NewRegistry() *Registry {
	return &Registry{
		connectors: make(map[string]Connector),
		configs:    make(map[string]SourceConfig),
	}
}

// Register adds a connector under its source config
func (r *Registry) Register(cfg SourceConfig, conn Connector) error {
	if _, exists := r.connectors[cfg.Name]; exists {
		return ierr.NewErrorf("connector %s already registered", cfg.Name).
			Mark(ierr.ErrAlreadyExists)
	}
	r.connectors[cfg.Name] = conn
	r.configs[cfg.Name] = cfg
	r.order = append(r.order, cfg.Name)
	return nil
}

// Get returns the named connector and its config
func (r *Registry) Get(name string) (Connector, SourceConfig, error) {
	conn, ok := r.connectors[name]
	if !ok {
		return nil, SourceConfig{}, ierr.NewErrorf("connector %s not registered", name).
			Mark(ierr.ErrNotFound)
	}
	return conn, r.configs[name], nil
}

// Names returns connector names in registration order
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}
