package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maltedev/materials-scraper/internal/merge"
	"github.com/maltedev/materials-scraper/internal/models"
)

// Registry holds the scraper's collectors. It implements fetcher.Observer.
type Registry struct {
	reg *prometheus.Registry

	Requests       *prometheus.CounterVec
	Retries        *prometheus.CounterVec
	PolicyDenied   *prometheus.CounterVec
	Scraped        *prometheus.CounterVec
	Skipped        *prometheus.CounterVec
	Warnings       *prometheus.CounterVec
	BrandFailures  *prometheus.CounterVec
	MergeOutcomes  *prometheus.CounterVec
	RunDurationSec prometheus.Histogram
	DatasetSize    prometheus.Gauge
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matscraper_http_requests_total",
		Help: "HTTP requests issued by the fetcher, by host and status code.",
	}, []string{"host", "status"})
	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matscraper_http_retries_total",
		Help: "Retried HTTP requests, by host.",
	}, []string{"host"})
	denied := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matscraper_policy_denied_total",
		Help: "Requests refused by robots policy, by host.",
	}, []string{"host"})
	scraped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matscraper_products_scraped_total",
		Help: "Products normalized into records, by brand.",
	}, []string{"brand"})
	skipped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matscraper_products_skipped_total",
		Help: "Products dropped during scraping or normalization, by brand.",
	}, []string{"brand"})
	warnings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matscraper_warnings_total",
		Help: "Non-fatal warnings, by kind.",
	}, []string{"kind"})
	brandFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matscraper_brand_failures_total",
		Help: "Brands whose scrape failed.",
	}, []string{"brand"})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matscraper_merge_records_total",
		Help: "Merge outcomes per record.",
	}, []string{"outcome"})
	runDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "matscraper_run_duration_seconds",
		Help:    "Wall time of a full scrape run.",
		Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 1800},
	})
	size := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "matscraper_dataset_records",
		Help: "Records in the dataset after the last merge.",
	})

	r.MustRegister(requests, retries, denied, scraped, skipped, warnings, brandFailures, outcomes, runDuration, size)
	return &Registry{
		reg:            r,
		Requests:       requests,
		Retries:        retries,
		PolicyDenied:   denied,
		Scraped:        scraped,
		Skipped:        skipped,
		Warnings:       warnings,
		BrandFailures:  brandFailures,
		MergeOutcomes:  outcomes,
		RunDurationSec: runDuration,
		DatasetSize:    size,
	}
}

func (r *Registry) ObserveRequest(host string, status int) {
	r.Requests.WithLabelValues(host, strconv.Itoa(status)).Inc()
}

func (r *Registry) ObserveRetry(host string) {
	r.Retries.WithLabelValues(host).Inc()
}

func (r *Registry) ObservePolicyDenied(host string) {
	r.PolicyDenied.WithLabelValues(host).Inc()
}

// ObserveBrand records the outcome of one brand's scrape.
func (r *Registry) ObserveBrand(brand string, scraped, skipped int, failed bool) {
	r.Scraped.WithLabelValues(brand).Add(float64(scraped))
	r.Skipped.WithLabelValues(brand).Add(float64(skipped))
	if failed {
		r.BrandFailures.WithLabelValues(brand).Inc()
	}
}

func (r *Registry) ObserveWarnings(warnings []models.Warning) {
	for _, w := range warnings {
		r.Warnings.WithLabelValues(string(w.Kind)).Inc()
	}
}

func (r *Registry) ObserveMerge(report *merge.Report, datasetSize int) {
	r.MergeOutcomes.WithLabelValues("added").Add(float64(report.Added))
	r.MergeOutcomes.WithLabelValues("updated").Add(float64(report.Updated))
	r.MergeOutcomes.WithLabelValues("unchanged").Add(float64(report.Unchanged))
	r.MergeOutcomes.WithLabelValues("collision").Add(float64(report.Collisions))
	r.DatasetSize.Set(float64(datasetSize))
}

func (r *Registry) ObserveRun(d time.Duration) {
	r.RunDurationSec.Observe(d.Seconds())
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
