package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PricingQuotesTotal counts quote calculations by pricing source and outcome.
	PricingQuotesTotal *prometheus.CounterVec
	// PricingQuoteLatency records quote latency in milliseconds, including store lookups.
	PricingQuoteLatency *prometheus.HistogramVec
	// PricingFallbackTotal counts degraded quotes (discounts unavailable, flat variant price).
	PricingFallbackTotal *prometheus.CounterVec
	// PricingCacheTotal counts reference data cache lookups.
	PricingCacheTotal *prometheus.CounterVec
	// SubscriptionsCreatedTotal counts persisted subscriptions by pricing source.
	SubscriptionsCreatedTotal *prometheus.CounterVec
	// DiscountRuleWritesTotal counts admin writes to discount rules.
	DiscountRuleWritesTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PricingQuotesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_quotes_total",
			Help:      "Count of pricing quotes by source and result.",
		}, []string{"source", "result"})
		PricingQuoteLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pricing_quote_duration_ms",
			Help:      "Latency of pricing quotes in milliseconds.",
			Buckets:   []float64{1, 2.5, 5, 10, 25, 50, 100, 250, 500},
		}, []string{"result"})
		PricingFallbackTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_fallback_total",
			Help:      "Count of quotes served through an explicit fallback path.",
		}, []string{"reason"})
		PricingCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_cache_total",
			Help:      "Count of pricing reference data cache lookups.",
		}, []string{"kind", "result"})
		SubscriptionsCreatedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriptions_created_total",
			Help:      "Count of created subscriptions by pricing source.",
		}, []string{"source"})
		DiscountRuleWritesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discount_rule_writes_total",
			Help:      "Count of discount rule admin writes by action.",
		}, []string{"action"})

		mustRegisterCollector(reg, PricingQuotesTotal, reuseCounterVec(&PricingQuotesTotal))
		mustRegisterCollector(reg, PricingQuoteLatency, reuseHistogramVec(&PricingQuoteLatency))
		mustRegisterCollector(reg, PricingFallbackTotal, reuseCounterVec(&PricingFallbackTotal))
		mustRegisterCollector(reg, PricingCacheTotal, reuseCounterVec(&PricingCacheTotal))
		mustRegisterCollector(reg, SubscriptionsCreatedTotal, reuseCounterVec(&SubscriptionsCreatedTotal))
		mustRegisterCollector(reg, DiscountRuleWritesTotal, reuseCounterVec(&DiscountRuleWritesTotal))
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register metric: %w", err))
	}
}

func reuseCounterVec(target **prometheus.CounterVec) func(prometheus.Collector) {
	return func(existing prometheus.Collector) {
		if v, ok := existing.(*prometheus.CounterVec); ok {
			*target = v
		}
	}
}

func reuseHistogramVec(target **prometheus.HistogramVec) func(prometheus.Collector) {
	return func(existing prometheus.Collector) {
		if v, ok := existing.(*prometheus.HistogramVec); ok {
			*target = v
		}
	}
}
