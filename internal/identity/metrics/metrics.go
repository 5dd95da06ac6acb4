package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the identity module.
type Metrics struct {
	// Accounts created, by origin ("force", "login")
	AccountsCreated *prometheus.CounterVec

	// Identity links created
	IdentitiesCreated prometheus.Counter

	// How many candidates the username search tried before finding a free one
	UsernameSearchDepth prometheus.Histogram

	// Registry lookups by outcome ("hit", "miss", "error")
	ProviderLookups *prometheus.CounterVec
}

// New creates a new Metrics instance with all identity module metrics registered.
func New() *Metrics {
	return &Metrics{
		AccountsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "edxlogin_identity_accounts_created_total",
			Help: "Total accounts created by the identity resolver, by origin",
		}, []string{"origin"}),

		IdentitiesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "edxlogin_identity_links_created_total",
			Help: "Total document-to-account links created",
		}),

		UsernameSearchDepth: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "edxlogin_identity_username_search_depth",
			Help:    "Number of candidate usernames tried before one was free",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 50, 100},
		}),

		ProviderLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "edxlogin_identity_provider_lookups_total",
			Help: "Total person registry lookups by outcome",
		}, []string{"outcome"}),
	}
}

// IncrementAccountsCreated records a freshly created account.
func (m *Metrics) IncrementAccountsCreated(origin string) {
	if m != nil {
		m.AccountsCreated.WithLabelValues(origin).Inc()
	}
}

// IncrementIdentitiesCreated records a new document link.
func (m *Metrics) IncrementIdentitiesCreated() {
	if m != nil {
		m.IdentitiesCreated.Inc()
	}
}

// ObserveUsernameSearchDepth records how deep the username search went.
func (m *Metrics) ObserveUsernameSearchDepth(depth int) {
	if m != nil {
		m.UsernameSearchDepth.Observe(float64(depth))
	}
}

// IncrementProviderLookups records a registry lookup outcome.
func (m *Metrics) IncrementProviderLookups(outcome string) {
	if m != nil {
		m.ProviderLookups.WithLabelValues(outcome).Inc()
	}
}
