package observability

const (
	MUsecaseRequests         MetricKey = "usecase_requests_total"
	MUsecaseDuration         MetricKey = "usecase_duration_seconds"
	MHTTPRequests            MetricKey = "http_requests_total"
	MHTTPRequestDuration     MetricKey = "http_request_duration_seconds"
	MExternalRequests        MetricKey = "external_requests_total"
	MExternalRequestDuration MetricKey = "external_request_duration_seconds"
	MWebhookEvents           MetricKey = "webhook_events_total"
	MStockRejections         MetricKey = "stock_rejections_total"
)

// MetricSpec describes how an instrument is registered.
type MetricSpec struct {
	Key    MetricKey
	Help   string
	Labels []string
}

var DefaultCounters = []MetricSpec{
	{Key: MUsecaseRequests, Help: "Total number of use case invocations.", Labels: []string{"use_case", "outcome"}},
	{Key: MHTTPRequests, Help: "Total number of HTTP requests.", Labels: []string{"method", "route", "status"}},
	{Key: MExternalRequests, Help: "Calls to external peers (payment providers, event bus).", Labels: []string{"peer", "endpoint", "outcome"}},
	{Key: MWebhookEvents, Help: "Verified provider webhook events by reconciliation outcome.", Labels: []string{"provider", "kind", "outcome"}},
	{Key: MStockRejections, Help: "Checkouts rejected by the inventory ledger.", Labels: []string{"reason"}},
}

var DefaultHistograms = []MetricSpec{
	{Key: MUsecaseDuration, Help: "Duration of use case execution in seconds.", Labels: []string{"use_case"}},
	{Key: MHTTPRequestDuration, Help: "Duration of HTTP requests in seconds.", Labels: []string{"method", "route", "status"}},
	{Key: MExternalRequestDuration, Help: "Duration of external calls in seconds.", Labels: []string{"peer", "endpoint"}},
}
