package observability

// Metric names shared by the HTTP layer, use cases and infrastructure adapters.
const (
	MUsecaseRequests         MetricKey = "usecase_requests_total"
	MUsecaseDuration         MetricKey = "usecase_duration_seconds"
	MHTTPRequests            MetricKey = "http_requests_total"
	MHTTPRequestDuration     MetricKey = "http_request_duration_seconds"
	MExternalRequests        MetricKey = "external_requests_total"
	MExternalRequestDuration MetricKey = "external_request_duration_seconds"

	// Order specific.
	MCompensations  MetricKey = "order_compensations_total"
	MOrderLineItems MetricKey = "order_line_items"

	// Read-through caches; outcome is one of hit, miss, error.
	MCacheRequests MetricKey = "cache_requests_total"
)
