package shared

const (
	ProjectID = "desirelines" // Can be overridden by GOOGLE_CLOUD_PROJECT

	TopicStravaWebhooks = "strava-webhooks"

	CollectionExecutions = "executions"

	// Attribute keys carried on published webhook messages.
	AttrCorrelationID = "correlation_id"
	AttrAspectType    = "aspect_type"
	AttrSource        = "source"

	// Summary object layout in the data bucket.
	SummaryObjectFormat = "activities/%d/%s.json"
	KindSummary         = "summary"
	KindDistances       = "distances"
	KindPacings         = "pacings"
)
