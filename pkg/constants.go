package shared

const (
	ProjectID = "fitglue-project" // Can be overridden by GOOGLE_CLOUD_PROJECT

	TopicJourneySync      = "topic-journey-sync"
	TopicJourneyAnnotated = "topic-journey-annotated"

	CollectionSubjects = "subjects"

	EventTypeActivityAnnotated = "journey.activity.annotated"
	EventSourceOrchestrator    = "/journey/orchestrator"
)
