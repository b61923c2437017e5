package models

// Persisted settings keys.
const (
	// SettingInfraModelSummarizer selects the model used for the
	// summarization pass: {"providerId": "...", "modelId": "..."}.
	SettingInfraModelSummarizer = "infra_model_summarizer"

	// SettingSummarizeConcurrency is the integer concurrency override
	// applied to the per-provider summarize limiters.
	SettingSummarizeConcurrency = "summarize_concurrency"
)

// InfraModel is the value shape of infra_model_<purpose> settings.
type InfraModel struct {
	ProviderID string `json:"providerId"`
	ModelID    string `json:"modelId"`
}
