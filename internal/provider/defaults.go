package provider

// Defaults returns the built-in provider set used when no provider list is configured.
func Defaults() []Provider {
	return []Provider{
		statuspage("openai", "OpenAI", "https://status.openai.com"),
		statuspage("anthropic", "Anthropic", "https://status.anthropic.com"),
		{
			ID:            "google-ai",
			Name:          "Google AI",
			StatusURL:     "https://status.cloud.google.com/incidents.json",
			StatusPageURL: "https://status.cloud.google.com",
			Format:        FormatIncidentList,
			Active:        true,
		},
		statuspage("cohere", "Cohere", "https://status.cohere.com"),
		statuspage("huggingface", "Hugging Face", "https://status.huggingface.co"),
		statuspage("mistral", "Mistral AI", "https://status.mistral.ai"),
		statuspage("groq", "Groq", "https://groqstatus.com"),
		statuspage("perplexity", "Perplexity", "https://status.perplexity.ai"),
		statuspage("replicate", "Replicate", "https://www.replicatestatus.com"),
		statuspage("together", "Together AI", "https://status.together.ai"),
		statuspage("stability", "Stability AI", "https://status.stability.ai"),
		statuspage("elevenlabs", "ElevenLabs", "https://status.elevenlabs.io"),
	}
}

func statuspage(id, name, page string) Provider {
	return Provider{
		ID:            id,
		Name:          name,
		StatusURL:     page + "/api/v2/status.json",
		StatusPageURL: page,
		Format:        FormatStatuspage,
		Active:        true,
	}
}
