package provider

// KnownModels returns commonly available model names for a provider. The
// lists are static; providers are not queried for their catalogs. Unknown
// providers return nil.
func KnownModels(name string) []string {
	switch name {
	case "ollama":
		return []string{"llama3.2", "llama3.1", "mistral", "codellama", "llama2"}
	case "openai":
		return []string{"gpt-4", "gpt-4-turbo", "gpt-3.5-turbo"}
	case "anthropic":
		return []string{"claude-3-opus-20240229", "claude-3-sonnet-20240229", "claude-3-haiku-20240307"}
	case "gemini":
		return []string{"gemini-pro", "gemini-pro-vision"}
	case "openrouter":
		return []string{"openai/gpt-4", "anthropic/claude-3-opus", "meta-llama/llama-3.1-8b-instruct"}
	}
	return nil
}
