package llm

import "net/http"

// ClientConfig holds LLM client configuration.
type ClientConfig struct {
	BaseURL    string       // Gemini API base, e.g. "https://generativelanguage.googleapis.com"
	APIKey     string       // Gemini API key
	Model      string       // default model for generate(), e.g. "gemini-2.5-flash"
	HTTPClient *http.Client // custom HTTP client (timeouts, proxies); defaults to http.DefaultClient
}

func (c ClientConfig) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}
