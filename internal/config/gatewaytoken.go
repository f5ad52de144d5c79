package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

const gatewayConfigPath = ".openclaw/openclaw.json"

var (
	lineCommentRe  = regexp.MustCompile(`//[^\n]*`)
	blockCommentRe = regexp.MustCompile(`/\*[^*]*\*+(?:[^/*][^*]*\*+)*/`)
	trailingComma  = regexp.MustCompile(`,\s*([}\]])`)
)

// LoadGatewayToken reads the chat gateway auth token from the gateway's own
// config file under the user's home directory. The file may be JSON5, so
// comments and trailing commas are stripped before decoding.
func LoadGatewayToken() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}

	data, err := os.ReadFile(filepath.Join(home, gatewayConfigPath))
	if err != nil {
		return "", fmt.Errorf("failed to read gateway config: %w", err)
	}

	token, err := extractGatewayToken(data)
	if err != nil {
		return "", fmt.Errorf("failed to parse gateway config: %w", err)
	}
	return token, nil
}

func extractGatewayToken(data []byte) (string, error) {
	var parsed struct {
		Gateway struct {
			Auth struct {
				Token string `json:"token"`
			} `json:"auth"`
		} `json:"gateway"`
	}

	if err := json.Unmarshal(data, &parsed); err != nil {
		cleaned := lineCommentRe.ReplaceAll(data, nil)
		cleaned = blockCommentRe.ReplaceAll(cleaned, nil)
		cleaned = trailingComma.ReplaceAll(cleaned, []byte("$1"))
		if err := json.Unmarshal(cleaned, &parsed); err != nil {
			return "", err
		}
	}

	if parsed.Gateway.Auth.Token == "" {
		return "", fmt.Errorf("no gateway token found")
	}
	return parsed.Gateway.Auth.Token, nil
}
