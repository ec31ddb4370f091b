package utils

// MaskAPIKey masks a credential for display, showing only the first 3
// and last 3 characters. Short keys are fully masked.
func MaskAPIKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "***"
	}
	return key[:3] + "..." + key[len(key)-3:]
}
