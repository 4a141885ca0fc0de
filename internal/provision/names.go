package provision

import (
	"strings"
)

// storageAccountMaxLen is the Azure limit on storage account names.
const storageAccountMaxLen = 24

// SanitizeClientKey reduces a free-form business name to the identifier
// every resource name derives from: lowercase, alphanumeric runs joined by
// single hyphens. Returns "" when nothing usable remains.
func SanitizeClientKey(name string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

// RepoName is the client repository name for a client key.
func RepoName(clientKey string) string {
	return "site-" + clientKey
}

// ResourceGroupName names the per-environment resource group.
func ResourceGroupName(prefix, environment string) string {
	return prefix + "-" + environment + "-rg"
}

// StorageAccountName builds a valid storage account name from the prefix,
// environment and client key: lowercase alphanumerics only, truncated to
// the 24-character Azure limit.
func StorageAccountName(prefix, environment, clientKey string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(prefix + environment + clientKey) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	name := b.String()
	if len(name) > storageAccountMaxLen {
		name = name[:storageAccountMaxLen]
	}
	return name
}

// AppDisplayName names the AD application holding the deploy identity for
// one branch of the client repository.
func AppDisplayName(clientKey, branch string) string {
	return clientKey + "-deploy-" + branch
}
