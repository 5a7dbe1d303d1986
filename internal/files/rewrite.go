// Package files maps file references emitted by the annotation service to URLs
// served by the companion static file server.
package files

import "strings"

// localFilesPath is the query prefix the service uses for local storage files.
const localFilesPath = "/data/local-files/?d="

// Rewriter substitutes the service's local-files prefix with the file server host.
type Rewriter struct {
	internalPrefix string
	externalPrefix string
}

// NewRewriter builds a rewriter for the given service and file server hosts.
func NewRewriter(serviceHost, filesHost string) *Rewriter {
	serviceHost = strings.TrimRight(strings.TrimSpace(serviceHost), "/")
	filesHost = strings.TrimRight(strings.TrimSpace(filesHost), "/")
	return &Rewriter{
		internalPrefix: serviceHost + localFilesPath,
		externalPrefix: filesHost + "/",
	}
}

// ToExternal rewrites an internal file reference. URLs that do not carry the
// local-files prefix are returned unchanged.
func (r *Rewriter) ToExternal(url string) string {
	if r == nil || !strings.HasPrefix(url, r.internalPrefix) {
		return url
	}
	return r.externalPrefix + strings.TrimPrefix(url, r.internalPrefix)
}

// FileName strips the file server host from an external URL.
func (r *Rewriter) FileName(externalURL string) string {
	if r == nil {
		return externalURL
	}
	return strings.TrimPrefix(externalURL, r.externalPrefix)
}
