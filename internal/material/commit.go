package material

import (
	"strings"
)

// CreateGitCommitURL builds a browser link to revision for the repository at
// url. GitLab, GitHub and Azure hosts use /commit/<rev>, Bitbucket uses
// /commits/<rev>. Scp style ssh URLs (git@host:owner/repo.git) are rewritten
// to https. Anything else yields CommitURLUnavailable.
func CreateGitCommitURL(url, revision string) string {
	url = strings.TrimSpace(url)
	revision = strings.TrimSpace(revision)
	if url == "" || revision == "" {
		return CommitURLUnavailable
	}

	lower := strings.ToLower(url)
	switch {
	case strings.Contains(lower, "gitlab"),
		strings.Contains(lower, "github"),
		strings.Contains(lower, "azure"):
		base := repositoryBase(url)
		if base == "" {
			return CommitURLUnavailable
		}
		return base + "/commit/" + revision

	case strings.Contains(lower, "bitbucket"):
		owner, repo := ownerAndRepo(url)
		if owner == "" || repo == "" {
			return CommitURLUnavailable
		}
		return "https://bitbucket.org/" + owner + "/" + repo + "/commits/" + revision
	}

	return CommitURLUnavailable
}

// repositoryBase returns the https location of the repository without the
// .git suffix
func repositoryBase(url string) string {
	if i := strings.Index(url, "://"); i >= 0 {
		scheme, rest := url[:i], url[i+3:]
		// drop credentials
		if at := strings.LastIndex(rest, "@"); at >= 0 {
			rest = rest[at+1:]
		}
		if scheme == "ssh" || scheme == "git" {
			scheme = "https"
			rest = dropPort(rest)
		}
		return scheme + "://" + trimGitSuffix(rest)
	}

	// scp style: user@host:path
	rest := url
	if at := strings.Index(rest, "@"); at >= 0 {
		rest = rest[at+1:]
	}
	host, path, ok := strings.Cut(rest, ":")
	if !ok {
		return "https://" + trimGitSuffix(rest)
	}
	if host == "" || path == "" {
		return ""
	}
	return "https://" + host + "/" + trimGitSuffix(strings.TrimPrefix(path, "/"))
}

// ownerAndRepo extracts the last two path segments of a repository URL
func ownerAndRepo(url string) (string, string) {
	rest := url
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		rest = rest[at+1:]
	}
	rest = strings.Replace(rest, ":", "/", 1)
	segments := strings.FieldsFunc(trimGitSuffix(rest), func(r rune) bool { return r == '/' })
	if len(segments) < 3 {
		return "", ""
	}
	return segments[len(segments)-2], segments[len(segments)-1]
}

// dropPort removes a :port from the host part of host[:port]/path
func dropPort(rest string) string {
	hostPort, path, _ := strings.Cut(rest, "/")
	host, _, _ := strings.Cut(hostPort, ":")
	if path == "" {
		return host
	}
	return host + "/" + path
}

func trimGitSuffix(s string) string {
	s = strings.TrimRight(s, "/")
	return strings.TrimSuffix(s, ".git")
}
