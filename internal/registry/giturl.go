package registry

import (
	"net/url"
	"strings"

	apperrors "registry-auth/internal/common/errors"
)

// TeamRepo locates a repository on the source control host
type TeamRepo struct {
	Team string
	Repo string
}

// NormalizeGitURL rewrites git:// and scp-like git@host:path forms to https.
// URLs already carrying a scheme pass through untouched.
func NormalizeGitURL(raw string) string {
	switch {
	case strings.HasPrefix(raw, "git://"):
		return "https://" + strings.TrimPrefix(raw, "git://")
	case strings.HasPrefix(raw, "git@"):
		rest := strings.TrimPrefix(raw, "git@")
		rest = strings.Replace(rest, ":", "/", 1)
		return "https://" + rest
	}
	return raw
}

// SplitTeamRepo extracts (team, repo) from a repository URL: the path up to
// ".git" is split at its last separator, so the final segment is the repo and
// everything before it the team.
func SplitTeamRepo(raw string) (TeamRepo, error) {
	parsed, err := url.Parse(NormalizeGitURL(raw))
	if err != nil || parsed.Host == "" {
		return TeamRepo{}, apperrors.InvalidRepoURL(raw)
	}

	path := parsed.Path
	if idx := strings.Index(path, ".git"); idx >= 0 {
		path = path[:idx]
	}
	path = strings.TrimPrefix(path, "/")

	slash := strings.LastIndex(path, "/")
	if slash <= 0 || slash == len(path)-1 {
		return TeamRepo{}, apperrors.InvalidRepoURL(raw)
	}

	return TeamRepo{Team: path[:slash], Repo: path[slash+1:]}, nil
}
