package demoserver

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Mode is how the site exposes a project's own address.
type Mode string

const (
	// ModeNone has no permalink at all: cards are plain markup, clicks do
	// nothing and every deep link falls back to the browse shell.
	ModeNone Mode = "none"
	// ModePushState opens /browse/{id} via history.pushState on card click.
	ModePushState Mode = "pushstate"
	// ModeAnchor wraps each card in a link to /build/{id}.
	ModeAnchor Mode = "anchor"
	// ModeShare adds a Share button that navigates to /project/{id}.
	ModeShare Mode = "share"
)

var Modes = []Mode{ModeNone, ModePushState, ModeAnchor, ModeShare}

func ParseMode(s string) (Mode, error) {
	for _, m := range Modes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// detailPrefix is the path under which mode serves project pages.
func (m Mode) detailPrefix() string {
	switch m {
	case ModePushState:
		return "/browse/"
	case ModeAnchor:
		return "/build/"
	case ModeShare:
		return "/project/"
	}
	return ""
}

// Build mirrors one record of the hackathon API, in its field order.
type Build struct {
	ID          string `json:"id"`
	ProjectName string `json:"project_name"`
	BuilderName string `json:"builder_name"`
	V0Username  string `json:"v0_username"`
	Description string `json:"description"`
	Category    string `json:"category"`
	VoteCount   int    `json:"vote_count"`
	ProjectURL  string `json:"project_url"`
	SocialProof string `json:"social_proof_url"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

// buildID is stable across restarts so probe URLs can be reused.
func buildID(username string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("demo-build:"+username)).String()
}

var target = Build{
	ProjectName: "NeuroVox",
	BuilderName: "Renan B.",
	V0Username:  "renan-b-eth",
	Description: "Cognitive voice companion built for the Eco-Ideiathon.",
	Category:    "AI",
	VoteCount:   42,
	ProjectURL:  "https://neurovox.example.com",
	SocialProof: "https://x.com/renan-b-eth/status/1",
	Status:      "submitted",
	CreatedAt:   "2026-02-14T18:03:00Z",
}

// seedBuilds returns fillers generated builds followed by the target.
func seedBuilds(fillers int) []Build {
	out := make([]Build, 0, fillers+1)
	for i := 1; i <= fillers; i++ {
		user := fmt.Sprintf("builder-%02d", i)
		out = append(out, Build{
			ID:          buildID(user),
			ProjectName: fmt.Sprintf("Project %02d", i),
			BuilderName: fmt.Sprintf("Builder %02d", i),
			V0Username:  user,
			Description: "A generated entry.",
			Category:    "Tools",
			VoteCount:   i,
			ProjectURL:  fmt.Sprintf("https://p%02d.example.com", i),
			Status:      "submitted",
			CreatedAt:   "2026-02-01T00:00:00Z",
		})
	}
	t := target
	t.ID = buildID(t.V0Username)
	return append(out, t)
}

// search matches builds whose username, builder or project name contains q.
func search(builds []Build, q string) []Build {
	q = strings.ToLower(strings.TrimSpace(q))
	out := []Build{}
	for _, b := range builds {
		if q == "" ||
			strings.Contains(strings.ToLower(b.V0Username), q) ||
			strings.Contains(strings.ToLower(b.BuilderName), q) ||
			strings.Contains(strings.ToLower(b.ProjectName), q) {
			out = append(out, b)
		}
	}
	return out
}
