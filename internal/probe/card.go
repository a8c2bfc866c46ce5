package probe

import (
	"context"
	"fmt"

	"github.com/raysh454/permafind/internal/browser"
)

// Anchor is a link found inside the card.
type Anchor struct {
	Href     string `json:"href"`
	FullHref string `json:"fullHref"`
	Text     string `json:"text"`
}

// DataAttr lists the identifier-like attributes of one descendant. Absent
// attributes are nil.
type DataAttr struct {
	DataID        *string `json:"dataId"`
	DataBuildID   *string `json:"dataBuildId"`
	DataProjectID *string `json:"dataProjectId"`
	DataSlug      *string `json:"dataSlug"`
}

func (d DataAttr) String() string {
	show := func(p *string) string {
		if p == nil {
			return "-"
		}
		return *p
	}
	return fmt.Sprintf("data-id=%s data-build-id=%s data-project-id=%s data-slug=%s",
		show(d.DataID), show(d.DataBuildID), show(d.DataProjectID), show(d.DataSlug))
}

// CardInfo describes the ancestor element wrapping the project card.
type CardInfo struct {
	TagName   string            `json:"tagName"`
	ID        *string           `json:"id"`
	Dataset   map[string]string `json:"dataset"`
	Anchors   []Anchor          `json:"anchors"`
	DataAttrs []DataAttr        `json:"dataAttrs"`
}

// CardResult is Strategy B.
type CardResult struct {
	Attempted bool      `json:"attempted"`
	Card      *CardInfo `json:"card,omitempty"`
}

// InspectCard describes the card around cfg.TargetText. Card is nil when
// no element mentions the target.
func InspectCard(ctx context.Context, page browser.Page, cfg Config, revealed bool) (*CardResult, error) {
	res := &CardResult{}
	if !revealed {
		return res, nil
	}
	res.Attempted = true

	var info *CardInfo
	if err := page.Evaluate(ctx, CardInspectJS, &info, cfg.TargetText, cfg.AncestorLevels, cfg.AnchorTextLimit); err != nil {
		return res, fmt.Errorf("inspect card: %w", err)
	}
	res.Card = info
	return res, nil
}
