package syncer

import (
	"context"

	"github.com/user/magpie/internal/platform"
	"github.com/user/magpie/internal/types"
)

// PlatformSource adapts the platform API client to the PageSource
// interface.
type PlatformSource struct {
	client *platform.Client
}

// NewPlatformSource wraps a platform client as a page source.
func NewPlatformSource(client *platform.Client) *PlatformSource {
	return &PlatformSource{client: client}
}

func (p *PlatformSource) FetchPage(ctx context.Context, accountID types.AccountID, dataType, pageToken string) (*Page, error) {
	fetched, err := p.client.FetchPage(ctx, accountID, dataType, pageToken)
	if err != nil {
		return nil, err
	}
	page := &Page{NextToken: fetched.NextPageToken}
	for _, item := range fetched.Items {
		page.Items = append(page.Items, Item{ID: item.ID, CreatedAt: item.CreatedAt})
	}
	return page, nil
}
