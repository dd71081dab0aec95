// Package articleapi は記事サービスの内部APIを呼び出すクライアントを提供する。
// ワーカーのsagaステージから補償・状態遷移の呼び出しに使用する。
package articleapi

import (
	"context"
	"fmt"

	"github.com/nao1215/pubflow/pkg/httpclient"
)

// Client は記事サービスの内部APIクライアント。
type Client struct {
	http *httpclient.Client
}

// New は新しい内部APIクライアントを生成する。
// credentialは内部APIの静的トークン。
func New(baseURL, credential string) *Client {
	return &Client{
		http: httpclient.New(baseURL, httpclient.WithToken(credential)),
	}
}

// Reject は記事を却下状態にする。
func (c *Client) Reject(ctx context.Context, articleID, reason string) error {
	body := map[string]string{"reason": reason}
	return c.http.PostJSON(ctx, fmt.Sprintf("/internal/articles/%s/reject", articleID), body, nil)
}

// SetPreview は記事のプレビューURLを設定する。
func (c *Client) SetPreview(ctx context.Context, articleID, previewURL string) error {
	body := map[string]string{"preview_url": previewURL}
	return c.http.PutJSON(ctx, fmt.Sprintf("/internal/articles/%s/preview", articleID), body, nil)
}

// Publish は記事を公開状態にする。
func (c *Client) Publish(ctx context.Context, articleID string) error {
	return c.http.PostJSON(ctx, fmt.Sprintf("/internal/articles/%s/publish", articleID), map[string]string{}, nil)
}
