package publish

import (
	"context"
	"fmt"
	"io"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkbitable "github.com/larksuite/oapi-sdk-go/v3/service/bitable/v1"
	larkdrive "github.com/larksuite/oapi-sdk-go/v3/service/drive/v1"
)

// bitableImage is the drive parent type for images attached to bitable cells.
const bitableImage = "bitable_image"

// LarkAPI implements TableAPI with the Feishu open platform SDK.
type LarkAPI struct {
	client *lark.Client
}

// NewLarkAPI builds a client that authenticates as an internal app.
func NewLarkAPI(appID, appSecret string, opts ...lark.ClientOptionFunc) *LarkAPI {
	return &LarkAPI{client: lark.NewClient(appID, appSecret, opts...)}
}

// ListTables returns one page of tables.
func (a *LarkAPI) ListTables(ctx context.Context, appToken, pageToken string, pageSize int) ([]Table, string, bool, error) {
	b := larkbitable.NewListAppTableReqBuilder().AppToken(appToken).PageSize(pageSize)
	if pageToken != "" {
		b = b.PageToken(pageToken)
	}
	resp, err := a.client.Bitable.V1.AppTable.List(ctx, b.Build())
	if err != nil {
		return nil, "", false, fmt.Errorf("list tables request: %w", err)
	}
	if !resp.Success() {
		return nil, "", false, fmt.Errorf("list tables: code=%d msg=%s", resp.Code, resp.Msg)
	}
	if resp.Data == nil {
		return nil, "", false, nil
	}

	tables := make([]Table, 0, len(resp.Data.Items))
	for _, item := range resp.Data.Items {
		if item == nil {
			continue
		}
		tables = append(tables, Table{ID: deref(item.TableId), Name: deref(item.Name)})
	}
	return tables, deref(resp.Data.PageToken), resp.Data.HasMore != nil && *resp.Data.HasMore, nil
}

// CreateRecord inserts one row and returns its record id.
func (a *LarkAPI) CreateRecord(ctx context.Context, appToken, tableID string, fields map[string]any) (string, error) {
	req := larkbitable.NewCreateAppTableRecordReqBuilder().
		AppToken(appToken).
		TableId(tableID).
		IgnoreConsistencyCheck(true).
		AppTableRecord(larkbitable.NewAppTableRecordBuilder().Fields(fields).Build()).
		Build()

	resp, err := a.client.Bitable.V1.AppTableRecord.Create(ctx, req)
	if err != nil {
		return "", fmt.Errorf("create record request: %w", err)
	}
	if !resp.Success() {
		return "", fmt.Errorf("create record: code=%d msg=%s", resp.Code, resp.Msg)
	}
	if resp.Data == nil || resp.Data.Record == nil {
		return "", nil
	}
	return deref(resp.Data.Record.RecordId), nil
}

// UploadImage stores an image for use in an attachment cell.
func (a *LarkAPI) UploadImage(ctx context.Context, appToken, fileName string, size int, body io.Reader) (string, error) {
	req := larkdrive.NewUploadAllMediaReqBuilder().
		Body(larkdrive.NewUploadAllMediaReqBodyBuilder().
			FileName(fileName).
			ParentType(bitableImage).
			ParentNode(appToken).
			Size(size).
			File(body).
			Build()).
		Build()

	resp, err := a.client.Drive.V1.Media.UploadAll(ctx, req)
	if err != nil {
		return "", fmt.Errorf("upload media request: %w", err)
	}
	if !resp.Success() {
		return "", fmt.Errorf("upload media: code=%d msg=%s", resp.Code, resp.Msg)
	}
	if resp.Data == nil {
		return "", fmt.Errorf("upload media: empty response")
	}
	return deref(resp.Data.FileToken), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
