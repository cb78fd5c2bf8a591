package adapter

import (
	"context"
	"fmt"
	"net/url"

	"eventix/internal/pkg/httpclient"
	"eventix/internal/pkg/logger"
	"eventix/internal/pkg/nacos"
	"eventix/internal/service/ticket/domain/port"
)

// CatalogHTTPAdapter 是 port.CatalogGateway 的 HTTP 实现。
// 优先使用固定的 baseURL，未配置时走 Nacos 服务发现。
// fail-open: 目录不可用时返回零容量的空元数据，由库存不足路径兜底拒绝，
// 绝不让目录故障把预订接口打挂。
type CatalogHTTPAdapter struct {
	client      *httpclient.Client
	baseURL     string
	nacosClient *nacos.Client // 可为 nil
	serviceName string
}

// catalogEventResponse 是目录服务的返回格式。
type catalogEventResponse struct {
	ID          string `json:"id"`
	Category    string `json:"category"`
	TicketTypes []struct {
		Name     string `json:"name"`
		Quantity int    `json:"quantity"`
	} `json:"ticketTypes"`
}

// NewCatalogHTTPAdapter 创建目录网关适配器。
func NewCatalogHTTPAdapter(client *httpclient.Client, baseURL string, nacosClient *nacos.Client, serviceName string) *CatalogHTTPAdapter {
	return &CatalogHTTPAdapter{
		client:      client,
		baseURL:     baseURL,
		nacosClient: nacosClient,
		serviceName: serviceName,
	}
}

// SetDiscovery 注入服务发现客户端。
// Nacos 客户端由启动框架创建，晚于适配器的组装，所以这里允许后置注入。
func (a *CatalogHTTPAdapter) SetDiscovery(c *nacos.Client) {
	a.nacosClient = c
}

// GetEventByID 查询活动元数据。任何失败都降级为空元数据并记录日志。
func (a *CatalogHTTPAdapter) GetEventByID(ctx context.Context, eventID string) port.EventInfo {
	base, err := a.resolveBaseURL()
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).
			Str("event_id", eventID).
			Msg("Failed to resolve catalog service, treating event as zero-capacity")
		return port.EventInfo{}
	}

	var resp catalogEventResponse
	reqURL := fmt.Sprintf("%s/events/%s", base, url.PathEscape(eventID))
	if err := a.client.GetJSON(ctx, reqURL, &resp); err != nil {
		logger.Ctx(ctx).Error().Err(err).
			Str("event_id", eventID).
			Msg("Catalog lookup failed, treating event as zero-capacity")
		return port.EventInfo{}
	}

	info := port.EventInfo{Category: resp.Category}
	for _, tt := range resp.TicketTypes {
		info.TicketTypes = append(info.TicketTypes, port.TicketType{Quantity: tt.Quantity})
	}
	return info
}

func (a *CatalogHTTPAdapter) resolveBaseURL() (string, error) {
	if a.baseURL != "" {
		return a.baseURL, nil
	}
	if a.nacosClient == nil {
		return "", fmt.Errorf("catalog base URL not configured and no discovery client available")
	}
	ip, p, err := a.nacosClient.DiscoverServiceInstance(a.serviceName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("http://%s:%d", ip, p), nil
}
