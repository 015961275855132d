package cloudflare

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cloudflare/cloudflare-go"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/evanofslack/cf-edge-sync/internal/config"
	"github.com/evanofslack/cf-edge-sync/internal/metrics"
	"github.com/evanofslack/cf-edge-sync/internal/provider"
)

const recordsPerPage = 100

type CloudflareProvider struct {
	client  *cloudflare.API
	rest    *restClient
	metrics *metrics.Metrics

	mu    sync.Mutex
	zones map[string]string // Cache zone name to ID mapping
}

func New(cfg config.Cloudflare, zones []config.Zone, metrics *metrics.Metrics) (*CloudflareProvider, error) {
	token := cfg.Token
	if token == "" {
		return nil, fmt.Errorf("cloudflare API token required")
	}

	retrying := retryablehttp.NewClient()
	retrying.RetryMax = cfg.RetryMax()
	retrying.Logger = slog.Default()
	httpClient := retrying.StandardClient()

	client, err := cloudflare.NewWithAPIToken(token,
		cloudflare.BaseURL(cfg.BaseURL),
		cloudflare.UsingRetryPolicy(cfg.RetryMax(), 1, 30),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Cloudflare client: %w", err)
	}

	zoneCache := make(map[string]string)
	for _, zone := range zones {
		if zone.ID != "" {
			zoneCache[strings.ToLower(zone.Name)] = zone.ID
		}
	}

	return &CloudflareProvider{
		client:  client,
		rest:    newRESTClient(cfg.BaseURL, token, httpClient),
		metrics: metrics,
		zones:   zoneCache,
	}, nil
}

// zoneID resolves and caches the id of a zone by name.
func (p *CloudflareProvider) zoneID(zone string) (string, error) {
	key := strings.ToLower(zone)
	p.mu.Lock()
	defer p.mu.Unlock()
	if id, ok := p.zones[key]; ok {
		return id, nil
	}
	id, err := p.client.ZoneIDByName(zone)
	if err != nil {
		p.metrics.IncAPIRequest("zone", "read", false)
		return "", fmt.Errorf("failed to get zone ID for %s: %w", zone, err)
	}
	p.metrics.IncAPIRequest("zone", "read", true)
	p.zones[key] = id
	return id, nil
}

func (p *CloudflareProvider) GetRecords(ctx context.Context, zone string) ([]provider.Record, error) {
	slog.Debug("Getting DNS records", "zone", zone)
	start := time.Now()

	zoneID, err := p.zoneID(zone)
	if err != nil {
		return nil, err
	}

	var allRecords []cloudflare.DNSRecord
	page := 1
	for {
		rc := cloudflare.ZoneIdentifier(zoneID)
		params := cloudflare.ListDNSRecordsParams{
			ResultInfo: cloudflare.ResultInfo{
				Page:    page,
				PerPage: recordsPerPage,
			},
		}

		records, resultInfo, err := p.client.ListDNSRecords(ctx, rc, params)
		if err != nil {
			p.metrics.IncAPIRequest("dns", "read", false)
			return nil, fmt.Errorf("failed to list DNS records: %w", classify(err))
		}

		allRecords = append(allRecords, records...)
		if resultInfo == nil || page >= resultInfo.TotalPages {
			break
		}
		page++
	}

	result := make([]provider.Record, 0, len(allRecords))
	for _, r := range allRecords {
		result = append(result, fromDNSRecord(zone, r))
	}

	p.metrics.IncAPIRequest("dns", "read", true)
	slog.Debug("Retrieved DNS records", "zone", zone, "count", len(result), "duration", time.Since(start))
	return result, nil
}

func (p *CloudflareProvider) CreateRecord(ctx context.Context, zone string, record provider.Record) (provider.Record, error) {
	slog.Info("Creating DNS record", "zone", zone, "name", record.Name, "type", record.Type, "content", record.Content)
	start := time.Now()

	zoneID, err := p.zoneID(zone)
	if err != nil {
		return provider.Record{}, err
	}

	params := cloudflare.CreateDNSRecordParams{
		Type:     record.Type,
		Name:     record.Name,
		Content:  record.Content,
		TTL:      ttlSeconds(record),
		Proxied:  cloudflare.BoolPtr(record.Proxied),
		Priority: record.Priority,
		Comment:  record.Comment,
	}

	created, err := p.client.CreateDNSRecord(ctx, cloudflare.ZoneIdentifier(zoneID), params)
	if err != nil {
		p.metrics.IncAPIRequest("dns", "create", false)
		return provider.Record{}, fmt.Errorf("failed to create DNS record: %w", classify(err))
	}

	p.metrics.IncAPIRequest("dns", "create", true)
	slog.Debug("Created DNS record", "zone", zone, "name", record.Name, "type", record.Type, "id", created.ID, "duration", time.Since(start))
	return fromDNSRecord(zone, created), nil
}

func (p *CloudflareProvider) UpdateRecord(ctx context.Context, zone string, id string, record provider.Record) (provider.Record, error) {
	slog.Info("Updating DNS record", "zone", zone, "id", id, "name", record.Name, "type", record.Type, "content", record.Content)
	start := time.Now()

	zoneID, err := p.zoneID(zone)
	if err != nil {
		return provider.Record{}, err
	}

	params := cloudflare.UpdateDNSRecordParams{
		ID:       id,
		Type:     record.Type,
		Name:     record.Name,
		Content:  record.Content,
		TTL:      ttlSeconds(record),
		Proxied:  cloudflare.BoolPtr(record.Proxied),
		Priority: record.Priority,
		Comment:  cloudflare.StringPtr(record.Comment),
	}

	updated, err := p.client.UpdateDNSRecord(ctx, cloudflare.ZoneIdentifier(zoneID), params)
	if err != nil {
		p.metrics.IncAPIRequest("dns", "update", false)
		return provider.Record{}, fmt.Errorf("failed to update DNS record: %w", classify(err))
	}

	p.metrics.IncAPIRequest("dns", "update", true)
	slog.Debug("Updated DNS record", "zone", zone, "id", id, "duration", time.Since(start))
	return fromDNSRecord(zone, updated), nil
}

func (p *CloudflareProvider) DeleteRecord(ctx context.Context, zone string, id string) error {
	slog.Info("Deleting DNS record", "zone", zone, "id", id)
	start := time.Now()

	zoneID, err := p.zoneID(zone)
	if err != nil {
		return err
	}

	if err := p.client.DeleteDNSRecord(ctx, cloudflare.ZoneIdentifier(zoneID), id); err != nil {
		p.metrics.IncAPIRequest("dns", "delete", false)
		return fmt.Errorf("failed to delete DNS record: %w", classify(err))
	}

	p.metrics.IncAPIRequest("dns", "delete", true)
	slog.Debug("Deleted DNS record", "zone", zone, "id", id, "duration", time.Since(start))
	return nil
}

// ttlSeconds maps proxied records to automatic TTL.
func ttlSeconds(r provider.Record) int {
	if r.Proxied {
		return 1
	}
	return int(r.TTL.Seconds())
}

func fromDNSRecord(zone string, r cloudflare.DNSRecord) provider.Record {
	return provider.Record{
		ID:       r.ID,
		Name:     r.Name,
		Type:     r.Type,
		Content:  r.Content,
		Zone:     zone,
		TTL:      time.Duration(r.TTL) * time.Second,
		Proxied:  r.Proxied != nil && *r.Proxied,
		Priority: r.Priority,
		Comment:  r.Comment,
	}
}
