package urahttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/BearBump/CarparkFinder/internal/feederr"
	"github.com/BearBump/CarparkFinder/internal/integrations/feed"
	"github.com/BearBump/CarparkFinder/internal/models"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

const (
	tokenPath = "/insertNewToken/v1"
	dataPath  = "/invokeUraDS/v1"

	serviceAvailability = "Car_Park_Availability"
	serviceInformation  = "Car_Park_Details"

	statusSuccess = "Success"

	DefaultTokenValidity = 23 * time.Hour
)

type Client struct {
	baseURL   string
	accessKey string
	httpc     *http.Client
	tokens    feed.TokenStore
	limiter   *rate.Limiter

	tokenValidity time.Duration
	now           func() time.Time

	mu         sync.Mutex
	token      *models.Token
	forceRenew bool
}

// New builds a client. tokens may be nil, in which case the token lives only in memory.
func New(baseURL, accessKey string, tokens feed.TokenStore) *Client {
	if baseURL == "" {
		baseURL = "https://eservice.ura.gov.sg/uraDataService"
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		accessKey: accessKey,
		httpc: &http.Client{
			Timeout: 30 * time.Second,
		},
		tokens:        tokens,
		limiter:       rate.NewLimiter(rate.Limit(2), 1),
		tokenValidity: DefaultTokenValidity,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (c *Client) WithTimeout(d time.Duration) *Client {
	if d > 0 {
		c.httpc.Timeout = d
	}
	return c
}

func (c *Client) WithTokenValidity(d time.Duration) *Client {
	if d > 0 {
		c.tokenValidity = d
	}
	return c
}

// WithRateLimit spaces outgoing calls; perSecond <= 0 disables the limiter.
func (c *Client) WithRateLimit(perSecond float64, burst int) *Client {
	if perSecond <= 0 {
		c.limiter = nil
		return c
	}
	if burst <= 0 {
		burst = 1
	}
	c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	return c
}

// RateLimit reports the configured calls per second; 0 means unlimited.
func (c *Client) RateLimit() float64 {
	if c.limiter == nil {
		return 0
	}
	return float64(c.limiter.Limit())
}

type tokenResp struct {
	Status  string `json:"Status"`
	Message string `json:"Message"`
	Result  string `json:"Result"`
}

type dataResp struct {
	Status  string          `json:"Status"`
	Message string          `json:"Message"`
	Result  json.RawMessage `json:"Result"`
}

type geometry struct {
	Coordinates string `json:"coordinates"`
}

type availabilityItem struct {
	CarparkNo     string     `json:"carparkNo"`
	LotsAvailable string     `json:"lotsAvailable"`
	LotType       string     `json:"lotType"`
	Geometries    []geometry `json:"geometries"`
}

type informationItem struct {
	PPCode        string     `json:"ppCode"`
	PPName        string     `json:"ppName"`
	VehCat        string     `json:"vehCat"`
	ParkingSystem string     `json:"parkingSystem"`
	ParkCapacity  int        `json:"parkCapacity"`
	StartTime     string     `json:"startTime"`
	EndTime       string     `json:"endTime"`
	WeekdayRate   string     `json:"weekdayRate"`
	WeekdayMin    string     `json:"weekdayMin"`
	SatdayRate    string     `json:"satdayRate"`
	SatdayMin     string     `json:"satdayMin"`
	SunPHRate     string     `json:"sunPHRate"`
	SunPHMin      string     `json:"sunPHMin"`
	Geometries    []geometry `json:"geometries"`
}

// AcquireToken exchanges the static access key for a short-lived token.
func (c *Client) AcquireToken(ctx context.Context) (string, error) {
	resp, err := c.get(ctx, tokenPath, nil, "")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return "", feederr.Auth("issue token", fmt.Errorf("http %d", resp.StatusCode))
	}

	var tr tokenResp
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", feederr.Auth("issue token", errors.Wrap(err, "decode"))
	}
	if tr.Status != statusSuccess || tr.Result == "" {
		return "", feederr.Auth("issue token", fmt.Errorf("status=%s message=%s", tr.Status, tr.Message))
	}
	return tr.Result, nil
}

// EnsureToken returns a token younger than the validity window, issuing and
// persisting a new one when the held or stored token is too old.
func (c *Client) EnsureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if !c.forceRenew && c.fresh(c.token, now) {
		return c.token.Value, nil
	}

	var stored *models.Token
	if c.tokens != nil {
		t, err := c.tokens.FindToken(ctx)
		if err != nil {
			return "", feederr.Persistence("find token", err)
		}
		stored = t
		if !c.forceRenew && c.fresh(stored, now) {
			c.token = stored
			return stored.Value, nil
		}
	}

	value, err := c.AcquireToken(ctx)
	if err != nil {
		return "", err
	}

	issued := &models.Token{Value: value, CreatedAt: now, UpdatedAt: now}
	if c.tokens != nil {
		if stored == nil {
			saved, err := c.tokens.SaveToken(ctx, value, now)
			if err != nil {
				return "", feederr.Persistence("save token", err)
			}
			issued = saved
		} else {
			if err := c.tokens.UpdateToken(ctx, stored.ID, value, now); err != nil {
				return "", feederr.Persistence("update token", err)
			}
			issued.ID = stored.ID
			issued.CreatedAt = stored.CreatedAt
		}
	}
	c.token = issued
	c.forceRenew = false
	return value, nil
}

func (c *Client) fresh(t *models.Token, now time.Time) bool {
	return t != nil && t.Value != "" && now.Sub(t.UpdatedAt) < c.tokenValidity
}

func (c *Client) FetchAvailability(ctx context.Context) ([]models.UpstreamAvailabilityRecord, error) {
	raw, err := c.fetch(ctx, serviceAvailability)
	if err != nil {
		return nil, err
	}

	var items []availabilityItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, feederr.Validation("decode availability", err)
	}

	out := make([]models.UpstreamAvailabilityRecord, 0, len(items))
	for i, it := range items {
		if it.CarparkNo == "" {
			return nil, feederr.Validation("availability", fmt.Errorf("record %d: missing carparkNo", i))
		}
		lots, err := parseLots(it.LotsAvailable)
		if err != nil {
			return nil, feederr.Validation("availability", errors.Wrapf(err, "record %s", it.CarparkNo))
		}
		if it.LotType == "" {
			return nil, feederr.Validation("availability", fmt.Errorf("record %s: missing lotType", it.CarparkNo))
		}
		if len(it.Geometries) == 0 || it.Geometries[0].Coordinates == "" {
			return nil, feederr.Validation("availability", fmt.Errorf("record %s: missing coordinates", it.CarparkNo))
		}
		out = append(out, models.UpstreamAvailabilityRecord{
			CarParkNo:     it.CarparkNo,
			LotsAvailable: lots,
			LotType:       it.LotType,
			Coordinates:   it.Geometries[0].Coordinates,
		})
	}
	return out, nil
}

func (c *Client) FetchInformation(ctx context.Context) ([]models.UpstreamInformationRecord, error) {
	raw, err := c.fetch(ctx, serviceInformation)
	if err != nil {
		return nil, err
	}

	var items []informationItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, feederr.Validation("decode information", err)
	}

	out := make([]models.UpstreamInformationRecord, 0, len(items))
	for i, it := range items {
		rec, err := toInformationRecord(it)
		if err != nil {
			return nil, feederr.Validation("information", errors.Wrapf(err, "record %d (%s)", i, it.PPCode))
		}
		out = append(out, rec)
	}
	return out, nil
}

func toInformationRecord(it informationItem) (models.UpstreamInformationRecord, error) {
	if it.PPCode == "" {
		return models.UpstreamInformationRecord{}, errors.New("missing ppCode")
	}
	cat := models.VehicleCategory(it.VehCat)
	if !cat.Valid() {
		return models.UpstreamInformationRecord{}, errors.Errorf("unknown vehCat %q", it.VehCat)
	}
	sys := models.ParkingSystem(it.ParkingSystem)
	if !sys.Valid() {
		return models.UpstreamInformationRecord{}, errors.Errorf("unknown parkingSystem %q", it.ParkingSystem)
	}
	start, err := parseTimeOfDay(it.StartTime)
	if err != nil {
		return models.UpstreamInformationRecord{}, err
	}
	end, err := parseTimeOfDay(it.EndTime)
	if err != nil {
		return models.UpstreamInformationRecord{}, err
	}
	weekday, err := parseDayRate(it.WeekdayRate, it.WeekdayMin)
	if err != nil {
		return models.UpstreamInformationRecord{}, errors.Wrap(err, "weekday")
	}
	sat, err := parseDayRate(it.SatdayRate, it.SatdayMin)
	if err != nil {
		return models.UpstreamInformationRecord{}, errors.Wrap(err, "saturday")
	}
	sun, err := parseDayRate(it.SunPHRate, it.SunPHMin)
	if err != nil {
		return models.UpstreamInformationRecord{}, errors.Wrap(err, "sunday/ph")
	}

	coords := ""
	if len(it.Geometries) > 0 {
		coords = it.Geometries[0].Coordinates
	}
	return models.UpstreamInformationRecord{
		Code:            it.PPCode,
		Name:            it.PPName,
		VehicleCategory: cat,
		ParkingSystem:   sys,
		Capacity:        it.ParkCapacity,
		StartTime:       start,
		EndTime:         end,
		Weekday:         weekday,
		Saturday:        sat,
		SundayHoliday:   sun,
		Coordinates:     coords,
	}, nil
}

func (c *Client) fetch(ctx context.Context, service string) (json.RawMessage, error) {
	token, err := c.EnsureToken(ctx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, feederr.Auth(service, errors.New("no token held"))
	}

	q := url.Values{}
	q.Set("service", service)
	resp, err := c.get(ctx, dataPath, q, token)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		c.mu.Lock()
		c.forceRenew = true
		c.mu.Unlock()
		return nil, feederr.Auth(service, fmt.Errorf("http %d", resp.StatusCode))
	}
	if resp.StatusCode/100 != 2 {
		return nil, feederr.Request(service, fmt.Errorf("http %d", resp.StatusCode))
	}

	var dr dataResp
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return nil, feederr.Validation(service, errors.Wrap(err, "decode"))
	}
	if dr.Status != statusSuccess {
		return nil, feederr.Request(service, fmt.Errorf("status=%s message=%s", dr.Status, dr.Message))
	}
	if len(dr.Result) == 0 || string(dr.Result) == "null" {
		return json.RawMessage("[]"), nil
	}
	return dr.Result, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, token string) (*http.Response, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, feederr.Request(path, errors.Wrap(err, "parse base url"))
	}
	if q != nil {
		u.RawQuery = q.Encode()
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, feederr.Request(path, errors.Wrap(err, "rate limit wait"))
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, feederr.Request(path, errors.Wrap(err, "new request"))
	}
	req.Header.Set("AccessKey", c.accessKey)
	if token != "" {
		req.Header.Set("Token", token)
	}
	// Upstream rejects requests without a User-Agent.
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; CarparkFinder/1.0)")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, feederr.Request(path, errors.Wrap(err, "do request"))
	}
	return resp, nil
}
