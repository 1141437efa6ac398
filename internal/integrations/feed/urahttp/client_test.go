package urahttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BearBump/CarparkFinder/internal/feederr"
	"github.com/BearBump/CarparkFinder/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memTokens struct {
	tok     *models.Token
	saves   int
	updates int
}

func (m *memTokens) FindToken(ctx context.Context) (*models.Token, error) {
	if m.tok == nil {
		return nil, nil
	}
	t := *m.tok
	return &t, nil
}

func (m *memTokens) SaveToken(ctx context.Context, value string, at time.Time) (*models.Token, error) {
	m.saves++
	m.tok = &models.Token{ID: 1, Value: value, CreatedAt: at, UpdatedAt: at}
	t := *m.tok
	return &t, nil
}

func (m *memTokens) UpdateToken(ctx context.Context, id int64, value string, at time.Time) error {
	m.updates++
	m.tok.Value = value
	m.tok.UpdatedAt = at
	return nil
}

const availabilityBody = `{
  "Status": "Success",
  "Message": "",
  "Result": [
    {"carparkNo":"A0004","lotsAvailable":"45","lotType":"C","geometries":[{"coordinates":"30478.4,32029.7"}]},
    {"carparkNo":"A0005","lotsAvailable":"0","lotType":"M","geometries":[{"coordinates":"30000.0,32000.0"}]}
  ]
}`

const informationBody = `{
  "Status": "Success",
  "Message": "",
  "Result": [
    {
      "ppCode":"A0004","ppName":"ALIWAL STREET","vehCat":"Car","parkingSystem":"C","parkCapacity":69,
      "startTime":"07.00 AM","endTime":"05.00 PM",
      "weekdayRate":"$0.50","weekdayMin":"30 mins","satdayRate":"$0.50","satdayMin":"30 mins",
      "sunPHRate":"$0.00","sunPHMin":"510 mins",
      "geometries":[{"coordinates":"30478.4,32029.7"}]
    }
  ]
}`

func newTestServer(t *testing.T, tokenCalls *atomic.Int32, data map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "key", r.Header.Get("AccessKey"))
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case tokenPath:
			tokenCalls.Add(1)
			_, _ = w.Write([]byte(`{"Status":"Success","Message":"","Result":"tok-1"}`))
		case dataPath:
			require.Equal(t, "tok-1", r.Header.Get("Token"))
			body, ok := data[r.URL.Query().Get("service")]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_, _ = w.Write([]byte(body))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestClient_FetchAvailability_OK(t *testing.T) {
	var tokenCalls atomic.Int32
	srv := newTestServer(t, &tokenCalls, map[string]string{serviceAvailability: availabilityBody})
	defer srv.Close()

	store := &memTokens{}
	c := New(srv.URL, "key", store).WithRateLimit(0, 0)
	recs, err := c.FetchAvailability(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, models.UpstreamAvailabilityRecord{
		CarParkNo: "A0004", LotsAvailable: 45, LotType: "C", Coordinates: "30478.4,32029.7",
	}, recs[0])
	require.Equal(t, 1, store.saves)

	// second call reuses the in-memory token
	_, err = c.FetchAvailability(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(1), tokenCalls.Load())
}

func TestClient_FetchInformation_Coerces(t *testing.T) {
	var tokenCalls atomic.Int32
	srv := newTestServer(t, &tokenCalls, map[string]string{serviceInformation: informationBody})
	defer srv.Close()

	c := New(srv.URL, "key", nil).WithRateLimit(0, 0)
	recs, err := c.FetchInformation(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)

	r := recs[0]
	require.Equal(t, "A0004", r.Code)
	require.Equal(t, models.VehicleCategoryCar, r.VehicleCategory)
	require.Equal(t, models.ParkingSystemCoupon, r.ParkingSystem)
	require.Equal(t, 69, r.Capacity)
	require.Equal(t, models.NewTimeOfDay(7, 0), r.StartTime)
	require.Equal(t, models.NewTimeOfDay(17, 0), r.EndTime)
	require.True(t, r.Weekday.Rate.Equal(decimal.RequireFromString("0.5")))
	require.Equal(t, 30, r.Weekday.MinMinutes)
	require.Equal(t, 510, r.SundayHoliday.MinMinutes)
	require.Equal(t, "30478.4,32029.7", r.Coordinates)
}

func TestClient_StoredTokenReusedWithinValidity(t *testing.T) {
	var tokenCalls atomic.Int32
	srv := newTestServer(t, &tokenCalls, map[string]string{serviceAvailability: availabilityBody})
	defer srv.Close()

	now := time.Date(2025, 1, 2, 12, 0, 0, 0, time.UTC)
	store := &memTokens{tok: &models.Token{ID: 1, Value: "tok-1", UpdatedAt: now.Add(-22 * time.Hour)}}
	c := New(srv.URL, "key", store).WithRateLimit(0, 0)
	c.now = func() time.Time { return now }

	_, err := c.FetchAvailability(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(0), tokenCalls.Load())
	require.Equal(t, 0, store.updates)
}

func TestClient_StaleStoredTokenRenewed(t *testing.T) {
	var tokenCalls atomic.Int32
	srv := newTestServer(t, &tokenCalls, map[string]string{serviceAvailability: availabilityBody})
	defer srv.Close()

	now := time.Date(2025, 1, 2, 12, 0, 0, 0, time.UTC)
	store := &memTokens{tok: &models.Token{ID: 1, Value: "old", UpdatedAt: now.Add(-23 * time.Hour)}}
	c := New(srv.URL, "key", store).WithRateLimit(0, 0)
	c.now = func() time.Time { return now }

	_, err := c.FetchAvailability(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(1), tokenCalls.Load())
	require.Equal(t, 1, store.updates)
	require.Equal(t, "tok-1", store.tok.Value)
	require.Equal(t, now, store.tok.UpdatedAt)
}

func TestClient_TokenIssuanceFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Status":"Failed","Message":"invalid access key","Result":""}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "key", nil).WithRateLimit(0, 0)
	_, err := c.FetchAvailability(context.Background())
	require.ErrorIs(t, err, feederr.ErrAuth)
	require.Contains(t, err.Error(), "invalid access key")
}

func TestClient_NonSuccessStatusIsRequestError(t *testing.T) {
	var tokenCalls atomic.Int32
	srv := newTestServer(t, &tokenCalls, map[string]string{
		serviceAvailability: `{"Status":"Error","Message":"quota exceeded","Result":[]}`,
	})
	defer srv.Close()

	c := New(srv.URL, "key", nil).WithRateLimit(0, 0)
	_, err := c.FetchAvailability(context.Background())
	require.ErrorIs(t, err, feederr.ErrRequest)
}

func TestClient_HTTPFailureIsRequestError(t *testing.T) {
	var tokenCalls atomic.Int32
	srv := newTestServer(t, &tokenCalls, map[string]string{})
	defer srv.Close()

	c := New(srv.URL, "key", nil).WithRateLimit(0, 0)
	_, err := c.FetchInformation(context.Background())
	require.ErrorIs(t, err, feederr.ErrRequest)
}

func TestClient_ValidationErrors(t *testing.T) {
	cases := map[string]struct {
		service string
		body    string
	}{
		"lots not numeric": {serviceAvailability, `{"Status":"Success","Result":[{"carparkNo":"A1","lotsAvailable":"many","lotType":"C","geometries":[{"coordinates":"1,2"}]}]}`},
		"lots wrong type":  {serviceAvailability, `{"Status":"Success","Result":[{"carparkNo":"A1","lotsAvailable":5,"lotType":"C","geometries":[{"coordinates":"1,2"}]}]}`},
		"no coordinates":   {serviceAvailability, `{"Status":"Success","Result":[{"carparkNo":"A1","lotsAvailable":"5","lotType":"C","geometries":[]}]}`},
		"bad rate":         {serviceInformation, `{"Status":"Success","Result":[{"ppCode":"A1","vehCat":"Car","parkingSystem":"C","parkCapacity":1,"startTime":"07.00 AM","endTime":"05.00 PM","weekdayRate":"free","weekdayMin":"30 mins","satdayRate":"$1","satdayMin":"30 mins","sunPHRate":"$1","sunPHMin":"30 mins"}]}`},
		"bad duration":     {serviceInformation, `{"Status":"Success","Result":[{"ppCode":"A1","vehCat":"Car","parkingSystem":"C","parkCapacity":1,"startTime":"07.00 AM","endTime":"05.00 PM","weekdayRate":"$1","weekdayMin":"half hour","satdayRate":"$1","satdayMin":"30 mins","sunPHRate":"$1","sunPHMin":"30 mins"}]}`},
		"unknown vehCat":   {serviceInformation, `{"Status":"Success","Result":[{"ppCode":"A1","vehCat":"Boat","parkingSystem":"C","parkCapacity":1,"startTime":"07.00 AM","endTime":"05.00 PM","weekdayRate":"$1","weekdayMin":"30 mins","satdayRate":"$1","satdayMin":"30 mins","sunPHRate":"$1","sunPHMin":"30 mins"}]}`},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			var tokenCalls atomic.Int32
			srv := newTestServer(t, &tokenCalls, map[string]string{tc.service: tc.body})
			defer srv.Close()

			c := New(srv.URL, "key", nil).WithRateLimit(0, 0)
			var err error
			if tc.service == serviceAvailability {
				_, err = c.FetchAvailability(context.Background())
			} else {
				_, err = c.FetchInformation(context.Background())
			}
			require.ErrorIs(t, err, feederr.ErrValidation)
		})
	}
}

func TestClient_UnauthorizedForcesRenewal(t *testing.T) {
	var tokenCalls, dataCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case tokenPath:
			tokenCalls.Add(1)
			_, _ = w.Write([]byte(`{"Status":"Success","Result":"tok"}`))
		case dataPath:
			if dataCalls.Add(1) == 1 {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(`{"Status":"Success","Result":[]}`))
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "key", nil).WithRateLimit(0, 0)
	_, err := c.FetchAvailability(context.Background())
	require.ErrorIs(t, err, feederr.ErrAuth)

	recs, err := c.FetchAvailability(context.Background())
	require.NoError(t, err)
	require.Empty(t, recs)
	require.Equal(t, int32(2), tokenCalls.Load())
}

func TestParseHelpers(t *testing.T) {
	d, err := parseRate("$1,020.50")
	require.NoError(t, err)
	require.True(t, d.Equal(decimal.RequireFromString("1020.5")))

	n, err := parseMinutes("30 mins")
	require.NoError(t, err)
	require.Equal(t, 30, n)

	tod, err := parseTimeOfDay("12.00 AM")
	require.NoError(t, err)
	require.Equal(t, models.TimeOfDay(0), tod)

	tod, err = parseTimeOfDay("10.30 PM")
	require.NoError(t, err)
	require.Equal(t, models.NewTimeOfDay(22, 30), tod)

	_, err = parseRate("")
	require.Error(t, err)
}
